package server

import (
	"github.com/oreon-chat/oreon/internal/chat"
	"github.com/oreon-chat/oreon/internal/stats"
	"github.com/rs/zerolog"
)

// Broadcaster delivers chat events to the registry's live connections.
type Broadcaster struct {
	registry *Registry
	stats    stats.StatsProvider
	log      zerolog.Logger
}

var _ chat.Notifier = (*Broadcaster)(nil)

func NewBroadcaster(registry *Registry, su stats.StatsProvider, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		stats:    su,
		log:      log,
	}
}

func (b *Broadcaster) Notify(userIds []int, ev chat.Event, skipConnId string) {
	msg := toServerMessage(ev)
	if msg == nil {
		return
	}

	for _, c := range b.registry.Connections(userIds...) {
		if c.Id() == skipConnId {
			continue
		}
		if !c.Send(msg) {
			b.stats.Incr(stats.DroppedEvents)
			b.log.Warn().Str("conn", c.Id()).Int("user_id", c.UserId()).Str("kind", string(ev.Kind)).Msg("dropped event for slow or closed connection")
		}
	}
}

func toServerMessage(ev chat.Event) *ServerMessage {
	msg := &ServerMessage{BaseMessage: BaseMessage{Timestamp: Now()}}

	switch ev.Kind {
	case chat.EventMessage:
		if ev.Message == nil {
			return nil
		}
		msg.Message = NewRoomMessage(ev.RoomId, *ev.Message)
	case chat.EventSubscriptionChange:
		msg.Notification = &Notification{SubscriptionChange: &SubscriptionChange{
			RoomId:     ev.RoomId,
			Subscribed: ev.Joined,
			UserId:     ev.UserId,
		}}
	case chat.EventRoomDeleted:
		msg.Notification = &Notification{RoomDeleted: &RoomDeleted{RoomId: ev.RoomId}}
	case chat.EventOwnershipChange:
		msg.Notification = &Notification{OwnershipChange: &OwnershipChange{
			RoomId:  ev.RoomId,
			OwnerId: ev.UserId,
		}}
	default:
		return nil
	}

	return msg
}
