package chat

import (
	"context"

	"github.com/oreon-chat/oreon/internal/types"
)

type EventKind string

const (
	EventMessage            EventKind = "message"
	EventSubscriptionChange EventKind = "subscription_change"
	EventRoomDeleted        EventKind = "room_deleted"
	EventOwnershipChange    EventKind = "ownership_change"
)

// Event is pushed to the live connections of room members after a change
// has been persisted.
type Event struct {
	Kind    EventKind
	RoomId  string
	Message *types.Message
	// UserId is the subject of a membership or ownership change.
	UserId int
	Joined bool
}

// Notifier delivers events to connected users. Notify must not block and
// delivery is best effort. skipConnId names a connection to leave out,
// usually the one the change came from.
type Notifier interface {
	Notify(userIds []int, ev Event, skipConnId string)
}

type NopNotifier struct{}

func (NopNotifier) Notify([]int, Event, string) {}

type originKey struct{}

// WithOrigin marks ctx as coming from connection connId, which is then
// skipped when the resulting event is broadcast.
func WithOrigin(ctx context.Context, connId string) context.Context {
	return context.WithValue(ctx, originKey{}, connId)
}

func Origin(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}
