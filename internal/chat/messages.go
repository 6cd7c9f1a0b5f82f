package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/types"
)

const (
	MaxMessageBytes     = 4096
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// MessageService persists messages in per-room sequence order and fans them
// out to connected members once they are stored.
type MessageService struct {
	rooms *RoomManager
	now   func() time.Time
}

func NewMessageService(rooms *RoomManager) *MessageService {
	return &MessageService{
		rooms: rooms,
		now:   time.Now,
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

// PostMessage stores body as the next message of the room and broadcasts it.
// The broadcast skips the connection named by Origin(ctx); it runs after the
// message is stored and cannot fail the call.
func (s *MessageService) PostMessage(ctx context.Context, acting types.User, roomId, body string) (types.Message, error) {
	if err := requireActive(acting); err != nil {
		return types.Message{}, err
	}
	if strings.TrimSpace(body) == "" || len(body) > MaxMessageBytes {
		return types.Message{}, fmt.Errorf("%w: message must be 1-%d bytes", types.ErrInvalidInput, MaxMessageBytes)
	}

	m := s.rooms
	r, err := m.liveRoom(ctx, roomId)
	if err != nil {
		return types.Message{}, err
	}

	msg, err := func() (database.Message, error) {
		unlock := m.locks.lock(r.Id)
		defer unlock()

		if _, ok, err := m.member(ctx, r.Id, acting.Id); err != nil {
			return database.Message{}, err
		} else if !ok {
			return database.Message{}, fmt.Errorf("%w: not a member of room %s", types.ErrForbidden, roomId)
		}

		// not retried: a lost commit acknowledgement would post twice
		var msg database.Message
		err := m.retry.Once(ctx, func(ctx context.Context) error {
			var err error
			msg, err = m.repo.AppendMessage(ctx, database.AppendMessageParams{
				RoomId:    r.Id,
				UserId:    acting.Id,
				Content:   body,
				CreatedAt: s.now().UTC(),
			})
			return err
		})
		if err != nil {
			return database.Message{}, fmt.Errorf("append message: %w", err)
		}
		return msg, nil
	}()
	if err != nil {
		return types.Message{}, err
	}

	out := msg.ToType()
	m.log.Debug().Str("room", roomId).Int("seq_id", out.SeqId).Int("user_id", acting.Id).Msg("message posted")
	m.notify.Notify(m.memberIds(ctx, r.Id), Event{
		Kind:    EventMessage,
		RoomId:  roomId,
		Message: &out,
	}, Origin(ctx))

	return out, nil
}

// historyRoom loads a room, deleted or not, and checks that acting is or was
// a member of it.
func (s *MessageService) historyRoom(ctx context.Context, acting types.User, roomId string) (database.Room, error) {
	if err := requireActive(acting); err != nil {
		return database.Room{}, err
	}

	m := s.rooms
	r, err := m.room(ctx, roomId)
	if err != nil {
		return database.Room{}, err
	}

	var was bool
	err = m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		was, err = m.repo.WasMember(ctx, r.Id, acting.Id)
		return err
	})
	if err != nil {
		return database.Room{}, fmt.Errorf("check membership: %w", err)
	}
	if !was {
		return database.Room{}, fmt.Errorf("%w: never a member of room %s", types.ErrForbidden, roomId)
	}

	return r, nil
}

// FetchHistory returns up to limit messages with a sequence number greater
// than since, in ascending order. Current and past members may read it,
// including after the room was deleted.
func (s *MessageService) FetchHistory(ctx context.Context, acting types.User, roomId string, since, limit int) ([]types.Message, error) {
	r, err := s.historyRoom(ctx, acting, roomId)
	if err != nil {
		return nil, err
	}

	return s.page(ctx, r.Id, since, limit)
}

func (s *MessageService) page(ctx context.Context, roomId, since, limit int) ([]types.Message, error) {
	if since < 0 {
		since = 0
	}
	limit = clampLimit(limit)

	var msgs []database.Message
	err := s.rooms.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.rooms.repo.GetMessages(ctx, roomId, since, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	out := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.ToType())
	}
	return out, nil
}

// History returns an iterator over the room's messages after since. Access
// is checked on the first call to Next.
func (s *MessageService) History(acting types.User, roomId string, since, pageSize int) *HistoryIterator {
	if since < 0 {
		since = 0
	}
	return &HistoryIterator{
		svc:      s,
		acting:   acting,
		roomId:   roomId,
		cursor:   since,
		pageSize: clampLimit(pageSize),
	}
}

// MarkRead records that acting has read the room up to seq. The stored
// cursor never moves backwards and never passes the room's last message.
func (s *MessageService) MarkRead(ctx context.Context, acting types.User, roomId string, seq int) (int, error) {
	if err := requireActive(acting); err != nil {
		return 0, err
	}

	m := s.rooms
	r, err := m.liveRoom(ctx, roomId)
	if err != nil {
		return 0, err
	}

	mem, ok, err := m.member(ctx, r.Id, acting.Id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: not a member of room %s", types.ErrForbidden, roomId)
	}

	seq = min(max(seq, mem.LastReadSeqId, 0), r.SeqId)
	if seq == mem.LastReadSeqId {
		return seq, nil
	}

	err = m.retry.Do(ctx, func(ctx context.Context) error {
		return m.repo.UpdateLastReadSeqId(ctx, r.Id, acting.Id, seq)
	})
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	return seq, nil
}

// HistoryIterator pages through a room's history lazily. Cursor is the last
// sequence number returned; a new iterator started from it resumes where
// this one stopped.
type HistoryIterator struct {
	svc      *MessageService
	acting   types.User
	roomId   string
	room     *database.Room
	cursor   int
	pageSize int

	buf []types.Message
	cur types.Message
	err error
}

// Next advances to the next message, fetching a page when the buffer is
// empty. Once it returns false, calling it again fetches messages posted
// since.
func (it *HistoryIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	if len(it.buf) == 0 {
		if it.room == nil {
			r, err := it.svc.historyRoom(ctx, it.acting, it.roomId)
			if err != nil {
				it.err = err
				return false
			}
			it.room = &r
		}

		page, err := it.svc.page(ctx, it.room.Id, it.cursor, it.pageSize)
		if err != nil {
			it.err = err
			return false
		}
		if len(page) == 0 {
			return false
		}
		it.buf = page
	}

	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	it.cursor = it.cur.SeqId
	return true
}

func (it *HistoryIterator) Message() types.Message {
	return it.cur
}

func (it *HistoryIterator) Err() error {
	return it.err
}

func (it *HistoryIterator) Cursor() int {
	return it.cursor
}
