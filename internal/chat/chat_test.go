package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/testutil"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/stretchr/testify/require"
)

type notification struct {
	userIds []int
	ev      Event
	skip    string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) Notify(userIds []int, ev Event, skipConnId string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{userIds: userIds, ev: ev, skip: skipConnId})
}

func (n *recordingNotifier) last() notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) == 0 {
		return notification{}
	}
	return n.calls[len(n.calls)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	repo     *database.MemoryRepository
	notifier *recordingNotifier
	rooms    *RoomManager
	messages *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := database.NewMemoryRepository()
	notifier := &recordingNotifier{}
	retry := database.RetryPolicy{Attempts: 2, Timeout: time.Second, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	rooms := NewRoomManager(repo, retry, notifier, testutil.TestLogger(t))

	return &fixture{
		repo:     repo,
		notifier: notifier,
		rooms:    rooms,
		messages: NewMessageService(rooms),
	}
}

func (f *fixture) user(t *testing.T, username string, role types.Role) types.User {
	t.Helper()
	u, err := f.repo.CreateUser(context.Background(), database.CreateUserParams{
		Username:     username,
		PasswordHash: "x",
		Role:         string(role),
	})
	require.NoError(t, err)
	return u.ToType()
}

func (f *fixture) room(t *testing.T, owner types.User, members ...types.User) types.Room {
	t.Helper()
	ctx := context.Background()
	r, err := f.rooms.CreateRoom(ctx, owner, "general", "")
	require.NoError(t, err)
	for _, m := range members {
		_, err := f.rooms.AddMember(ctx, owner, r.ExternalId, m.Id)
		require.NoError(t, err)
	}
	return r
}

func owners(members []types.Member) []int {
	var ids []int
	for _, m := range members {
		if m.Role == types.MemberRoleOwner {
			ids = append(ids, m.UserId)
		}
	}
	return ids
}
