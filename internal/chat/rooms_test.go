package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/testutil"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomManager_CreateRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)

	tcases := []struct {
		name        string
		acting      types.User
		roomName    string
		description string
		err         error
	}{
		{name: "valid", acting: alice, roomName: "general", description: "talk"},
		{name: "name is trimmed", acting: alice, roomName: "  lounge  "},
		{name: "empty name", acting: alice, roomName: "   ", err: types.ErrInvalidInput},
		{name: "long name", acting: alice, roomName: strings.Repeat("x", 65), err: types.ErrInvalidInput},
		{name: "long description", acting: alice, roomName: "ok", description: strings.Repeat("x", 257), err: types.ErrInvalidInput},
		{name: "inactive user", acting: types.User{Id: alice.Id, Active: false}, roomName: "general", err: types.ErrAccountDisabled},
		{name: "anonymous", acting: types.User{}, roomName: "general", err: types.ErrUnauthenticated},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			room, err := f.rooms.CreateRoom(ctx, tc.acting, tc.roomName, tc.description)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tc.roomName), room.Name)
			assert.NotEmpty(t, room.ExternalId, "expected an external id")
			assert.Equal(t, alice.Id, room.OwnerId)

			members, err := f.rooms.ListMembers(ctx, alice, room.ExternalId)
			assert.NoError(t, err)
			assert.Equal(t, []int{alice.Id}, owners(members), "expected creator to be the only owner")
		})
	}
}

func TestRoomManager_CreateRoom_idCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)

	calls := 0
	f.rooms.newId = func() (string, error) {
		calls++
		if calls <= 2 {
			return "taken", nil
		}
		return "fresh", nil
	}

	first, err := f.rooms.CreateRoom(ctx, alice, "one", "")
	require.NoError(t, err)
	assert.Equal(t, "taken", first.ExternalId)

	second, err := f.rooms.CreateRoom(ctx, alice, "two", "")
	assert.NoError(t, err, "expected a colliding id to be regenerated")
	assert.Equal(t, "fresh", second.ExternalId)
}

func TestRoomManager_DeleteRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)
	bob := f.user(t, "bob", types.RoleMember)
	admin := f.user(t, "admin", types.RoleSuperuser)

	t.Run("member cannot delete", func(t *testing.T) {
		room := f.room(t, alice, bob)
		assert.ErrorIs(t, f.rooms.DeleteRoom(ctx, bob, room.ExternalId), types.ErrForbidden)
	})

	t.Run("owner deletes", func(t *testing.T) {
		room := f.room(t, alice, bob)
		assert.NoError(t, f.rooms.DeleteRoom(WithOrigin(ctx, "conn-1"), alice, room.ExternalId))

		n := f.notifier.last()
		assert.Equal(t, EventRoomDeleted, n.ev.Kind)
		assert.ElementsMatch(t, []int{alice.Id, bob.Id}, n.userIds, "expected every member to be told")
		assert.Equal(t, "conn-1", n.skip)

		_, err := f.rooms.GetRoom(ctx, alice, room.ExternalId)
		assert.ErrorIs(t, err, types.ErrNotFound)

		rooms, err := f.rooms.ListRooms(ctx, bob)
		assert.NoError(t, err)
		for _, r := range rooms {
			assert.NotEqual(t, room.ExternalId, r.ExternalId, "expected deleted room to drop out of listings")
		}

		assert.ErrorIs(t, f.rooms.DeleteRoom(ctx, alice, room.ExternalId), types.ErrNotFound, "expected second delete to fail")
	})

	t.Run("superuser deletes", func(t *testing.T) {
		room := f.room(t, alice)
		assert.NoError(t, f.rooms.DeleteRoom(ctx, admin, room.ExternalId))
	})

	t.Run("unknown room", func(t *testing.T) {
		assert.ErrorIs(t, f.rooms.DeleteRoom(ctx, alice, "nope"), types.ErrNotFound)
	})
}

func TestRoomManager_AddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)
	bob := f.user(t, "bob", types.RoleMember)
	carol := f.user(t, "carol", types.RoleMember)
	admin := f.user(t, "admin", types.RoleSuperuser)
	dave := f.user(t, "dave", types.RoleMember)
	_, err := f.repo.SetUserActive(ctx, dave.Id, false)
	require.NoError(t, err)

	room := f.room(t, alice, bob)

	tcases := []struct {
		name   string
		acting types.User
		target int
		err    error
	}{
		{name: "member cannot add", acting: bob, target: carol.Id, err: types.ErrForbidden},
		{name: "duplicate", acting: alice, target: bob.Id, err: types.ErrAlreadyMember},
		{name: "unknown user", acting: alice, target: 999, err: types.ErrNotFound},
		{name: "inactive user", acting: alice, target: dave.Id, err: types.ErrAccountDisabled},
		{name: "owner adds", acting: alice, target: carol.Id},
		{name: "superuser adds", acting: admin, target: admin.Id},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := f.rooms.AddMember(ctx, tc.acting, room.ExternalId, tc.target)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.target, m.UserId)
			assert.Equal(t, types.MemberRoleMember, m.Role)

			n := f.notifier.last()
			assert.Equal(t, EventSubscriptionChange, n.ev.Kind)
			assert.True(t, n.ev.Joined)
			assert.Contains(t, n.userIds, tc.target)
		})
	}

	members, err := f.rooms.ListMembers(ctx, alice, room.ExternalId)
	require.NoError(t, err)
	assert.Len(t, members, 4, "expected no duplicate membership rows")
}

func TestRoomManager_RemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)
	bob := f.user(t, "bob", types.RoleMember)
	carol := f.user(t, "carol", types.RoleMember)
	admin := f.user(t, "admin", types.RoleSuperuser)

	room := f.room(t, alice, bob, carol)

	tcases := []struct {
		name   string
		acting types.User
		target int
		err    error
	}{
		{name: "member cannot remove another", acting: bob, target: carol.Id, err: types.ErrForbidden},
		{name: "owner cannot leave", acting: alice, target: alice.Id, err: types.ErrInvariantViolation},
		{name: "superuser cannot remove owner", acting: admin, target: alice.Id, err: types.ErrInvariantViolation},
		{name: "not a member", acting: alice, target: admin.Id, err: types.ErrNotFound},
		{name: "member leaves", acting: bob, target: bob.Id},
		{name: "owner removes", acting: alice, target: carol.Id},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.rooms.RemoveMember(ctx, tc.acting, room.ExternalId, tc.target)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)

			n := f.notifier.last()
			assert.Equal(t, EventSubscriptionChange, n.ev.Kind)
			assert.False(t, n.ev.Joined)
			assert.Contains(t, n.userIds, tc.target, "expected removed user to be told")
		})
	}

	members, err := f.rooms.ListMembers(ctx, alice, room.ExternalId)
	require.NoError(t, err)
	assert.Equal(t, []int{alice.Id}, owners(members))
	assert.Len(t, members, 1)
}

func TestRoomManager_TransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)
	bob := f.user(t, "bob", types.RoleMember)
	carol := f.user(t, "carol", types.RoleMember)
	admin := f.user(t, "admin", types.RoleSuperuser)

	room := f.room(t, alice, bob)

	assert.ErrorIs(t, f.rooms.TransferOwnership(ctx, bob, room.ExternalId, bob.Id), types.ErrForbidden, "expected member to be refused")
	assert.ErrorIs(t, f.rooms.TransferOwnership(ctx, admin, room.ExternalId, bob.Id), types.ErrForbidden, "expected superuser to be refused")
	assert.ErrorIs(t, f.rooms.TransferOwnership(ctx, alice, room.ExternalId, carol.Id), types.ErrNotFound, "expected non-member target to be refused")
	assert.ErrorIs(t, f.rooms.TransferOwnership(ctx, alice, room.ExternalId, alice.Id), types.ErrInvalidInput)

	require.NoError(t, f.rooms.TransferOwnership(ctx, alice, room.ExternalId, bob.Id))

	n := f.notifier.last()
	assert.Equal(t, EventOwnershipChange, n.ev.Kind)
	assert.Equal(t, bob.Id, n.ev.UserId)

	got, err := f.rooms.GetRoom(ctx, alice, room.ExternalId)
	require.NoError(t, err)
	assert.Equal(t, bob.Id, got.OwnerId)
	assert.Equal(t, []int{bob.Id}, owners(got.Members), "expected exactly one owner after transfer")

	assert.ErrorIs(t, f.rooms.TransferOwnership(ctx, alice, room.ExternalId, bob.Id), types.ErrForbidden, "expected former owner to lose the right to transfer")
	assert.ErrorIs(t, f.rooms.RemoveMember(ctx, bob, room.ExternalId, bob.Id), types.ErrInvariantViolation)
	assert.NoError(t, f.rooms.RemoveMember(ctx, bob, room.ExternalId, alice.Id), "expected new owner to remove the former owner")

	got, err = f.rooms.GetRoom(ctx, bob, room.ExternalId)
	require.NoError(t, err)
	assert.Len(t, got.Members, 1)
	assert.Equal(t, []int{bob.Id}, owners(got.Members))
}

// pausingRepo holds TransferOwnership until released, with the room lock
// taken by the caller.
type pausingRepo struct {
	*database.MemoryRepository
	entered chan struct{}
	release chan struct{}
}

func (r *pausingRepo) TransferOwnership(ctx context.Context, roomId, fromUserId, toUserId int) error {
	r.entered <- struct{}{}
	<-r.release
	return r.MemoryRepository.TransferOwnership(ctx, roomId, fromUserId, toUserId)
}

func lockHolders(l *roomLocks, roomId int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rl, ok := l.locks[roomId]; ok {
		return rl.refs
	}
	return 0
}

func TestRoomManager_queuedBehindTransfer(t *testing.T) {
	tcases := []struct {
		name string
		op   func(ctx context.Context, rooms *RoomManager, alice types.User, roomId string, carol, dave types.User) error
	}{
		{
			name: "remove member",
			op: func(ctx context.Context, rooms *RoomManager, alice types.User, roomId string, carol, dave types.User) error {
				return rooms.RemoveMember(ctx, alice, roomId, carol.Id)
			},
		},
		{
			name: "add member",
			op: func(ctx context.Context, rooms *RoomManager, alice types.User, roomId string, carol, dave types.User) error {
				_, err := rooms.AddMember(ctx, alice, roomId, dave.Id)
				return err
			},
		},
		{
			name: "delete room",
			op: func(ctx context.Context, rooms *RoomManager, alice types.User, roomId string, carol, dave types.User) error {
				return rooms.DeleteRoom(ctx, alice, roomId)
			},
		},
		{
			name: "transfer again",
			op: func(ctx context.Context, rooms *RoomManager, alice types.User, roomId string, carol, dave types.User) error {
				return rooms.TransferOwnership(ctx, alice, roomId, carol.Id)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			alice := f.user(t, "alice", types.RoleMember)
			bob := f.user(t, "bob", types.RoleMember)
			carol := f.user(t, "carol", types.RoleMember)
			dave := f.user(t, "dave", types.RoleMember)
			room := f.room(t, alice, bob, carol)

			repo := &pausingRepo{
				MemoryRepository: f.repo,
				entered:          make(chan struct{}, 1),
				release:          make(chan struct{}),
			}
			rooms := NewRoomManager(repo, f.rooms.retry, f.notifier, testutil.TestLogger(t))

			transferred := make(chan error, 1)
			go func() {
				transferred <- rooms.TransferOwnership(ctx, alice, room.ExternalId, bob.Id)
			}()
			<-repo.entered

			queued := make(chan error, 1)
			go func() {
				queued <- tc.op(ctx, rooms, alice, room.ExternalId, carol, dave)
			}()
			require.Eventually(t, func() bool {
				return lockHolders(rooms.locks, room.Id) == 2
			}, time.Second, time.Millisecond, "expected the second call to wait on the room lock")

			close(repo.release)
			require.NoError(t, <-transferred)
			assert.ErrorIs(t, <-queued, types.ErrForbidden, "expected the former owner to be refused")

			got, err := f.rooms.GetRoom(ctx, bob, room.ExternalId)
			require.NoError(t, err)
			assert.Equal(t, bob.Id, got.OwnerId)
			assert.Equal(t, []int{bob.Id}, owners(got.Members))
			assert.Len(t, got.Members, 3, "expected membership to be untouched")
		})
	}
}

func TestRoomManager_concurrentMembershipChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "admin", types.RoleSuperuser)

	users := make([]types.User, 6)
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("user%d", i), types.RoleMember)
	}
	room := f.room(t, users[0], users[1:]...)

	expected := []error{
		types.ErrForbidden,
		types.ErrNotFound,
		types.ErrAlreadyMember,
		types.ErrInvariantViolation,
		types.ErrInvalidInput,
	}
	check := func(err error) {
		if err == nil {
			return
		}
		for _, e := range expected {
			if errors.Is(err, e) {
				return
			}
		}
		t.Errorf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := len(users)
			for j := 0; j < 20; j++ {
				acting := users[(i+j)%n]
				check(f.rooms.TransferOwnership(ctx, acting, room.ExternalId, users[(i+j+1)%n].Id))
				check(f.rooms.RemoveMember(ctx, acting, room.ExternalId, users[(i+j+2)%n].Id))
				_, err := f.rooms.AddMember(ctx, acting, room.ExternalId, users[(i+j+2)%n].Id)
				check(err)
			}
		}(i)
	}
	wg.Wait()

	got, err := f.rooms.GetRoom(ctx, admin, room.ExternalId)
	require.NoError(t, err)
	assert.Equal(t, []int{got.OwnerId}, owners(got.Members), "expected exactly one owner, matching the room")
	assert.Equal(t, 0, f.rooms.locks.len(), "expected room locks to be released")
}

func TestRoomManager_GetRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)
	bob := f.user(t, "bob", types.RoleMember)
	admin := f.user(t, "admin", types.RoleSuperuser)

	room := f.room(t, alice)

	got, err := f.rooms.GetRoom(ctx, alice, room.ExternalId)
	assert.NoError(t, err)
	assert.Len(t, got.Members, 1)

	_, err = f.rooms.GetRoom(ctx, bob, room.ExternalId)
	assert.ErrorIs(t, err, types.ErrForbidden, "expected outsider to be refused")

	_, err = f.rooms.GetRoom(ctx, admin, room.ExternalId)
	assert.NoError(t, err, "expected superuser to see any room")

	_, err = f.rooms.GetRoom(ctx, alice, "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRoomManager_ListRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleMember)
	bob := f.user(t, "bob", types.RoleMember)

	f.room(t, alice)
	shared := f.room(t, alice, bob)

	rooms, err := f.rooms.ListRooms(ctx, alice)
	assert.NoError(t, err)
	assert.Len(t, rooms, 2)

	rooms, err = f.rooms.ListRooms(ctx, bob)
	assert.NoError(t, err)
	if assert.Len(t, rooms, 1) {
		assert.Equal(t, shared.ExternalId, rooms[0].ExternalId)
	}
}
