package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	maxRoomNameLength        = 64
	maxRoomDescriptionLength = 256
	externalIdAttempts       = 3
)

// RoomManager owns rooms and their memberships. Rooms are addressed by their
// external id. Membership changes on one room are serialized.
type RoomManager struct {
	repo   database.Repository
	retry  database.RetryPolicy
	locks  *roomLocks
	notify Notifier
	log    zerolog.Logger
	newId  func() (string, error)
}

func NewRoomManager(repo database.Repository, retry database.RetryPolicy, notifier Notifier, log zerolog.Logger) *RoomManager {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &RoomManager{
		repo:   repo,
		retry:  retry,
		locks:  newRoomLocks(),
		notify: notifier,
		log:    log,
		newId:  shortid.Generate,
	}
}

func requireActive(acting types.User) error {
	if acting.Id == 0 {
		return types.ErrUnauthenticated
	}
	if !acting.Active {
		return fmt.Errorf("%w: user %d", types.ErrAccountDisabled, acting.Id)
	}
	return nil
}

func canManage(acting types.User, room database.Room) bool {
	return room.OwnerId == acting.Id || acting.IsSuperuser()
}

// room loads a room by external id, including deleted rooms.
func (m *RoomManager) room(ctx context.Context, externalId string) (database.Room, error) {
	if externalId == "" {
		return database.Room{}, fmt.Errorf("%w: room id is required", types.ErrInvalidInput)
	}

	var r database.Room
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		r, err = m.repo.GetRoomByExternalId(ctx, externalId)
		return err
	})
	if err != nil {
		return database.Room{}, fmt.Errorf("load room %s: %w", externalId, err)
	}

	return r, nil
}

func (m *RoomManager) liveRoom(ctx context.Context, externalId string) (database.Room, error) {
	r, err := m.room(ctx, externalId)
	if err != nil {
		return database.Room{}, err
	}
	if r.DeletedAt != nil {
		return database.Room{}, fmt.Errorf("%w: room %s was deleted", types.ErrNotFound, externalId)
	}
	return r, nil
}

// member returns the current membership of userId in roomId, or ok=false.
func (m *RoomManager) member(ctx context.Context, roomId, userId int) (database.Member, bool, error) {
	var mem database.Member
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		mem, err = m.repo.GetMember(ctx, roomId, userId)
		return err
	})
	if errors.Is(err, types.ErrNotFound) {
		return database.Member{}, false, nil
	}
	if err != nil {
		return database.Member{}, false, fmt.Errorf("load member: %w", err)
	}

	return mem, true, nil
}

func (m *RoomManager) memberIds(ctx context.Context, roomId int) []int {
	var members []database.Member
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		members, err = m.repo.ListMembers(ctx, roomId)
		return err
	})
	if err != nil {
		m.log.Warn().Err(err).Int("room_id", roomId).Msg("list members for notification")
		return nil
	}

	ids := make([]int, 0, len(members))
	for _, mem := range members {
		ids = append(ids, mem.AccountId)
	}
	return ids
}

func validateRoom(name, description string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLength {
		return "", fmt.Errorf("%w: room name must be 1-%d characters", types.ErrInvalidInput, maxRoomNameLength)
	}
	if utf8.RuneCountInString(description) > maxRoomDescriptionLength {
		return "", fmt.Errorf("%w: room description longer than %d characters", types.ErrInvalidInput, maxRoomDescriptionLength)
	}
	return name, nil
}

// CreateRoom creates a room owned by acting. The room and its owner
// membership are written together.
func (m *RoomManager) CreateRoom(ctx context.Context, acting types.User, name, description string) (types.Room, error) {
	if err := requireActive(acting); err != nil {
		return types.Room{}, err
	}

	name, err := validateRoom(name, description)
	if err != nil {
		return types.Room{}, err
	}

	var r database.Room
	for attempt := 0; attempt < externalIdAttempts; attempt++ {
		var sid string
		sid, err = m.newId()
		if err != nil {
			return types.Room{}, fmt.Errorf("generate room id: %w", err)
		}

		err = m.retry.Once(ctx, func(ctx context.Context) error {
			var err error
			r, err = m.repo.CreateRoom(ctx, database.CreateRoomParams{
				Name:        name,
				Description: description,
				OwnerId:     acting.Id,
				ExternalId:  sid,
			})
			return err
		})
		if !errors.Is(err, types.ErrAlreadyExists) {
			break
		}
	}
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	m.log.Info().Str("room", r.ExternalId).Int("owner_id", acting.Id).Msg("room created")

	room := r.ToType()
	room.Members = []types.Member{{
		RoomId:   r.Id,
		UserId:   acting.Id,
		Username: acting.Username,
		Role:     types.MemberRoleOwner,
		JoinedAt: r.CreatedAt,
	}}
	return room, nil
}

// lockRoom takes the room's lock and returns the room as it stands under
// it. Ownership checks must use this copy; a transfer may have committed
// while the caller waited.
func (m *RoomManager) lockRoom(ctx context.Context, externalId string) (database.Room, func(), error) {
	r, err := m.liveRoom(ctx, externalId)
	if err != nil {
		return database.Room{}, nil, err
	}

	unlock := m.locks.lock(r.Id)

	r, err = m.liveRoom(ctx, externalId)
	if err != nil {
		unlock()
		return database.Room{}, nil, err
	}

	return r, unlock, nil
}

// DeleteRoom logically deletes the room and ends every membership. Message
// history is kept.
func (m *RoomManager) DeleteRoom(ctx context.Context, acting types.User, roomId string) error {
	if err := requireActive(acting); err != nil {
		return err
	}

	r, unlock, err := m.lockRoom(ctx, roomId)
	if err != nil {
		return err
	}
	defer unlock()

	if !canManage(acting, r) {
		return fmt.Errorf("%w: only the owner or a superuser can delete room %s", types.ErrForbidden, roomId)
	}

	recipients := m.memberIds(ctx, r.Id)

	err = m.retry.DoReplayed(ctx, types.ErrNotFound, func(ctx context.Context) error {
		return m.repo.DeleteRoom(ctx, r.Id)
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	m.log.Info().Str("room", roomId).Int("by", acting.Id).Msg("room deleted")
	m.notify.Notify(recipients, Event{Kind: EventRoomDeleted, RoomId: roomId}, Origin(ctx))

	return nil
}

// AddMember adds targetUserId to the room. Only the owner or a superuser may
// add members.
func (m *RoomManager) AddMember(ctx context.Context, acting types.User, roomId string, targetUserId int) (types.Member, error) {
	if err := requireActive(acting); err != nil {
		return types.Member{}, err
	}

	r, unlock, err := m.lockRoom(ctx, roomId)
	if err != nil {
		return types.Member{}, err
	}
	defer unlock()

	if !canManage(acting, r) {
		return types.Member{}, fmt.Errorf("%w: only the owner or a superuser can add members to room %s", types.ErrForbidden, roomId)
	}

	var target database.User
	err = m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		target, err = m.repo.GetUserById(ctx, targetUserId)
		return err
	})
	if err != nil {
		return types.Member{}, fmt.Errorf("load user %d: %w", targetUserId, err)
	}
	if !target.Active {
		return types.Member{}, fmt.Errorf("%w: user %d", types.ErrAccountDisabled, targetUserId)
	}

	var mem database.Member
	err = m.retry.DoReplayed(ctx, types.ErrAlreadyMember, func(ctx context.Context) error {
		var err error
		mem, err = m.repo.CreateMember(ctx, r.Id, targetUserId)
		return err
	})
	if err != nil {
		return types.Member{}, fmt.Errorf("add member: %w", err)
	}
	if mem.AccountId == 0 {
		// applied by an attempt whose reply was lost
		var ok bool
		if mem, ok, err = m.member(ctx, r.Id, targetUserId); err != nil {
			return types.Member{}, err
		} else if !ok {
			return types.Member{}, fmt.Errorf("%w: membership of user %d in room %s vanished", types.ErrStorageUnavailable, targetUserId, roomId)
		}
	}
	mem.Username = target.Username

	m.log.Info().Str("room", roomId).Int("user_id", targetUserId).Int("by", acting.Id).Msg("member added")
	m.notify.Notify(m.memberIds(ctx, r.Id), Event{
		Kind:   EventSubscriptionChange,
		RoomId: roomId,
		UserId: targetUserId,
		Joined: true,
	}, Origin(ctx))

	return mem.ToType(), nil
}

// RemoveMember ends targetUserId's membership. The owner or a superuser can
// remove anyone but the owner; any member can remove themself.
func (m *RoomManager) RemoveMember(ctx context.Context, acting types.User, roomId string, targetUserId int) error {
	if err := requireActive(acting); err != nil {
		return err
	}

	r, unlock, err := m.lockRoom(ctx, roomId)
	if err != nil {
		return err
	}
	defer unlock()

	if !canManage(acting, r) && targetUserId != acting.Id {
		return fmt.Errorf("%w: cannot remove user %d from room %s", types.ErrForbidden, targetUserId, roomId)
	}

	mem, ok, err := m.member(ctx, r.Id, targetUserId)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d is not a member of room %s", types.ErrNotFound, targetUserId, roomId)
	}
	if mem.Role == string(types.MemberRoleOwner) {
		return fmt.Errorf("%w: the owner cannot leave room %s, transfer ownership first", types.ErrInvariantViolation, roomId)
	}

	err = m.retry.DoReplayed(ctx, types.ErrNotFound, func(ctx context.Context) error {
		return m.repo.DeleteMember(ctx, r.Id, targetUserId)
	})
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	m.log.Info().Str("room", roomId).Int("user_id", targetUserId).Int("by", acting.Id).Msg("member removed")
	recipients := append(m.memberIds(ctx, r.Id), targetUserId)
	m.notify.Notify(recipients, Event{
		Kind:   EventSubscriptionChange,
		RoomId: roomId,
		UserId: targetUserId,
		Joined: false,
	}, Origin(ctx))

	return nil
}

// TransferOwnership hands the room to newOwnerId, who must already be a
// member. Only the current owner can transfer.
func (m *RoomManager) TransferOwnership(ctx context.Context, acting types.User, roomId string, newOwnerId int) error {
	if err := requireActive(acting); err != nil {
		return err
	}

	r, unlock, err := m.lockRoom(ctx, roomId)
	if err != nil {
		return err
	}
	defer unlock()

	if r.OwnerId != acting.Id {
		return fmt.Errorf("%w: only the owner can transfer room %s", types.ErrForbidden, roomId)
	}
	if newOwnerId == acting.Id {
		return fmt.Errorf("%w: user %d already owns room %s", types.ErrInvalidInput, acting.Id, roomId)
	}

	if _, ok, err := m.member(ctx, r.Id, newOwnerId); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: user %d is not a member of room %s", types.ErrNotFound, newOwnerId, roomId)
	}

	// Under the lock the owner was verified above, so a replay refused with
	// an invariant violation means an earlier attempt moved ownership.
	err = m.retry.DoReplayed(ctx, types.ErrInvariantViolation, func(ctx context.Context) error {
		return m.repo.TransferOwnership(ctx, r.Id, acting.Id, newOwnerId)
	})
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}

	m.log.Info().Str("room", roomId).Int("from", acting.Id).Int("to", newOwnerId).Msg("ownership transferred")
	m.notify.Notify(m.memberIds(ctx, r.Id), Event{
		Kind:   EventOwnershipChange,
		RoomId: roomId,
		UserId: newOwnerId,
	}, Origin(ctx))

	return nil
}

// GetRoom returns a live room with its members. Only members and superusers
// can see it.
func (m *RoomManager) GetRoom(ctx context.Context, acting types.User, roomId string) (types.Room, error) {
	if err := requireActive(acting); err != nil {
		return types.Room{}, err
	}

	r, err := m.liveRoom(ctx, roomId)
	if err != nil {
		return types.Room{}, err
	}

	members, err := m.listMembers(ctx, acting, r)
	if err != nil {
		return types.Room{}, err
	}

	room := r.ToType()
	room.Members = members
	return room, nil
}

func (m *RoomManager) ListMembers(ctx context.Context, acting types.User, roomId string) ([]types.Member, error) {
	if err := requireActive(acting); err != nil {
		return nil, err
	}

	r, err := m.liveRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}

	return m.listMembers(ctx, acting, r)
}

func (m *RoomManager) listMembers(ctx context.Context, acting types.User, r database.Room) ([]types.Member, error) {
	var members []database.Member
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		members, err = m.repo.ListMembers(ctx, r.Id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	out := make([]types.Member, 0, len(members))
	visible := acting.IsSuperuser()
	for _, mem := range members {
		if mem.AccountId == acting.Id {
			visible = true
		}
		out = append(out, mem.ToType())
	}
	if !visible {
		return nil, fmt.Errorf("%w: not a member of room %s", types.ErrForbidden, r.ExternalId)
	}

	return out, nil
}

// ListRooms returns the live rooms acting belongs to.
func (m *RoomManager) ListRooms(ctx context.Context, acting types.User) ([]types.Room, error) {
	if err := requireActive(acting); err != nil {
		return nil, err
	}

	var rooms []database.Room
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		rooms, err = m.repo.ListRoomsForUser(ctx, acting.Id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	out := make([]types.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.ToType())
	}
	return out, nil
}
