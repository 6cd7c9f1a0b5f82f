package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oreon-chat/oreon/internal/types"
)

type memberKey struct {
	roomId int
	userId int
}

// MemoryRepository implements Repository in process memory. A single mutex
// makes every multi-row write atomic.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[int]User
	rooms    map[int]Room
	members  map[memberKey]Member
	former   map[memberKey]time.Time
	messages map[int][]Message
	lastId   struct{ user, room, message int }
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[int]User),
		rooms:    make(map[int]Room),
		members:  make(map[memberKey]Member),
		former:   make(map[memberKey]time.Time),
		messages: make(map[int][]Message),
	}
}

func (s *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usernameTaken(params.Username, 0) {
		return User{}, fmt.Errorf("%w: username %q", types.ErrAlreadyExists, params.Username)
	}

	s.lastId.user++
	now := time.Now().UTC()
	u := User{
		Id:           s.lastId.user,
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.Id] = u

	return u, nil
}

func (s *MemoryRepository) usernameTaken(username string, exceptId int) bool {
	for _, u := range s.users {
		if u.Username == username && u.Id != exceptId {
			return true
		}
	}
	return false
}

func (s *MemoryRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[params.UserId]
	if !ok {
		return User{}, types.ErrNotFound
	}
	if s.usernameTaken(params.Username, u.Id) {
		return User{}, fmt.Errorf("%w: username %q", types.ErrAlreadyExists, params.Username)
	}

	u.Username = params.Username
	u.PasswordHash = params.PasswordHash
	u.UpdatedAt = time.Now().UTC()
	s.users[u.Id] = u

	return u, nil
}

func (s *MemoryRepository) SetUserRole(ctx context.Context, userId int, role string) (User, error) {
	return s.updateUser(userId, func(u *User) { u.Role = role })
}

func (s *MemoryRepository) SetUserActive(ctx context.Context, userId int, active bool) (User, error) {
	return s.updateUser(userId, func(u *User) { u.Active = active })
}

func (s *MemoryRepository) updateUser(userId int, fn func(u *User)) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userId]
	if !ok {
		return User{}, types.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[userId] = u

	return u, nil
}

func (s *MemoryRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userId]
	if !ok {
		return User{}, types.ErrNotFound
	}
	return u, nil
}

func (s *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, types.ErrNotFound
}

func (s *MemoryRepository) CountSuperusers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, u := range s.users {
		if u.Role == string(types.RoleSuperuser) && u.Active {
			n++
		}
	}
	return n, nil
}

func (s *MemoryRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[params.OwnerId]; !ok {
		return Room{}, types.ErrNotFound
	}
	for _, r := range s.rooms {
		if r.ExternalId == params.ExternalId {
			return Room{}, fmt.Errorf("%w: room %q", types.ErrAlreadyExists, params.ExternalId)
		}
	}

	s.lastId.room++
	now := time.Now().UTC()
	room := Room{
		Id:          s.lastId.room,
		Name:        params.Name,
		ExternalId:  params.ExternalId,
		Description: params.Description,
		OwnerId:     params.OwnerId,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.rooms[room.Id] = room
	s.members[memberKey{room.Id, params.OwnerId}] = Member{
		RoomId:    room.Id,
		AccountId: params.OwnerId,
		Role:      string(types.MemberRoleOwner),
		JoinedAt:  now,
	}

	return room, nil
}

func (s *MemoryRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomId]
	if !ok {
		return Room{}, types.ErrNotFound
	}
	return r, nil
}

func (s *MemoryRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rooms {
		if r.ExternalId == externalId {
			return r, nil
		}
	}
	return Room{}, types.ErrNotFound
}

func (s *MemoryRepository) DeleteRoom(ctx context.Context, roomId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok || r.DeletedAt != nil {
		return types.ErrNotFound
	}

	now := time.Now().UTC()
	r.DeletedAt = &now
	r.UpdatedAt = now
	s.rooms[roomId] = r

	for k := range s.members {
		if k.roomId == roomId {
			delete(s.members, k)
			s.former[k] = now
		}
	}

	return nil
}

func (s *MemoryRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]Room, 0)
	for k := range s.members {
		if k.userId != userId {
			continue
		}
		if r, ok := s.rooms[k.roomId]; ok && r.DeletedAt == nil {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Id < rooms[j].Id })

	return rooms, nil
}

func (s *MemoryRepository) CreateMember(ctx context.Context, roomId, userId int) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok || r.DeletedAt != nil {
		return Member{}, types.ErrNotFound
	}
	if _, ok := s.users[userId]; !ok {
		return Member{}, types.ErrNotFound
	}

	key := memberKey{roomId, userId}
	if _, ok := s.members[key]; ok {
		return Member{}, fmt.Errorf("%w: user %d in room %d", types.ErrAlreadyMember, userId, roomId)
	}

	m := Member{
		RoomId:    roomId,
		AccountId: userId,
		Role:      string(types.MemberRoleMember),
		JoinedAt:  time.Now().UTC(),
	}
	s.members[key] = m

	return m, nil
}

func (s *MemoryRepository) GetMember(ctx context.Context, roomId, userId int) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberKey{roomId, userId}]
	if !ok {
		return Member{}, types.ErrNotFound
	}
	m.Username = s.users[userId].Username
	return m, nil
}

func (s *MemoryRepository) ListMembers(ctx context.Context, roomId int) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]Member, 0)
	for k, m := range s.members {
		if k.roomId != roomId {
			continue
		}
		m.Username = s.users[k.userId].Username
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].AccountId < members[j].AccountId
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})

	return members, nil
}

func (s *MemoryRepository) DeleteMember(ctx context.Context, roomId, userId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{roomId, userId}
	m, ok := s.members[key]
	if !ok {
		return types.ErrNotFound
	}
	if m.Role == string(types.MemberRoleOwner) {
		return fmt.Errorf("%w: room %d would be left without an owner", types.ErrInvariantViolation, roomId)
	}

	delete(s.members, key)
	s.former[key] = time.Now().UTC()

	return nil
}

func (s *MemoryRepository) WasMember(ctx context.Context, roomId, userId int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := memberKey{roomId, userId}
	_, current := s.members[key]
	_, past := s.former[key]

	return current || past, nil
}

func (s *MemoryRepository) TransferOwnership(ctx context.Context, roomId, fromUserId, toUserId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomId]
	if !ok || r.DeletedAt != nil {
		return types.ErrNotFound
	}
	if r.OwnerId != fromUserId {
		return fmt.Errorf("%w: user %d does not own room %d", types.ErrInvariantViolation, fromUserId, roomId)
	}

	fromKey, toKey := memberKey{roomId, fromUserId}, memberKey{roomId, toUserId}
	from, ok := s.members[fromKey]
	if !ok || from.Role != string(types.MemberRoleOwner) {
		return fmt.Errorf("%w: owner membership missing for room %d", types.ErrInvariantViolation, roomId)
	}
	to, ok := s.members[toKey]
	if !ok {
		return types.ErrNotFound
	}

	from.Role = string(types.MemberRoleMember)
	to.Role = string(types.MemberRoleOwner)
	s.members[fromKey] = from
	s.members[toKey] = to

	r.OwnerId = toUserId
	r.UpdatedAt = time.Now().UTC()
	s.rooms[roomId] = r

	return nil
}

func (s *MemoryRepository) UpdateLastReadSeqId(ctx context.Context, roomId, userId, seqId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{roomId, userId}
	m, ok := s.members[key]
	if !ok {
		return types.ErrNotFound
	}
	m.LastReadSeqId = seqId
	s.members[key] = m

	return nil
}

func (s *MemoryRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[params.RoomId]
	if !ok || r.DeletedAt != nil {
		return Message{}, types.ErrNotFound
	}

	r.SeqId++
	r.UpdatedAt = params.CreatedAt
	s.rooms[r.Id] = r

	s.lastId.message++
	msg := Message{
		Id:        s.lastId.message,
		SeqId:     r.SeqId,
		RoomId:    r.Id,
		UserId:    params.UserId,
		Content:   params.Content,
		CreatedAt: params.CreatedAt,
	}
	s.messages[r.Id] = append(s.messages[r.Id], msg)

	return msg, nil
}

func (s *MemoryRepository) GetMessages(ctx context.Context, roomId, since, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomId]
	// messages are stored in sequence order, so seq n lives at index n-1
	start := since
	if start < 0 {
		start = 0
	}
	if start >= len(all) {
		return []Message{}, nil
	}

	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]Message, end-start)
	copy(out, all[start:end])

	return out, nil
}
