package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

var _ Repository = (*MockRepository)(nil)

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) SetUserRole(ctx context.Context, userId int, role string) (User, error) {
	args := m.Called(userId, role)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) SetUserActive(ctx context.Context, userId int, active bool) (User, error) {
	args := m.Called(userId, active)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CountSuperusers(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRepository) CreateMember(ctx context.Context, roomId, userId int) (Member, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) GetMember(ctx context.Context, roomId, userId int) (Member, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockRepository) ListMembers(ctx context.Context, roomId int) ([]Member, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Member), args.Error(1)
}
func (m *MockRepository) DeleteMember(ctx context.Context, roomId, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockRepository) WasMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) TransferOwnership(ctx context.Context, roomId, fromUserId, toUserId int) error {
	args := m.Called(roomId, fromUserId, toUserId)
	return args.Error(0)
}
func (m *MockRepository) UpdateLastReadSeqId(ctx context.Context, roomId, userId, seqId int) error {
	args := m.Called(roomId, userId, seqId)
	return args.Error(0)
}
func (m *MockRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(ctx context.Context, roomId, since, limit int) ([]Message, error) {
	args := m.Called(roomId, since, limit)
	return args.Get(0).([]Message), args.Error(1)
}
