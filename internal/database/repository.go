package database

import "context"

// Repository is the storage boundary of the chat core. Implementations must
// allocate message sequence numbers atomically per room and apply the
// multi-row writes (room creation, room deletion, ownership transfer,
// membership removal) as single transactions.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	UpdateUser(ctx context.Context, params UpdateUserParams) (User, error)
	SetUserRole(ctx context.Context, userId int, role string) (User, error)
	SetUserActive(ctx context.Context, userId int, active bool) (User, error)
	GetUserById(ctx context.Context, userId int) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CountSuperusers(ctx context.Context) (int, error)

	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomById(ctx context.Context, roomId int) (Room, error)
	GetRoomByExternalId(ctx context.Context, externalId string) (Room, error)
	DeleteRoom(ctx context.Context, roomId int) error
	ListRoomsForUser(ctx context.Context, userId int) ([]Room, error)

	CreateMember(ctx context.Context, roomId, userId int) (Member, error)
	GetMember(ctx context.Context, roomId, userId int) (Member, error)
	ListMembers(ctx context.Context, roomId int) ([]Member, error)
	DeleteMember(ctx context.Context, roomId, userId int) error
	WasMember(ctx context.Context, roomId, userId int) (bool, error)
	TransferOwnership(ctx context.Context, roomId, fromUserId, toUserId int) error
	UpdateLastReadSeqId(ctx context.Context, roomId, userId, seqId int) error

	AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error)
	GetMessages(ctx context.Context, roomId, since, limit int) ([]Message, error)
}
