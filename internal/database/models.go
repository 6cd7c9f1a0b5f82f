package database

import (
	"time"

	"github.com/oreon-chat/oreon/internal/types"
)

type User struct {
	Id           int
	Username     string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) ToType() types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         types.Role(u.Role),
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

type Room struct {
	Id          int
	Name        string
	ExternalId  string
	Description string
	SeqId       int
	OwnerId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func (r Room) ToType() types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		ExternalId:  r.ExternalId,
		Description: r.Description,
		SeqId:       r.SeqId,
		OwnerId:     r.OwnerId,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		DeletedAt:   r.DeletedAt,
	}
}

type Member struct {
	RoomId        int
	AccountId     int
	Username      string
	Role          string
	LastReadSeqId int
	JoinedAt      time.Time
}

func (m Member) ToType() types.Member {
	return types.Member{
		RoomId:        m.RoomId,
		UserId:        m.AccountId,
		Username:      m.Username,
		Role:          types.MemberRole(m.Role),
		LastReadSeqId: m.LastReadSeqId,
		JoinedAt:      m.JoinedAt,
	}
}

type Message struct {
	Id        int
	SeqId     int
	RoomId    int
	UserId    int
	Content   string
	CreatedAt time.Time
}

func (m Message) ToType() types.Message {
	return types.Message{
		Id:        m.Id,
		SeqId:     m.SeqId,
		RoomId:    m.RoomId,
		UserId:    m.UserId,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

type CreateUserParams struct {
	Username     string
	PasswordHash string
	Role         string
}

type UpdateUserParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	OwnerId     int
	ExternalId  string
}

type AppendMessageParams struct {
	RoomId    int
	UserId    int
	Content   string
	CreatedAt time.Time
}
