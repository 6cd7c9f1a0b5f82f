package types

import (
	"time"
)

type Role string

const (
	RoleMember    Role = "member"
	RoleSuperuser Role = "superuser"
)

func (r Role) Valid() bool {
	return r == RoleMember || r == RoleSuperuser
}

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// IsSuperuser reports whether u carries the elevated role.
func (u User) IsSuperuser() bool {
	return u.Role == RoleSuperuser
}

type Room struct {
	Id          int        `json:"id"`
	Name        string     `json:"name"`
	ExternalId  string     `json:"external_id"`
	Description string     `json:"description"`
	SeqId       int        `json:"seq_id"`
	OwnerId     int        `json:"owner_id"`
	Members     []Member   `json:"members,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func (r Room) Deleted() bool {
	return r.DeletedAt != nil
}

type Member struct {
	RoomId        int        `json:"room_id"`
	UserId        int        `json:"user_id"`
	Username      string     `json:"username"`
	Role          MemberRole `json:"role"`
	LastReadSeqId int        `json:"last_read_seq_id"`
	JoinedAt      time.Time  `json:"joined_at"`
}

type Message struct {
	Id        int       `json:"id,omitempty"`
	SeqId     int       `json:"seq_id"`
	RoomId    int       `json:"room_id"`
	UserId    int       `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
