package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/oreon-chat/oreon/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame received from a websocket client. Exactly one of
// the action fields is set.
type ClientMessage struct {
	BaseMessage
	Publish *Publish `json:"publish,omitempty"`
	Read    *Read    `json:"read,omitempty"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Read struct {
	RoomId string `json:"room_id"`
	SeqId  int    `json:"seq_id"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Message      *RoomMessage  `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// RoomMessage is a chat message as delivered to clients, addressed by the
// room's external id.
type RoomMessage struct {
	RoomId    string    `json:"room_id"`
	SeqId     int       `json:"seq_id"`
	UserId    int       `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRoomMessage(roomId string, msg types.Message) *RoomMessage {
	return &RoomMessage{
		RoomId:    roomId,
		SeqId:     msg.SeqId,
		UserId:    msg.UserId,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}

type Notification struct {
	SubscriptionChange *SubscriptionChange `json:"subscription_change,omitempty"`
	RoomDeleted        *RoomDeleted        `json:"room_deleted,omitempty"`
	OwnershipChange    *OwnershipChange    `json:"ownership_change,omitempty"`
}

type SubscriptionChange struct {
	RoomId     string `json:"room_id"`
	Subscribed bool   `json:"subscribed"`
	UserId     int    `json:"user_id"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type OwnershipChange struct {
	RoomId  string `json:"room_id"`
	OwnerId int    `json:"owner_id"`
}

func response(id, code int, errMsg string, data any) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NoErrOK(id int, data any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return response(id, http.StatusAccepted, "", data)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "invalid message format", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return response(id, http.StatusTooManyRequests, "too many requests", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

// ErrFromError maps an error kind onto a response frame.
func ErrFromError(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return response(id, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, types.ErrUnauthenticated):
		return response(id, http.StatusUnauthorized, "unauthorized", nil)
	case errors.Is(err, types.ErrAccountDisabled):
		return response(id, http.StatusForbidden, "account disabled", nil)
	case errors.Is(err, types.ErrForbidden):
		return response(id, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, types.ErrNotFound):
		return response(id, http.StatusNotFound, "room not found", nil)
	case errors.Is(err, types.ErrStorageUnavailable):
		return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
	default:
		return ErrInternalError(id)
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
