package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/server"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name         string
		mockErr      error
		expectedCode int
	}{
		{name: "successful health check", expectedCode: http.StatusOK},
		{name: "failed health check", mockErr: types.ErrStorageUnavailable, expectedCode: http.StatusServiceUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			a := newTestApp(t)
			a.app.repo = mockRepo

			rr := httptest.NewRecorder()
			a.app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestRoomsAndMessages(t *testing.T) {
	a := newTestApp(t)
	aliceId, alice := a.signup(t, "alice")
	bobId, bob := a.signup(t, "bob")
	_, carol := a.signup(t, "carol")

	rr := a.do(t, http.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "general", Description: "talk"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	room := decodeBody[types.Room](t, rr)
	assert.Equal(t, aliceId, room.OwnerId)

	rr = a.do(t, http.MethodPost, "/api/messages", alice, PostMessageRequest{RoomId: room.ExternalId, Content: "hi"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 1, decodeBody[types.Message](t, rr).SeqId)

	rr = a.do(t, http.MethodPost, "/api/rooms/members", bob, MemberRequest{RoomId: room.ExternalId, UserId: bobId})
	assert.Equal(t, http.StatusForbidden, rr.Code, "expected a member to be unable to add themselves")

	rr = a.do(t, http.MethodPost, "/api/rooms/members", alice, MemberRequest{RoomId: room.ExternalId, UserId: bobId})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/rooms/members", alice, MemberRequest{RoomId: room.ExternalId, UserId: bobId})
	assert.Equal(t, http.StatusConflict, rr.Code, "expected a second add to be refused")

	rr = a.do(t, http.MethodPost, "/api/messages", bob, PostMessageRequest{RoomId: room.ExternalId, Content: "hello"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodGet, "/api/messages?room_id="+room.ExternalId+"&since=0&limit=10", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	msgs := decodeBody[[]types.Message](t, rr)
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "hi", msgs[0].Content)
		assert.Equal(t, aliceId, msgs[0].UserId)
		assert.Equal(t, "hello", msgs[1].Content)
		assert.Equal(t, bobId, msgs[1].UserId)
	}

	rr = a.do(t, http.MethodGet, "/api/messages?room_id="+room.ExternalId, carol, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code, "expected outsider to be refused history")

	rr = a.do(t, http.MethodGet, "/api/messages?room_id="+room.ExternalId+"&since=x", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/messages/read", bob, MarkReadRequest{RoomId: room.ExternalId, SeqId: 5})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decodeBody[MarkReadRequest](t, rr).SeqId, "expected read cursor to be clamped")

	rr = a.do(t, http.MethodGet, "/api/rooms?id="+room.ExternalId, bob, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[types.Room](t, rr).Members, 2)

	rr = a.do(t, http.MethodGet, "/api/rooms/mine", bob, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]types.Room](t, rr), 1)

	rr = a.do(t, http.MethodDelete, fmt.Sprintf("/api/rooms/members?room_id=%s&user_id=%d", room.ExternalId, aliceId), alice, nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "expected the owner to be unable to leave")

	rr = a.do(t, http.MethodPost, "/api/rooms/owner", alice, MemberRequest{RoomId: room.ExternalId, UserId: bobId})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodDelete, fmt.Sprintf("/api/rooms/members?room_id=%s&user_id=%d", room.ExternalId, aliceId), alice, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code, "expected the former owner to be free to leave")

	rr = a.do(t, http.MethodDelete, "/api/rooms/members?room_id="+room.ExternalId, alice, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodDelete, "/api/rooms?id="+room.ExternalId, alice, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = a.do(t, http.MethodDelete, "/api/rooms?id="+room.ExternalId, bob, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/rooms?id="+room.ExternalId, bob, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/messages?room_id="+room.ExternalId, alice, nil)
	assert.Equal(t, http.StatusOK, rr.Code, "expected history of a deleted room to stay readable")
}

func TestServeWs(t *testing.T) {
	a := newTestApp(t)
	aliceId, alice := a.signup(t, "alice")
	_, bob := a.signup(t, "bob")

	rr := a.do(t, http.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "general"})
	require.Equal(t, http.StatusCreated, rr.Code)
	room := decodeBody[types.Room](t, rr)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("unauthenticated", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+alice)
		h.Set("Origin", "http://evil.example")
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, h)
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	})

	t.Run("publish over the socket", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+alice)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, h)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool {
			return len(a.registry.Connections(aliceId)) == 1
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, conn.WriteJSON(server.ClientMessage{
			BaseMessage: server.BaseMessage{Id: 1},
			Publish:     &server.Publish{RoomId: room.ExternalId, Content: "from the socket"},
		}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var res server.ServerMessage
		require.NoError(t, conn.ReadJSON(&res))
		if assert.NotNil(t, res.Response) {
			assert.Equal(t, http.StatusAccepted, res.Response.ResponseCode)
		}

		rr := a.do(t, http.MethodGet, "/api/messages?room_id="+room.ExternalId, alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		msgs := decodeBody[[]types.Message](t, rr)
		if assert.Len(t, msgs, 1) {
			assert.Equal(t, "from the socket", msgs[0].Content)
		}

		rr = a.do(t, http.MethodGet, "/api/messages?room_id="+room.ExternalId, bob, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}
