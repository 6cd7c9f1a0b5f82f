package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/oreon-chat/oreon/internal/stats"
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type MemberRequest struct {
	RoomId string `json:"room_id"`
	UserId int    `json:"user_id"`
}

type PostMessageRequest struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type MarkReadRequest struct {
	RoomId string `json:"room_id"`
	SeqId  int    `json:"seq_id"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := apiErrorFrom(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", errResp.StatusCode).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	var req CreateRoomRequest
	if !s.decode(w, r, &req) {
		return
	}

	room, err := s.rooms.CreateRoom(r.Context(), user, req.Name, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	room, err := s.rooms.GetRoom(r.Context(), user, r.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	if err := s.rooms.DeleteRoom(r.Context(), user, r.URL.Query().Get("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	rooms, err := s.rooms.ListRooms(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *GoChatApp) addMember(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	var req MemberRequest
	if !s.decode(w, r, &req) {
		return
	}

	member, err := s.rooms.AddMember(r.Context(), user, req.RoomId, req.UserId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, member)
}

func (s *GoChatApp) removeMember(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	targetId, ok := queryInt(r, "user_id")
	if !ok || targetId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rooms.RemoveMember(r.Context(), user, r.URL.Query().Get("room_id"), targetId); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) transferOwnership(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	var req MemberRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.rooms.TransferOwnership(r.Context(), user, req.RoomId, req.UserId); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	since, ok := queryInt(r, "since")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, err := s.messages.FetchHistory(r.Context(), user, r.URL.Query().Get("room_id"), since, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *GoChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	var req PostMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	msg, err := s.messages.PostMessage(r.Context(), user, req.RoomId, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.stats.Incr(stats.MessagesPosted)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	var req MarkReadRequest
	if !s.decode(w, r, &req) {
		return
	}

	seq, err := s.messages.MarkRead(r.Context(), user, req.RoomId, req.SeqId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadRequest{RoomId: req.RoomId, SeqId: seq})
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	if _, err := s.cs.Serve(conn, user, Token(r.Context())); err != nil {
		s.log.Warn().Err(err).Int("user_id", user.Id).Msg("refusing session")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		conn.Close()
	}
}
