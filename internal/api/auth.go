package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oreon-chat/oreon/internal/stats"
	"github.com/oreon-chat/oreon/internal/types"
)

const tokenCookieKey = "token"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresIn int        `json:"expires_in"`
	User      types.User `json:"user"`
}

func (s *GoChatApp) createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *GoChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, user)
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.allow(remoteHost(r)) {
		errResp := NewTooManyRequestsError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, user, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			s.stats.Incr(stats.LoginFailures)
		}
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, s.createJwtCookie(token, s.tokenTTL))
	s.writeJson(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: int(s.tokenTTL.Seconds()),
		User:      user,
	})
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	user, ok := User(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite with an already expired cookie
	c := s.createJwtCookie("", 0)
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) updateAccount(w http.ResponseWriter, r *http.Request) {
	user, _ := User(r.Context())

	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.users.UpdateProfile(r.Context(), user, req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, updated)
}

type SetRoleRequest struct {
	UserId int        `json:"user_id"`
	Role   types.Role `json:"role"`
}

type SetActiveRequest struct {
	UserId int  `json:"user_id"`
	Active bool `json:"active"`
}

func (s *GoChatApp) setRole(w http.ResponseWriter, r *http.Request) {
	acting, _ := User(r.Context())

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.users.SetRole(r.Context(), acting, req.UserId, req.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *GoChatApp) setActive(w http.ResponseWriter, r *http.Request) {
	acting, _ := User(r.Context())

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.users.SetActive(r.Context(), acting, req.UserId, req.Active)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}
