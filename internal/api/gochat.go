package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/oreon-chat/oreon/internal/auth"
	"github.com/oreon-chat/oreon/internal/chat"
	"github.com/oreon-chat/oreon/internal/config"
	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/server"
	"github.com/oreon-chat/oreon/internal/stats"
	"github.com/rs/zerolog"
)

// Services are the components the routes delegate to.
type Services struct {
	Repo     database.Repository
	Users    *auth.UserService
	Gate     *auth.Gate
	Rooms    *chat.RoomManager
	Messages *chat.MessageService
	Chat     *server.ChatServer
	Stats    stats.StatsProvider
}

type instrumenter interface {
	Instrument(next http.Handler) http.Handler
}

type GoChatApp struct {
	log            zerolog.Logger
	srv            *http.Server
	repo           database.Repository
	users          *auth.UserService
	gate           *auth.Gate
	rooms          *chat.RoomManager
	messages       *chat.MessageService
	cs             *server.ChatServer
	stats          stats.StatsProvider
	allowedOrigins []string
	tokenTTL       time.Duration
	secureCookie   bool
	loginLimiter   *keyedLimiter
}

func NewGoChatApp(mux *http.ServeMux, logger zerolog.Logger, svc Services, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		repo:           svc.Repo,
		users:          svc.Users,
		gate:           svc.Gate,
		rooms:          svc.Rooms,
		messages:       svc.Messages,
		cs:             svc.Chat,
		stats:          svc.Stats,
		allowedOrigins: cfg.AllowedOrigins,
		tokenTTL:       cfg.TokenTTL,
		secureCookie:   cfg.Env != "dev",
		loginLimiter:   newKeyedLimiter(loginRate, loginBurst),
	}
	s.stats.RegisterMetric(stats.LoginFailures)
	s.stats.RegisterMetric(stats.MessagesPosted)

	active := s.gate.CurrentActiveUser
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.gate.CurrentUser, s.session))
	mux.HandleFunc("GET /api/auth/logout", s.logout)
	mux.HandleFunc("PUT /api/account", s.authMiddleware(active, s.updateAccount))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(active, s.createRoom))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(active, s.getRoom))
	mux.HandleFunc("DELETE /api/rooms", s.authMiddleware(active, s.deleteRoom))
	mux.HandleFunc("GET /api/rooms/mine", s.authMiddleware(active, s.listRooms))
	mux.HandleFunc("POST /api/rooms/members", s.authMiddleware(active, s.addMember))
	mux.HandleFunc("DELETE /api/rooms/members", s.authMiddleware(active, s.removeMember))
	mux.HandleFunc("POST /api/rooms/owner", s.authMiddleware(active, s.transferOwnership))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(active, s.getMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(active, s.postMessage))
	mux.HandleFunc("POST /api/messages/read", s.authMiddleware(active, s.markRead))
	mux.HandleFunc("PUT /api/admin/users/role", s.authMiddleware(s.gate.CurrentSuperuser, s.setRole))
	mux.HandleFunc("PUT /api/admin/users/active", s.authMiddleware(s.gate.CurrentSuperuser, s.setActive))
	mux.HandleFunc("GET /ws", s.authMiddleware(active, s.serveWs))

	var h http.Handler = mux
	if in, ok := s.stats.(instrumenter); ok {
		h = in.Instrument(h)
	}

	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
