package server

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oreon-chat/oreon/internal/auth"
	"github.com/oreon-chat/oreon/internal/chat"
	"github.com/oreon-chat/oreon/internal/stats"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

// ChatServer owns the live websocket sessions. Actions go straight to the
// chat services; delivery of their events goes through the registry.
type ChatServer struct {
	log      zerolog.Logger
	registry *Registry
	gate     *auth.Gate
	messages *chat.MessageService
	stats    stats.StatsProvider

	publishRate  rate.Limit
	publishBurst int

	mu       sync.Mutex
	stopping bool
	sessions sync.WaitGroup
}

func NewChatServer(logger zerolog.Logger, registry *Registry, gate *auth.Gate, messages *chat.MessageService,
	su stats.StatsProvider, publishRate float64, publishBurst int) *ChatServer {
	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.MessagesPosted)
	su.RegisterMetric(stats.DroppedEvents)

	return &ChatServer{
		log:          logger,
		registry:     registry,
		gate:         gate,
		messages:     messages,
		stats:        su,
		publishRate:  rate.Limit(publishRate),
		publishBurst: publishBurst,
	}
}

// Serve registers a session for an authenticated user and starts its pumps.
func (cs *ChatServer) Serve(conn *websocket.Conn, user types.User, token string) (*Client, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.stopping {
		return nil, ErrShuttingDown
	}

	c := NewClient(user, token, conn, cs, cs.log)
	cs.registry.Register(c)
	cs.stats.Incr(stats.ActiveConnections)
	cs.sessions.Add(1)
	c.log.Info().Str("username", user.Username).Msg("session opened")

	go c.Write()
	go c.Read()

	return c, nil
}

func (cs *ChatServer) unregister(c *Client) {
	c.Close()
	cs.registry.Unregister(c)
	cs.stats.Decr(stats.ActiveConnections)
	cs.sessions.Done()
	c.log.Info().Msg("session closed")
}

// Shutdown refuses new sessions, closes the open ones and waits for their
// read pumps to exit or for ctx to end.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.mu.Lock()
	cs.stopping = true
	cs.mu.Unlock()

	conns := cs.registry.Connections()
	cs.log.Info().Int("sessions", len(conns)).Msg("closing sessions")
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		cs.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
