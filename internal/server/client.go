package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/oreon-chat/oreon/internal/chat"
	"github.com/oreon-chat/oreon/internal/stats"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
	actionTimeout  = 10 * time.Second
)

// Client is one websocket session. It holds the token it was opened with and
// re-checks it on every action, so a disabled account or an expired token
// stops being served on its next frame.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	userId     int
	token      string
	limiter    *rate.Limiter
	send       chan *ServerMessage
	stop       chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ Conn = (*Client)(nil)

func NewClient(user types.User, token string, conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	id := ulid.Make().String()
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With().Str("conn", id).Int("user_id", user.Id).Logger(),
		userId:     user.Id,
		token:      token,
		limiter:    rate.NewLimiter(cs.publishRate, cs.publishBurst),
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) UserId() int {
	return c.userId
}

// Send queues msg for the write pump. It never blocks: a full buffer or a
// closed client drops the message.
func (c *Client) Send(msg *ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn().Msg("send buffer full")
		return false
	}
}

// Close stops the write pump, which closes the socket. It is safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.flush()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	// the write pump owns closing the socket
	defer func() {
		c.chatServer.unregister(c)
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		if !c.handle(raw) {
			return
		}
	}
}

// handle dispatches one frame and reports whether the session should stay
// open.
func (c *Client) handle(raw []byte) bool {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug().Err(err).Msg("error parsing message")
		c.Send(ErrInvalidMessage(0))
		return true
	}

	if !c.limiter.Allow() {
		c.Send(ErrTooManyRequests(msg.Id))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	user, err := c.chatServer.gate.CurrentActiveUser(ctx, c.token)
	if err != nil {
		c.Send(ErrFromError(msg.Id, err))
		if errors.Is(err, types.ErrUnauthenticated) || errors.Is(err, types.ErrAccountDisabled) {
			c.log.Info().Err(err).Msg("closing session")
			c.Close()
			return false
		}
		return true
	}
	ctx = chat.WithOrigin(ctx, c.id)
	switch {
	case msg.Publish != nil:
		c.publish(ctx, user, &msg)
	case msg.Read != nil:
		c.markRead(ctx, user, &msg)
	default:
		c.Send(ErrInvalidMessage(msg.Id))
	}

	return true
}

func (c *Client) publish(ctx context.Context, user types.User, msg *ClientMessage) {
	posted, err := c.chatServer.messages.PostMessage(ctx, user, msg.Publish.RoomId, msg.Publish.Content)
	if err != nil {
		c.log.Debug().Err(err).Str("room", msg.Publish.RoomId).Msg("publish rejected")
		c.Send(ErrFromError(msg.Id, err))
		return
	}

	c.chatServer.stats.Incr(stats.MessagesPosted)
	c.Send(NoErrAccepted(msg.Id, NewRoomMessage(msg.Publish.RoomId, posted)))
}

func (c *Client) markRead(ctx context.Context, user types.User, msg *ClientMessage) {
	seq, err := c.chatServer.messages.MarkRead(ctx, user, msg.Read.RoomId, msg.Read.SeqId)
	if err != nil {
		c.Send(ErrFromError(msg.Id, err))
		return
	}

	c.Send(NoErrOK(msg.Id, Read{RoomId: msg.Read.RoomId, SeqId: seq}))
}

// flush writes whatever is still queued, so a final error frame reaches the
// peer ahead of the close frame.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if bytes, err := serializeMessage(msg); err == nil && !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		default:
			return
		}
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}
