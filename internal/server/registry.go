package server

import "sync"

// Conn is one live session of a user.
type Conn interface {
	Id() string
	UserId() int
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg *ServerMessage) bool
	Close()
}

// Registry tracks live connections by user. It is safe for concurrent use;
// readers get snapshots so sending never happens under the lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]map[string]Conn)}
}

func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byId, ok := r.conns[c.UserId()]
	if !ok {
		byId = make(map[string]Conn)
		r.conns[c.UserId()] = byId
	}
	byId[c.Id()] = c
}

func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byId, ok := r.conns[c.UserId()]
	if !ok {
		return
	}
	delete(byId, c.Id())
	if len(byId) == 0 {
		delete(r.conns, c.UserId())
	}
}

// Connections returns a snapshot of the connections of userIds, or of every
// user when none are given.
func (r *Registry) Connections(userIds ...int) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conn
	if len(userIds) == 0 {
		for _, byId := range r.conns {
			for _, c := range byId {
				out = append(out, c)
			}
		}
		return out
	}

	seen := make(map[int]struct{}, len(userIds))
	for _, id := range userIds {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, c := range r.conns[id] {
			out = append(out, c)
		}
	}
	return out
}

// Send queues msg on every connection of userId and returns how many
// accepted it.
func (r *Registry) Send(userId int, msg *ServerMessage) int {
	n := 0
	for _, c := range r.Connections(userId) {
		if c.Send(msg) {
			n++
		}
	}
	return n
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byId := range r.conns {
		n += len(byId)
	}
	return n
}
