package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNoSession = errors.New("no ws session")

const defaultWriteTimeout = 5 * time.Second

// WSSession is one connected driver or rider socket.
type WSSession struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

// Send writes v as JSON. A peer that stops reading fails the write once the
// deadline passes instead of stalling the caller.
func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// WSRegistry holds live sessions keyed by role and recipient ID. A newer
// connection for the same recipient replaces the older one.
type WSRegistry struct {
	mu           sync.RWMutex
	sessions     map[string]*WSSession
	writeTimeout time.Duration
}

// NewWSRegistry bounds every socket write by writeTimeout; zero means 5s.
func NewWSRegistry(writeTimeout time.Duration) *WSRegistry {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), writeTimeout: writeTimeout}
}

func sessionKey(role models.Role, id string) string { return string(role) + ":" + id }

func (r *WSRegistry) Add(role models.Role, id string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn, timeout: r.writeTimeout}
	r.mu.Lock()
	old := r.sessions[sessionKey(role, id)]
	r.sessions[sessionKey(role, id)] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops s if it is still the current session for the recipient.
func (r *WSRegistry) Remove(role models.Role, id string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionKey(role, id)] == s {
		delete(r.sessions, sessionKey(role, id))
	}
}

func (r *WSRegistry) Send(role models.Role, id string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionKey(role, id)]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		r.Remove(role, id, s)
		return err
	}
	return nil
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
