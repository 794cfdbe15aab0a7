package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the minimal connection surface a session needs. The websocket
// gateway wraps *websocket.Conn; tests substitute an in-memory fake.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is the live, in-memory record of one agent's current connection.
// All fields behind mu; reads and writes interleave between the connection
// reader goroutine and the dispatch ticker.
type Session struct {
	AgentID   uuid.UUID
	PublicKey string

	mu          sync.Mutex
	conn        Conn
	token       string
	tabID       string
	dupNotified map[string]time.Time // tabID -> window expiry
}

func NewSession(agentID uuid.UUID, publicKey string, conn Conn, tabID string) *Session {
	return &Session{
		AgentID:     agentID,
		PublicKey:   publicKey,
		conn:        conn,
		tabID:       tabID,
		dupNotified: make(map[string]time.Time),
	}
}

func (s *Session) Send(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn.WriteJSON(v)
}

func (s *Session) TabID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabID
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// OwnsConn reports whether conn is the session's current connection handle.
func (s *Session) OwnsConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

// replaceConn swaps in a fresh connection for a same-tab reconnect and closes
// the stale handle.
func (s *Session) replaceConn(conn Conn, token, tabID string) {
	s.mu.Lock()
	stale := s.conn
	s.conn = conn
	s.token = token
	s.tabID = tabID
	s.mu.Unlock()

	if stale != nil && stale != conn {
		_ = stale.Close()
	}
}

// ShouldNotifyDuplicate reports whether the session owner should be told that
// tabID tried to claim its agent id. At most one notice per tab per window;
// expired entries are pruned on each call.
func (s *Session) ShouldNotifyDuplicate(tabID string, now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, expiry := range s.dupNotified {
		if now.After(expiry) {
			delete(s.dupNotified, id)
		}
	}

	if _, found := s.dupNotified[tabID]; found {
		return false
	}

	s.dupNotified[tabID] = now.Add(window)
	return true
}
