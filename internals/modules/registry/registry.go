package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the in-memory table of currently connected agents. It is owned
// by the container and passed into every component that needs it; a fresh
// Registry per test keeps the components isolated.
type Registry struct {
	mu      sync.Mutex
	byAgent map[uuid.UUID]*Session

	// lifecycle hooks, invoked outside the lock
	onFirst func()
	onEmpty func()
}

func New() *Registry {
	return &Registry{
		byAgent: make(map[uuid.UUID]*Session),
	}
}

// OnLifecycle installs the hooks fired when the registry transitions between
// empty and non-empty. The dispatch loop hangs off these.
func (r *Registry) OnLifecycle(onFirst, onEmpty func()) {
	r.mu.Lock()
	r.onFirst = onFirst
	r.onEmpty = onEmpty
	r.mu.Unlock()
}

func (r *Registry) Admit(s *Session) {
	r.mu.Lock()
	wasEmpty := len(r.byAgent) == 0
	r.byAgent[s.AgentID] = s
	onFirst := r.onFirst
	r.mu.Unlock()

	if wasEmpty && onFirst != nil {
		onFirst()
	}
}

// Replace swaps the connection, token and tab of an existing session in
// place (same-tab reconnect). Reports whether a session existed.
func (r *Registry) Replace(agentID uuid.UUID, conn Conn, token, tabID string) bool {
	r.mu.Lock()
	s, found := r.byAgent[agentID]
	r.mu.Unlock()

	if !found {
		return false
	}
	s.replaceConn(conn, token, tabID)
	return true
}

func (r *Registry) ByAgent(agentID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.byAgent[agentID]
	return s, found
}

// ByConn finds the session currently owning the given connection handle.
func (r *Registry) ByConn(conn Conn) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byAgent {
		if s.OwnsConn(conn) {
			return s, true
		}
	}
	return nil, false
}

// RemoveConn drops the session owning conn, if any. Removing an absent or
// already-replaced connection is a no-op.
func (r *Registry) RemoveConn(conn Conn) {
	r.mu.Lock()
	var removed bool
	for id, s := range r.byAgent {
		if s.OwnsConn(conn) {
			delete(r.byAgent, id)
			removed = true
			break
		}
	}
	nowEmpty := removed && len(r.byAgent) == 0
	onEmpty := r.onEmpty
	r.mu.Unlock()

	if nowEmpty && onEmpty != nil {
		onEmpty()
	}
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byAgent))
	for _, s := range r.byAgent {
		out = append(out, s)
	}
	return out
}

// AgentSessions returns the live sessions for one agent id. The duplicate
// arbitration in the gateway keeps this to at most one entry, but broadcast
// callers should not rely on that.
func (r *Registry) AgentSessions(agentID uuid.UUID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, found := r.byAgent[agentID]; found {
		return []*Session{s}
	}
	return nil
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAgent)
}
