package callback

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pending captures the world at dispatch time: the reply is matched against
// these ids even if the agent's session metadata changes before it arrives.
type Pending struct {
	TargetID     uuid.UUID
	OwnerID      uuid.UUID
	AgentID      uuid.UUID
	URL          string
	DispatchedAt time.Time
}

type Expired struct {
	CorrelationID uuid.UUID
	Pending       Pending
}

// Table maps correlation ids to pending replies. Entries are consumed exactly
// once; unconsumed entries older than ttl are swept out by Expire.
type Table struct {
	mu  sync.Mutex
	m   map[uuid.UUID]Pending
	ttl time.Duration
}

func NewTable(ttl time.Duration) *Table {
	return &Table{
		m:   make(map[uuid.UUID]Pending),
		ttl: ttl,
	}
}

func (t *Table) Put(correlationID uuid.UUID, p Pending) {
	t.mu.Lock()
	t.m[correlationID] = p
	t.mu.Unlock()
}

// Take consumes the pending entry for correlationID. A second Take with the
// same id reports ok=false, which is what makes replies at-most-once.
func (t *Table) Take(correlationID uuid.UUID) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, found := t.m[correlationID]
	if found {
		delete(t.m, correlationID)
	}
	return p, found
}

// Expire removes and returns every entry dispatched more than ttl before now.
func (t *Table) Expire(now time.Time) []Expired {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Expired
	for id, p := range t.m {
		if now.Sub(p.DispatchedAt) > t.ttl {
			out = append(out, Expired{CorrelationID: id, Pending: p})
			delete(t.m, id)
		}
	}
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
