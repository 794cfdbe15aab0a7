package target

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusGood Status = "Good"
	StatusBad  Status = "Bad"
)

// Target is a URL under watch. The coordinator reads targets and updates only
// their alert bookkeeping; creation and ownership live with the admin surface.
type Target struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	URL         string
	AlertEmail  string
	Enabled     bool
	LastAlertAt time.Time
	// CooldownMin and AlertAfter override the configured defaults when > 0.
	CooldownMin int32
	AlertAfter  int32
}

// Tick is one persisted probe outcome. Append-only; never updated.
type Tick struct {
	ID          uuid.UUID
	TargetID    uuid.UUID
	ValidatorID uuid.UUID
	Status      Status
	LatencyMS   int64
	CreatedAt   time.Time
}

type CreateTargetCmd struct {
	OwnerID     uuid.UUID
	URL         string
	AlertEmail  string
	CooldownMin int32
	AlertAfter  int32
}
