package validator

import (
	"time"

	"github.com/google/uuid"
)

// Validator is the durable registration of one probing agent, keyed by its
// public key. PendingPayout accrues per verified check and only an external
// settlement resets it.
type Validator struct {
	ID            uuid.UUID
	PublicKey     string
	Endpoint      string
	PendingPayout int64
	CreatedAt     time.Time
}
