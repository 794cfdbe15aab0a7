package persist

import (
	"context"
	"errors"
	"watchpost/internals/modules/target"

	"github.com/google/uuid"
)

// LinkOutcome tags how a tick ended up attached to its target. The unguarded
// branch is a deliberate availability trade; keeping it a distinct value makes
// it observable in logs and assertable in tests.
type LinkOutcome int

const (
	Unlinked LinkOutcome = iota
	LinkedGuarded
	LinkedUnguarded
)

func (o LinkOutcome) String() string {
	switch o {
	case LinkedGuarded:
		return "linked_with_owner_guard"
	case LinkedUnguarded:
		return "linked_without_guard"
	default:
		return "unlinked"
	}
}

// ErrOwnerMismatch marks a guarded link that matched zero rows inside the
// transactional path; the whole unit of work is aborted and the fallback
// path takes over.
var ErrOwnerMismatch = errors.New("target owner mismatch during link")

// Ops are the write primitives shared by the pooled store and a transaction.
type Ops interface {
	InsertTick(ctx context.Context, t target.Tick) error
	// LinkTick attaches the tick to its target, reporting whether any row
	// matched. guarded additionally requires the owner id to match.
	LinkTick(ctx context.Context, t target.Tick, ownerID uuid.UUID, guarded bool) (bool, error)
	// AddReward increments the validator's accrued balance and returns the
	// new total.
	AddReward(ctx context.Context, agentID uuid.UUID, amount int64) (int64, error)
}

type Tx interface {
	Ops
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	Ops
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
}
