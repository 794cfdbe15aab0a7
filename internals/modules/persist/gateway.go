package persist

import (
	"context"
	"encoding/json"
	"time"
	"watchpost/internals/modules/proto"
	"watchpost/internals/modules/registry"
	"watchpost/internals/modules/target"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broadcaster yields the live sessions of an agent for earning updates.
type Broadcaster interface {
	AgentSessions(agentID uuid.UUID) []*registry.Session
}

// EventPublisher fans persisted ticks out to dashboard consumers.
type EventPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// FailureCounter maintains the per-target consecutive-failure fast path.
type FailureCounter interface {
	IncrementFailures(ctx context.Context, targetID uuid.UUID) (int64, error)
	ClearFailures(ctx context.Context, targetID uuid.UUID) error
}

type Result struct {
	Outcome       LinkOutcome
	Balance       int64
	Rewarded      bool
	Transactional bool
}

// Gateway commits verified check results. It prefers one atomic unit of work
// and degrades to a sequential best-effort path; once the tick row exists,
// later failures never roll it back.
type Gateway struct {
	store    Store
	sessions Broadcaster
	events   EventPublisher // optional
	failures FailureCounter // optional
	reward   int64
	logger   *zerolog.Logger
}

func NewGateway(
	store Store,
	sessions Broadcaster,
	events EventPublisher,
	failures FailureCounter,
	reward int64,
	logger *zerolog.Logger,
) *Gateway {
	return &Gateway{
		store:    store,
		sessions: sessions,
		events:   events,
		failures: failures,
		reward:   reward,
		logger:   logger,
	}
}

// Commit persists the tick, accrues the reward, and runs the post-commit
// fan-out. ownerID is the owner captured at dispatch time; it guards the
// target link.
func (g *Gateway) Commit(ctx context.Context, t target.Tick, ownerID uuid.UUID) (Result, error) {

	res, err := g.commitTx(ctx, t, ownerID)
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("tick_id", t.ID.String()).
			Msg("transactional commit unavailable, using fallback path")

		res, err = g.commitFallback(ctx, t, ownerID)
		if err != nil {
			return Result{}, err
		}
	}

	g.afterCommit(ctx, t, res)
	return res, nil
}

func (g *Gateway) commitTx(ctx context.Context, t target.Tick, ownerID uuid.UUID) (Result, error) {
	tx, err := g.store.Begin(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := tx.InsertTick(ctx, t); err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, err
	}

	linked, err := tx.LinkTick(ctx, t, ownerID, true)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, err
	}
	if !linked {
		// ownership re-validated inside the transaction; a mismatch aborts
		// the whole unit of work
		_ = tx.Rollback(ctx)
		return Result{}, ErrOwnerMismatch
	}

	balance, err := tx.AddReward(ctx, t.ValidatorID, g.reward)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}

	return Result{
		Outcome:       LinkedGuarded,
		Balance:       balance,
		Rewarded:      true,
		Transactional: true,
	}, nil
}

// commitFallback is the non-atomic path: the tick is created unconditionally,
// linking is best-effort (owner guard first, then by target id alone so the
// result is not orphaned), and the reward is applied regardless of linking.
func (g *Gateway) commitFallback(ctx context.Context, t target.Tick, ownerID uuid.UUID) (Result, error) {

	if err := g.store.InsertTick(ctx, t); err != nil {
		// the tick itself could not be created; this is the only hard
		// failure of the fallback path
		return Result{}, err
	}

	res := Result{Outcome: Unlinked}

	linked, err := g.store.LinkTick(ctx, t, ownerID, true)
	switch {
	case err != nil:
		g.logger.Error().Err(err).Str("tick_id", t.ID.String()).Msg("guarded link failed")
	case linked:
		res.Outcome = LinkedGuarded
	default:
		linked, err = g.store.LinkTick(ctx, t, ownerID, false)
		switch {
		case err != nil:
			g.logger.Error().Err(err).Str("tick_id", t.ID.String()).Msg("unguarded link failed")
		case linked:
			res.Outcome = LinkedUnguarded
			g.logger.Warn().
				Str("tick_id", t.ID.String()).
				Str("target_id", t.TargetID.String()).
				Msg("tick linked without owner guard")
		}
	}

	if res.Outcome == Unlinked {
		g.logger.Warn().
			Str("tick_id", t.ID.String()).
			Str("target_id", t.TargetID.String()).
			Msg("tick left unlinked")
	}

	balance, err := g.store.AddReward(ctx, t.ValidatorID, g.reward)
	if err != nil {
		g.logger.Error().Err(err).Str("agent_id", t.ValidatorID.String()).Msg("reward increment failed")
	} else {
		res.Balance = balance
		res.Rewarded = true
	}

	return res, nil
}

func (g *Gateway) afterCommit(ctx context.Context, t target.Tick, res Result) {

	if res.Rewarded {
		g.broadcastEarning(t.ValidatorID, res.Balance)
	}

	if g.events != nil {
		if err := g.publishTick(ctx, t); err != nil {
			g.logger.Error().Err(err).Str("tick_id", t.ID.String()).Msg("tick event publish failed")
		}
	}

	if g.failures != nil {
		var err error
		if t.Status == target.StatusBad {
			_, err = g.failures.IncrementFailures(ctx, t.TargetID)
		} else {
			err = g.failures.ClearFailures(ctx, t.TargetID)
		}
		if err != nil {
			g.logger.Warn().Err(err).Str("target_id", t.TargetID.String()).Msg("failure counter update failed")
		}
	}
}

func (g *Gateway) broadcastEarning(agentID uuid.UUID, balance int64) {
	env, err := proto.NewEnvelope(proto.MsgEarningUpdate, proto.EarningUpdate{
		Amount:  g.reward,
		Balance: balance,
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("earning update encode failed")
		return
	}

	for _, sess := range g.sessions.AgentSessions(agentID) {
		if err := sess.Send(env); err != nil {
			// per-recipient isolation: one dead connection must not block
			// the others
			g.logger.Warn().Err(err).Str("agent_id", agentID.String()).Msg("earning update send failed")
		}
	}
}

type tickEvent struct {
	TickID      uuid.UUID     `json:"tick_id"`
	TargetID    uuid.UUID     `json:"target_id"`
	ValidatorID uuid.UUID     `json:"validator_id"`
	Status      target.Status `json:"status"`
	LatencyMS   int64         `json:"latency_ms"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (g *Gateway) publishTick(ctx context.Context, t target.Tick) error {
	body, err := json.Marshal(tickEvent{
		TickID:      t.ID,
		TargetID:    t.TargetID,
		ValidatorID: t.ValidatorID,
		Status:      t.Status,
		LatencyMS:   t.LatencyMS,
		CreatedAt:   t.CreatedAt,
	})
	if err != nil {
		return err
	}
	return g.events.Publish(ctx, body)
}

// RecordMissed stores a synthetic failed tick for a task whose reply never
// arrived. No reward, no linking, no broadcast.
func (g *Gateway) RecordMissed(ctx context.Context, targetID, agentID uuid.UUID) error {
	t := target.Tick{
		ID:          uuid.New(),
		TargetID:    targetID,
		ValidatorID: agentID,
		Status:      target.StatusBad,
		LatencyMS:   0,
		CreatedAt:   time.Now(),
	}
	return g.store.InsertTick(ctx, t)
}

// Ping reports store connectivity for the dispatch loop and the health
// endpoint.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}
