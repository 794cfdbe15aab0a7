package notify

import (
	"context"
	"time"
	"watchpost/internals/modules/target"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type TargetStore interface {
	Get(ctx context.Context, targetID uuid.UUID) (target.Target, error)
	RecentTicks(ctx context.Context, targetID uuid.UUID, limit int) ([]target.Tick, error)
	TouchLastAlert(ctx context.Context, targetID uuid.UUID, at time.Time) error
}

type Mailer interface {
	SendDownAlert(to, url string, latencyMS int64) error
}

// FailureReader is the optional redis fast path for consecutive-failure
// gating; the tick history is consulted when it is absent or failing.
type FailureReader interface {
	GetFailures(ctx context.Context, targetID uuid.UUID) (int64, error)
}

// Throttle decides whether a just-recorded Bad tick should alert the target
// owner: consecutive-failure gating first, then contact check, then cooldown.
type Throttle struct {
	store       TargetStore
	mailer      Mailer
	failures    FailureReader // optional
	requirement int
	lookback    int
	cooldown    time.Duration
	logger      *zerolog.Logger

	now func() time.Time
}

func NewThrottle(
	store TargetStore,
	mailer Mailer,
	failures FailureReader,
	requirement int,
	lookback int,
	cooldown time.Duration,
	logger *zerolog.Logger,
) *Throttle {
	return &Throttle{
		store:       store,
		mailer:      mailer,
		failures:    failures,
		requirement: requirement,
		lookback:    lookback,
		cooldown:    cooldown,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate runs the throttle for a just-persisted tick.
func (th *Throttle) Evaluate(ctx context.Context, targetID uuid.UUID, status target.Status, latencyMS int64) error {
	if status != target.StatusBad {
		return nil
	}

	t, err := th.store.Get(ctx, targetID)
	if err != nil {
		return err
	}

	required := th.requirement
	if t.AlertAfter > 0 {
		required = int(t.AlertAfter)
	}

	if required > 1 {
		ok, err := th.consecutiveFailures(ctx, t.ID, required)
		if err != nil {
			return err
		}
		if !ok {
			th.logger.Debug().
				Str("target_id", t.ID.String()).
				Int("required", required).
				Msg("alert suppressed: consecutive-failure requirement not met")
			return nil
		}
	}

	return th.dispatch(ctx, t, latencyMS, false)
}

// Force bypasses failure gating and cooldown; wired to the admin diagnostic
// endpoint.
func (th *Throttle) Force(ctx context.Context, targetID uuid.UUID) error {
	t, err := th.store.Get(ctx, targetID)
	if err != nil {
		return err
	}
	return th.dispatch(ctx, t, 0, true)
}

func (th *Throttle) dispatch(ctx context.Context, t target.Target, latencyMS int64, force bool) error {

	if t.AlertEmail == "" {
		th.logger.Info().
			Str("target_id", t.ID.String()).
			Msg("alert suppressed: no owner contact address on file")
		return nil
	}

	if !force {
		cooldown := th.cooldown
		if t.CooldownMin > 0 {
			cooldown = time.Duration(t.CooldownMin) * time.Minute
		}
		if !t.LastAlertAt.IsZero() && th.now().Sub(t.LastAlertAt) < cooldown {
			th.logger.Debug().
				Str("target_id", t.ID.String()).
				Time("last_alert_at", t.LastAlertAt).
				Msg("alert suppressed: cooldown window not elapsed")
			return nil
		}
	}

	// timestamp first; a mail failure must not reopen the window
	if err := th.store.TouchLastAlert(ctx, t.ID, th.now()); err != nil {
		return err
	}

	if err := th.mailer.SendDownAlert(t.AlertEmail, t.URL, latencyMS); err != nil {
		th.logger.Error().
			Err(err).
			Str("target_id", t.ID.String()).
			Msg("alert mail send failed")
		return nil
	}

	th.logger.Info().
		Str("target_id", t.ID.String()).
		Str("url", t.URL).
		Msg("down alert dispatched")
	return nil
}

func (th *Throttle) consecutiveFailures(ctx context.Context, targetID uuid.UUID, required int) (bool, error) {

	if th.failures != nil {
		count, err := th.failures.GetFailures(ctx, targetID)
		if err == nil {
			return count >= int64(required), nil
		}
		th.logger.Warn().Err(err).Msg("failure counter unavailable, reading tick history")
	}

	lookback := th.lookback
	if required > lookback {
		lookback = required
	}

	ticks, err := th.store.RecentTicks(ctx, targetID, lookback)
	if err != nil {
		return false, err
	}
	if len(ticks) < required {
		return false, nil
	}

	// ticks arrive newest first; the latest `required` must all be Bad
	for _, tick := range ticks[:required] {
		if tick.Status != target.StatusBad {
			return false, nil
		}
	}
	return true, nil
}
