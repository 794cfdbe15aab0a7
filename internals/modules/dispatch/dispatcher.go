package dispatch

import (
	"context"
	"sync"
	"time"
	"watchpost/internals/modules/callback"
	"watchpost/internals/modules/proto"
	"watchpost/internals/modules/registry"
	"watchpost/internals/modules/target"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type TargetLister interface {
	ListEnabled(ctx context.Context) ([]target.Target, error)
}

type Store interface {
	Ping(ctx context.Context) error
	// RecordMissed stores a synthetic failed tick for an expired task.
	RecordMissed(ctx context.Context, targetID, agentID uuid.UUID) error
}

// Loop is the periodic driver: every interval it fans one task per
// (enabled target x connected session) out over the agent channels. It runs
// only while agents are connected; the registry lifecycle hooks start and
// stop it.
type Loop struct {
	ctx      context.Context
	registry *registry.Registry
	pendings *callback.Table
	targets  TargetLister
	store    Store
	logger   *zerolog.Logger

	interval      time.Duration
	recordExpired bool

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

func NewLoop(
	ctx context.Context,
	reg *registry.Registry,
	pendings *callback.Table,
	targets TargetLister,
	store Store,
	interval time.Duration,
	recordExpired bool,
	logger *zerolog.Logger,
) *Loop {
	return &Loop{
		ctx:           ctx,
		registry:      reg,
		pendings:      pendings,
		targets:       targets,
		store:         store,
		interval:      interval,
		recordExpired: recordExpired,
		logger:        logger,
	}
}

func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	l.logger.Info().Dur("interval", l.interval).Msg("dispatch loop started")

	go l.run(stop)
}

// Stop cancels the timer. Outstanding pendings are left to the TTL sweep on
// the next start.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	l.mu.Unlock()

	l.logger.Info().Msg("dispatch loop stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(stop chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			l.Tick(l.ctx)
		}
	}
}

// Tick performs one dispatch round. Exported so the sweep-and-dispatch cycle
// is drivable from tests without the timer.
func (l *Loop) Tick(ctx context.Context) {

	l.sweepExpired(ctx)

	// store down: skip the whole round, no queuing of missed work
	if err := l.store.Ping(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("store unreachable, skipping dispatch round")
		return
	}

	targets, err := l.targets.ListEnabled(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("loading enabled targets failed")
		return
	}

	sessions := l.registry.Sessions()
	if len(targets) == 0 || len(sessions) == 0 {
		return
	}

	dispatched := 0
	for _, t := range targets {
		for _, sess := range sessions {
			if l.dispatchOne(t, sess) {
				dispatched++
			}
		}
	}

	l.logger.Debug().
		Int("targets", len(targets)).
		Int("sessions", len(sessions)).
		Int("dispatched", dispatched).
		Msg("dispatch round complete")
}

func (l *Loop) dispatchOne(t target.Target, sess *registry.Session) bool {
	correlationID := uuid.New()

	env, err := proto.NewEnvelope(proto.MsgTask, proto.Task{
		URL:           t.URL,
		CorrelationID: correlationID,
		TargetID:      t.ID,
	})
	if err != nil {
		l.logger.Error().Err(err).Msg("task encode failed")
		return false
	}

	// best-effort per send: a gone connection must not abort the round
	if err := sess.Send(env); err != nil {
		l.logger.Warn().
			Err(err).
			Str("agent_id", sess.AgentID.String()).
			Str("target_id", t.ID.String()).
			Msg("task send failed")
		return false
	}

	// world captured at dispatch time; the reply is matched against these
	// ids even if the session changes before it arrives
	l.pendings.Put(correlationID, callback.Pending{
		TargetID:     t.ID,
		OwnerID:      t.OwnerID,
		AgentID:      sess.AgentID,
		URL:          t.URL,
		DispatchedAt: time.Now(),
	})
	return true
}

func (l *Loop) sweepExpired(ctx context.Context) {
	expired := l.pendings.Expire(time.Now())
	for _, e := range expired {
		l.logger.Warn().
			Str("correlation_id", e.CorrelationID.String()).
			Str("agent_id", e.Pending.AgentID.String()).
			Str("target_id", e.Pending.TargetID.String()).
			Time("dispatched_at", e.Pending.DispatchedAt).
			Msg("pending task expired without reply")

		if l.recordExpired {
			if err := l.store.RecordMissed(ctx, e.Pending.TargetID, e.Pending.AgentID); err != nil {
				l.logger.Error().Err(err).Msg("recording missed check failed")
			}
		}
	}
}
