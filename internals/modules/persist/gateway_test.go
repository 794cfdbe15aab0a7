package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"watchpost/internals/modules/proto"
	"watchpost/internals/modules/registry"
	"watchpost/internals/modules/target"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps everything in memory. Transactions buffer their writes and
// apply them on Commit, so a rolled-back tx leaves no trace.
type fakeStore struct {
	mu       sync.Mutex
	ticks    []target.Tick
	balances map[uuid.UUID]int64

	ownerMatches   bool // whether the guarded link finds a row
	targetExists   bool // whether the unguarded link finds a row
	failBegin      bool
	failTxReward   bool
	failInsert     bool
	failPoolReward bool

	guardedLinks   int
	unguardedLinks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances:     make(map[uuid.UUID]int64),
		ownerMatches: true,
		targetExists: true,
	}
}

func (s *fakeStore) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func (s *fakeStore) InsertTick(_ context.Context, t target.Tick) error {
	if s.failInsert {
		return errors.New("insert failed")
	}
	s.mu.Lock()
	s.ticks = append(s.ticks, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) LinkTick(_ context.Context, _ target.Tick, _ uuid.UUID, guarded bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guarded {
		s.guardedLinks++
		return s.ownerMatches, nil
	}
	s.unguardedLinks++
	return s.targetExists, nil
}

func (s *fakeStore) AddReward(_ context.Context, agentID uuid.UUID, amount int64) (int64, error) {
	if s.failPoolReward {
		return 0, errors.New("reward failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[agentID] += amount
	return s.balances[agentID], nil
}

func (s *fakeStore) Begin(_ context.Context) (Tx, error) {
	if s.failBegin {
		return nil, errors.New("begin failed")
	}
	return &fakeTx{s: s}, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

type fakeTx struct {
	s       *fakeStore
	ticks   []target.Tick
	rewards map[uuid.UUID]int64
}

func (tx *fakeTx) InsertTick(_ context.Context, t target.Tick) error {
	tx.ticks = append(tx.ticks, t)
	return nil
}

func (tx *fakeTx) LinkTick(_ context.Context, _ target.Tick, _ uuid.UUID, guarded bool) (bool, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if guarded {
		tx.s.guardedLinks++
		return tx.s.ownerMatches, nil
	}
	tx.s.unguardedLinks++
	return tx.s.targetExists, nil
}

func (tx *fakeTx) AddReward(_ context.Context, agentID uuid.UUID, amount int64) (int64, error) {
	if tx.s.failTxReward {
		return 0, errors.New("reward failed in tx")
	}
	if tx.rewards == nil {
		tx.rewards = make(map[uuid.UUID]int64)
	}
	tx.rewards[agentID] += amount

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return tx.s.balances[agentID] + tx.rewards[agentID], nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.ticks = append(tx.s.ticks, tx.ticks...)
	for id, amount := range tx.rewards {
		tx.s.balances[id] += amount
	}
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error { return nil }

type fakeConn struct {
	mu   sync.Mutex
	msgs []any
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, v)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) envelopes() []proto.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []proto.Envelope
	for _, m := range c.msgs {
		if env, ok := m.(proto.Envelope); ok {
			out = append(out, env)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	p.bodies = append(p.bodies, body)
	p.mu.Unlock()
	return nil
}

type fakeCounter struct {
	incremented []uuid.UUID
	cleared     []uuid.UUID
}

func (c *fakeCounter) IncrementFailures(_ context.Context, targetID uuid.UUID) (int64, error) {
	c.incremented = append(c.incremented, targetID)
	return int64(len(c.incremented)), nil
}

func (c *fakeCounter) ClearFailures(_ context.Context, targetID uuid.UUID) error {
	c.cleared = append(c.cleared, targetID)
	return nil
}

func newTick(agentID uuid.UUID, status target.Status) target.Tick {
	return target.Tick{
		ID:          uuid.New(),
		TargetID:    uuid.New(),
		ValidatorID: agentID,
		Status:      status,
		LatencyMS:   120,
		CreatedAt:   time.Now(),
	}
}

func newGateway(store Store, sessions Broadcaster, events EventPublisher, failures FailureCounter) *Gateway {
	logger := zerolog.Nop()
	return NewGateway(store, sessions, events, failures, 1, &logger)
}

func TestCommit_TransactionalPath(t *testing.T) {
	store := newFakeStore()
	agentID := uuid.New()

	g := newGateway(store, registry.New(), nil, nil)
	res, err := g.Commit(context.Background(), newTick(agentID, target.StatusGood), uuid.New())
	require.NoError(t, err)

	assert.True(t, res.Transactional)
	assert.True(t, res.Rewarded)
	assert.Equal(t, LinkedGuarded, res.Outcome)
	assert.Equal(t, int64(1), res.Balance)
	assert.Equal(t, 1, store.tickCount())
	assert.Equal(t, int64(1), store.balances[agentID])
}

func TestCommit_FallbackAfterBeginFailure(t *testing.T) {
	store := newFakeStore()
	store.failBegin = true
	agentID := uuid.New()

	g := newGateway(store, registry.New(), nil, nil)
	res, err := g.Commit(context.Background(), newTick(agentID, target.StatusGood), uuid.New())
	require.NoError(t, err)

	assert.False(t, res.Transactional)
	assert.True(t, res.Rewarded)
	assert.Equal(t, LinkedGuarded, res.Outcome)
	assert.Equal(t, 1, store.tickCount(), "exactly one tick across both paths")
	assert.Equal(t, int64(1), store.balances[agentID], "exactly one reward across both paths")
}

func TestCommit_TxFailureLeavesNoPartialWrites(t *testing.T) {
	store := newFakeStore()
	store.failTxReward = true
	agentID := uuid.New()

	g := newGateway(store, registry.New(), nil, nil)
	res, err := g.Commit(context.Background(), newTick(agentID, target.StatusGood), uuid.New())
	require.NoError(t, err)

	// the rolled-back tx must not have leaked its tick; only the fallback's
	// unconditional insert lands
	assert.Equal(t, 1, store.tickCount())
	assert.False(t, res.Transactional)
}

func TestCommit_OwnerMismatchFallsBackToUnguardedLink(t *testing.T) {
	store := newFakeStore()
	store.ownerMatches = false

	g := newGateway(store, registry.New(), nil, nil)
	res, err := g.Commit(context.Background(), newTick(uuid.New(), target.StatusGood), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, LinkedUnguarded, res.Outcome)
	assert.False(t, res.Transactional)
	assert.True(t, res.Rewarded)
	assert.Equal(t, 1, store.tickCount())
	assert.Equal(t, 1, store.unguardedLinks)
}

func TestCommit_MissingTargetLeavesTickUnlinked(t *testing.T) {
	store := newFakeStore()
	store.ownerMatches = false
	store.targetExists = false

	g := newGateway(store, registry.New(), nil, nil)
	res, err := g.Commit(context.Background(), newTick(uuid.New(), target.StatusGood), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, Unlinked, res.Outcome)
	assert.True(t, res.Rewarded, "reward is independent of linking")
	assert.Equal(t, 1, store.tickCount())
}

func TestCommit_RewardFailureStillKeepsTick(t *testing.T) {
	store := newFakeStore()
	store.failBegin = true
	store.failPoolReward = true

	g := newGateway(store, registry.New(), nil, nil)
	res, err := g.Commit(context.Background(), newTick(uuid.New(), target.StatusGood), uuid.New())
	require.NoError(t, err)

	assert.False(t, res.Rewarded)
	assert.Equal(t, 1, store.tickCount())
}

func TestCommit_BroadcastsEarningUpdate(t *testing.T) {
	store := newFakeStore()
	agentID := uuid.New()

	reg := registry.New()
	conn := &fakeConn{}
	reg.Admit(registry.NewSession(agentID, "pk", conn, "tab"))

	g := newGateway(store, reg, nil, nil)
	_, err := g.Commit(context.Background(), newTick(agentID, target.StatusGood), uuid.New())
	require.NoError(t, err)

	envs := conn.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, proto.MsgEarningUpdate, envs[0].Type)

	var upd proto.EarningUpdate
	require.NoError(t, json.Unmarshal(envs[0].Payload, &upd))
	assert.Equal(t, int64(1), upd.Amount)
	assert.Equal(t, int64(1), upd.Balance)
}

func TestCommit_PublishesTickEvent(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	tick := newTick(uuid.New(), target.StatusBad)

	g := newGateway(store, registry.New(), pub, nil)
	_, err := g.Commit(context.Background(), tick, uuid.New())
	require.NoError(t, err)

	require.Len(t, pub.bodies, 1)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(pub.bodies[0], &evt))
	assert.Equal(t, tick.TargetID.String(), evt["target_id"])
	assert.Equal(t, string(target.StatusBad), evt["status"])
}

func TestCommit_UpdatesFailureCounter(t *testing.T) {
	store := newFakeStore()
	counter := &fakeCounter{}
	g := newGateway(store, registry.New(), nil, counter)

	badTick := newTick(uuid.New(), target.StatusBad)
	_, err := g.Commit(context.Background(), badTick, uuid.New())
	require.NoError(t, err)
	require.Len(t, counter.incremented, 1)
	assert.Equal(t, badTick.TargetID, counter.incremented[0])

	goodTick := newTick(uuid.New(), target.StatusGood)
	_, err = g.Commit(context.Background(), goodTick, uuid.New())
	require.NoError(t, err)
	require.Len(t, counter.cleared, 1)
	assert.Equal(t, goodTick.TargetID, counter.cleared[0])
}

func TestRecordMissed(t *testing.T) {
	store := newFakeStore()
	targetID := uuid.New()
	agentID := uuid.New()

	g := newGateway(store, registry.New(), nil, nil)
	require.NoError(t, g.RecordMissed(context.Background(), targetID, agentID))

	require.Equal(t, 1, store.tickCount())
	tick := store.ticks[0]
	assert.Equal(t, targetID, tick.TargetID)
	assert.Equal(t, agentID, tick.ValidatorID)
	assert.Equal(t, target.StatusBad, tick.Status)
	assert.Zero(t, tick.LatencyMS)
	assert.Equal(t, int64(0), store.balances[agentID], "missed replies earn nothing")
}

func TestLinkOutcome_String(t *testing.T) {
	assert.Equal(t, "unlinked", Unlinked.String())
	assert.Equal(t, "linked_with_owner_guard", LinkedGuarded.String())
	assert.Equal(t, "linked_without_guard", LinkedUnguarded.String())
}
