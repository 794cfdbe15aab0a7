package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"watchpost/internals/modules/callback"
	"watchpost/internals/modules/proto"
	"watchpost/internals/modules/registry"
	"watchpost/internals/modules/target"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu         sync.Mutex
	envelopes  []proto.Envelope
	failWrites bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("connection gone")
	}
	if env, ok := v.(proto.Envelope); ok {
		c.envelopes = append(c.envelopes, env)
	}
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) tasks(t *testing.T) []proto.Task {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []proto.Task
	for _, env := range c.envelopes {
		if env.Type == proto.MsgTask {
			var task proto.Task
			require.NoError(t, json.Unmarshal(env.Payload, &task))
			out = append(out, task)
		}
	}
	return out
}

type fakeLister struct {
	targets []target.Target
	err     error
}

func (f *fakeLister) ListEnabled(context.Context) ([]target.Target, error) {
	return f.targets, f.err
}

type fakeDispatchStore struct {
	pingErr error
	missed  []uuid.UUID
}

func (f *fakeDispatchStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeDispatchStore) RecordMissed(_ context.Context, targetID, _ uuid.UUID) error {
	f.missed = append(f.missed, targetID)
	return nil
}

func enabledTarget(url string) target.Target {
	return target.Target{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		URL:     url,
		Enabled: true,
	}
}

func newLoop(reg *registry.Registry, pendings *callback.Table, lister TargetLister, store Store, recordExpired bool) *Loop {
	logger := zerolog.Nop()
	return NewLoop(context.Background(), reg, pendings, lister, store, time.Minute, recordExpired, &logger)
}

func TestTick_DispatchesEveryTargetToEverySession(t *testing.T) {
	reg := registry.New()
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	agent1 := uuid.New()
	reg.Admit(registry.NewSession(agent1, "pk1", c1, "t1"))
	reg.Admit(registry.NewSession(uuid.New(), "pk2", c2, "t2"))

	t1 := enabledTarget("https://a.example.com")
	t2 := enabledTarget("https://b.example.com")
	pendings := callback.NewTable(time.Minute)

	loop := newLoop(reg, pendings, &fakeLister{targets: []target.Target{t1, t2}}, &fakeDispatchStore{}, false)
	loop.Tick(context.Background())

	assert.Len(t, c1.tasks(t), 2)
	assert.Len(t, c2.tasks(t), 2)
	assert.Equal(t, 4, pendings.Len())

	// each pending carries the world as it was at dispatch time
	task := c1.tasks(t)[0]
	p, ok := pendings.Take(task.CorrelationID)
	require.True(t, ok)
	assert.Equal(t, task.TargetID, p.TargetID)
	assert.Equal(t, agent1, p.AgentID)
	assert.NotEmpty(t, p.URL)
	assert.False(t, p.DispatchedAt.IsZero())
}

func TestTick_StoreDownSkipsRound(t *testing.T) {
	reg := registry.New()
	conn := &fakeConn{}
	reg.Admit(registry.NewSession(uuid.New(), "pk", conn, "t"))

	pendings := callback.NewTable(time.Minute)
	store := &fakeDispatchStore{pingErr: errors.New("db down")}

	loop := newLoop(reg, pendings, &fakeLister{targets: []target.Target{enabledTarget("https://a.example.com")}}, store, false)
	loop.Tick(context.Background())

	assert.Empty(t, conn.tasks(t), "no tasks while the store is unreachable")
	assert.Equal(t, 0, pendings.Len())
}

func TestTick_ListerErrorSkipsRound(t *testing.T) {
	reg := registry.New()
	conn := &fakeConn{}
	reg.Admit(registry.NewSession(uuid.New(), "pk", conn, "t"))

	loop := newLoop(reg, callback.NewTable(time.Minute), &fakeLister{err: errors.New("query failed")}, &fakeDispatchStore{}, false)
	loop.Tick(context.Background())

	assert.Empty(t, conn.tasks(t))
}

func TestTick_DeadConnectionDoesNotAbortRound(t *testing.T) {
	reg := registry.New()
	dead := &fakeConn{failWrites: true}
	live := &fakeConn{}
	reg.Admit(registry.NewSession(uuid.New(), "pk1", dead, "t1"))
	reg.Admit(registry.NewSession(uuid.New(), "pk2", live, "t2"))

	pendings := callback.NewTable(time.Minute)
	loop := newLoop(reg, pendings, &fakeLister{targets: []target.Target{enabledTarget("https://a.example.com")}}, &fakeDispatchStore{}, false)
	loop.Tick(context.Background())

	assert.Len(t, live.tasks(t), 1)
	assert.Equal(t, 1, pendings.Len(), "failed sends leave no pending entry")
}

func TestTick_SweepsExpiredPendings(t *testing.T) {
	pendings := callback.NewTable(time.Second)
	staleTarget := uuid.New()
	pendings.Put(uuid.New(), callback.Pending{
		TargetID:     staleTarget,
		AgentID:      uuid.New(),
		DispatchedAt: time.Now().Add(-time.Minute),
	})

	store := &fakeDispatchStore{}
	loop := newLoop(registry.New(), pendings, &fakeLister{}, store, true)
	loop.Tick(context.Background())

	assert.Equal(t, 0, pendings.Len())
	require.Len(t, store.missed, 1)
	assert.Equal(t, staleTarget, store.missed[0])
}

func TestTick_ExpiredPendingsDroppedSilentlyByDefault(t *testing.T) {
	pendings := callback.NewTable(time.Second)
	pendings.Put(uuid.New(), callback.Pending{
		TargetID:     uuid.New(),
		AgentID:      uuid.New(),
		DispatchedAt: time.Now().Add(-time.Minute),
	})

	store := &fakeDispatchStore{}
	loop := newLoop(registry.New(), pendings, &fakeLister{}, store, false)
	loop.Tick(context.Background())

	assert.Equal(t, 0, pendings.Len())
	assert.Empty(t, store.missed)
}

func TestLoop_StartStopIdempotent(t *testing.T) {
	loop := newLoop(registry.New(), callback.NewTable(time.Minute), &fakeLister{}, &fakeDispatchStore{}, false)

	assert.False(t, loop.Running())

	loop.Start()
	loop.Start()
	assert.True(t, loop.Running())

	loop.Stop()
	loop.Stop()
	assert.False(t, loop.Running())

	// restartable after a stop
	loop.Start()
	assert.True(t, loop.Running())
	loop.Stop()
}

func TestLoop_RegistryLifecycleDrivesIt(t *testing.T) {
	reg := registry.New()
	loop := newLoop(reg, callback.NewTable(time.Minute), &fakeLister{}, &fakeDispatchStore{}, false)
	reg.OnLifecycle(loop.Start, loop.Stop)

	conn := &fakeConn{}
	reg.Admit(registry.NewSession(uuid.New(), "pk", conn, "t"))
	assert.True(t, loop.Running())

	reg.RemoveConn(conn)
	assert.False(t, loop.Running())
}
