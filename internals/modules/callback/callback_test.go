package callback

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_TakeConsumesOnce(t *testing.T) {
	tbl := NewTable(time.Minute)
	corrID := uuid.New()
	p := Pending{
		TargetID:     uuid.New(),
		OwnerID:      uuid.New(),
		AgentID:      uuid.New(),
		URL:          "https://example.com",
		DispatchedAt: time.Now(),
	}

	tbl.Put(corrID, p)
	require.Equal(t, 1, tbl.Len())

	got, ok := tbl.Take(corrID)
	require.True(t, ok)
	assert.Equal(t, p, got)
	assert.Equal(t, 0, tbl.Len())

	// a duplicate reply finds nothing to consume
	_, ok = tbl.Take(corrID)
	assert.False(t, ok)
}

func TestTable_TakeUnknownID(t *testing.T) {
	tbl := NewTable(time.Minute)
	_, ok := tbl.Take(uuid.New())
	assert.False(t, ok)
}

func TestTable_ExpireSweepsOnlyStaleEntries(t *testing.T) {
	tbl := NewTable(90 * time.Second)
	now := time.Now()

	staleID := uuid.New()
	freshID := uuid.New()
	tbl.Put(staleID, Pending{TargetID: uuid.New(), DispatchedAt: now.Add(-2 * time.Minute)})
	tbl.Put(freshID, Pending{TargetID: uuid.New(), DispatchedAt: now.Add(-10 * time.Second)})

	expired := tbl.Expire(now)
	require.Len(t, expired, 1)
	assert.Equal(t, staleID, expired[0].CorrelationID)

	// the fresh entry survives and can still be consumed
	_, ok := tbl.Take(freshID)
	assert.True(t, ok)

	// the expired one is gone for good
	_, ok = tbl.Take(staleID)
	assert.False(t, ok)
}

func TestTable_ExpireEmpty(t *testing.T) {
	tbl := NewTable(time.Second)
	assert.Empty(t, tbl.Expire(time.Now()))
}
