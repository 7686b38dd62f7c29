package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SqlStore {
	t.Helper()
	st, err := NewSqliteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestSqlStore_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	type payload struct {
		Version string `json:"version"`
		Count   int    `json:"count"`
	}

	require.NoError(t, st.PutState(ctx, "pending", payload{Version: "1.2.3", Count: 7}))

	var got payload
	require.NoError(t, st.GetState(ctx, "pending", &got))
	assert.Equal(t, payload{Version: "1.2.3", Count: 7}, got)
}

func TestSqlStore_StateNotFound(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	var out int
	err := st.GetState(ctx, "missing", &out)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestSqlStore_StateOverwrite(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.PutState(ctx, "backoff_factor", 2))
	require.NoError(t, st.PutState(ctx, "backoff_factor", 16))

	var factor int
	require.NoError(t, st.GetState(ctx, "backoff_factor", &factor))
	assert.Equal(t, 16, factor)
}

func TestSqlStore_DeleteState(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.PutState(ctx, "pending", "1.0.0"))
	require.NoError(t, st.DeleteState(ctx, "pending"))

	var out string
	assert.ErrorIs(t, st.GetState(ctx, "pending", &out), ErrStateNotFound)

	// deleting an absent key is not an error
	assert.NoError(t, st.DeleteState(ctx, "pending"))
}

func TestSqlStore_HistoryOrder(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	base := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendHistory(ctx, &UpdateRecord{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			CheckType: "scheduled",
			Version:   fmt.Sprintf("1.0.%d", i),
			Success:   true,
		}))
	}

	records, err := st.GetHistory(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// newest first
	assert.Equal(t, "1.0.4", records[0].Version)
	assert.Equal(t, "1.0.3", records[1].Version)
	assert.Equal(t, "1.0.2", records[2].Version)
}

func TestSqlStore_HistoryNoLimit(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, st.AppendHistory(ctx, &UpdateRecord{CheckType: "manual", Success: true}))
	}

	records, err := st.GetHistory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestSqlStore_AppendSetsTimestamp(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	record := &UpdateRecord{CheckType: "manual", Success: true}
	require.NoError(t, st.AppendHistory(ctx, record))
	assert.False(t, record.Timestamp.IsZero())
}

func TestSqlStore_CountHistory(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	count, err := st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, st.AppendHistory(ctx, &UpdateRecord{CheckType: "manual", Success: true}))
	require.NoError(t, st.AppendHistory(ctx, &UpdateRecord{CheckType: "manual", Success: false}))

	count, err = st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSqlStore_PruneHistory(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	base := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, st.AppendHistory(ctx, &UpdateRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			CheckType: "scheduled",
			Version:   fmt.Sprintf("2.0.%d", i),
			Success:   true,
		}))
	}

	require.NoError(t, st.PruneHistory(ctx, 4))

	records, err := st.GetHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 4)

	// the newest rows survive
	assert.Equal(t, "2.0.9", records[0].Version)
	assert.Equal(t, "2.0.6", records[3].Version)

	// pruning below the row count again is a no-op
	require.NoError(t, st.PruneHistory(ctx, 4))
	count, err := st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestSqlStore_PruneDisabled(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.AppendHistory(ctx, &UpdateRecord{CheckType: "manual", Success: true}))
	require.NoError(t, st.PruneHistory(ctx, 0))

	count, err := st.CountHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
