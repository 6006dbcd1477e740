package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

func testRecord(resultID, taskID string, finishedAt int64) *domain.RunRecord {
	return &domain.RunRecord{
		ResultID:       resultID,
		TaskID:         taskID,
		TaskName:       "BTC momentum",
		Outcome:        "completed",
		Progress:       100,
		Watermark:      1706745600000,
		TradeCount:     42,
		DealCount:      21,
		Complete:       true,
		NetProfit:      123.45,
		WinRate:        0.57,
		MaxDrawdownPct: 8.2,
		FinalBalance:   10123.45,
		StartedAt:      finishedAt - 60000,
		FinishedAt:     finishedAt,
	}
}

func TestRunArchiveStore_InsertAndGetByResultID(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	rec := testRecord("res-1", "task-1", 1706745660000)
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.GetByResultID(ctx, "res-1")
	require.NoError(t, err)

	assert.Equal(t, rec.TaskID, got.TaskID)
	assert.Equal(t, rec.Outcome, got.Outcome)
	assert.Equal(t, rec.TradeCount, got.TradeCount)
	assert.Equal(t, rec.DealCount, got.DealCount)
	assert.True(t, got.Complete)
	assert.InDelta(t, rec.NetProfit, got.NetProfit, 0.0001)
	assert.Equal(t, rec.Watermark, got.Watermark)
}

func TestRunArchiveStore_InsertDuplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	rec := testRecord("res-dup", "task-1", 1706745660000)
	require.NoError(t, store.Insert(ctx, rec))

	err := store.Insert(ctx, rec)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRunArchiveStore_GetByResultIDNotFound(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	_, err := store.GetByResultID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunArchiveStore_GetByTaskIDOrdered(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	// Insert out of order; reads must come back by finished_at ASC.
	require.NoError(t, store.Insert(ctx, testRecord("res-b", "task-ord", 2000)))
	require.NoError(t, store.Insert(ctx, testRecord("res-a", "task-ord", 1000)))

	incomplete := testRecord("res-c", "task-ord", 3000)
	incomplete.Outcome = "error"
	incomplete.ErrorClass = "connection_lost"
	incomplete.Complete = false
	incomplete.IncompleteReason = "trade count mismatch (have 7, want 10)"
	require.NoError(t, store.Insert(ctx, incomplete))

	records, err := store.GetByTaskID(ctx, "task-ord")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "res-a", records[0].ResultID)
	assert.Equal(t, "res-b", records[1].ResultID)
	assert.Equal(t, "res-c", records[2].ResultID)

	assert.False(t, records[2].Complete)
	assert.Equal(t, "connection_lost", records[2].ErrorClass)
	assert.Equal(t, "trade count mismatch (have 7, want 10)", records[2].IncompleteReason)
}
