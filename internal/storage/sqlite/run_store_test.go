package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err, "opening test database")
	t.Cleanup(func() { db.Close() })
	return db
}

func testRun(batchID string, pathIndex int) *PathRun {
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &PathRun{
		BatchID:          batchID,
		PathIndex:        pathIndex,
		State:            "converged",
		CycleNumber:      2,
		Refinements:      5,
		LastDelta:        3.2e-12,
		EstimateJSON:     json.RawMessage(`[[1.0,0.0],[0.5,-0.25]]`),
		SamplesCollected: 9,
		Extrapolations:   6,
		StartedAt:        started,
		FinishedAt:       started.Add(120 * time.Millisecond),
	}
}

func TestRunStoreInsertAndGet(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)
	ctx := context.Background()

	run := testRun("batch-a", 0)
	require.NoError(t, store.Insert(ctx, run))
	assert.NotEmpty(t, run.RunID, "Insert should assign a run ID")

	got, err := store.GetByID(ctx, run.RunID)
	require.NoError(t, err)

	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.BatchID, got.BatchID)
	assert.Equal(t, run.PathIndex, got.PathIndex)
	assert.Equal(t, run.State, got.State)
	assert.Equal(t, run.CycleNumber, got.CycleNumber)
	assert.Equal(t, run.Refinements, got.Refinements)
	assert.Equal(t, run.LastDelta, got.LastDelta)
	assert.JSONEq(t, string(run.EstimateJSON), string(got.EstimateJSON))
	assert.Equal(t, run.SamplesCollected, got.SamplesCollected)
	assert.Equal(t, run.Extrapolations, got.Extrapolations)
	assert.True(t, got.StartedAt.Equal(run.StartedAt), "StartedAt round trip")
	assert.True(t, got.FinishedAt.Equal(run.FinishedAt), "FinishedAt round trip")
}

func TestRunStoreInsertPreservesExplicitID(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)
	ctx := context.Background()

	run := testRun("batch-a", 0)
	run.RunID = "explicit-id"
	require.NoError(t, store.Insert(ctx, run))
	assert.Equal(t, "explicit-id", run.RunID)

	got, err := store.GetByID(ctx, "explicit-id")
	require.NoError(t, err)
	assert.Equal(t, "batch-a", got.BatchID)
}

func TestRunStoreInsertRequiresBatchID(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)

	run := testRun("", 0)
	err := store.Insert(context.Background(), run)
	assert.Error(t, err)
}

func TestRunStoreInsertNilEstimate(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)
	ctx := context.Background()

	run := testRun("batch-a", 0)
	run.EstimateJSON = nil
	run.State = "failed"
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Nil(t, got.EstimateJSON)
	assert.Equal(t, "failed", got.State)
}

func TestRunStoreGetByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)

	_, err := store.GetByID(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStoreListByBatch(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)
	ctx := context.Background()

	// Insert out of order to verify path_index ordering.
	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, store.Insert(ctx, testRun("batch-a", idx)))
	}
	require.NoError(t, store.Insert(ctx, testRun("batch-b", 0)))

	runs, err := store.ListByBatch(ctx, "batch-a")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, run := range runs {
		assert.Equal(t, i, run.PathIndex, "runs should be ordered by path index")
		assert.Equal(t, "batch-a", run.BatchID)
	}

	empty, err := store.ListByBatch(ctx, "batch-missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRunStoreCountByState(t *testing.T) {
	db := openTestDB(t)
	store := NewRunStore(db.DB)
	ctx := context.Background()

	converged := testRun("batch-a", 0)
	require.NoError(t, store.Insert(ctx, converged))

	failed := testRun("batch-a", 1)
	failed.State = "failed"
	require.NoError(t, store.Insert(ctx, failed))

	failed2 := testRun("batch-a", 2)
	failed2.State = "failed"
	require.NoError(t, store.Insert(ctx, failed2))

	counts, err := store.CountByState(ctx, "batch-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"converged": 1, "failed": 2}, counts)
}

func TestMigrationsMatchBootstrapSchema(t *testing.T) {
	// A database bootstrapped from schema.sql and one built from the
	// migrations should expose identical table shapes.
	db := openTestDB(t)

	var count int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type = 'table' AND name = 'endgame_runs'
	`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "bootstrap should create endgame_runs")
}
