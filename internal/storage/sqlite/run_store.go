package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// PathRun is one persisted endgame outcome for a single path.
type PathRun struct {
	RunID            string          `json:"run_id"`
	BatchID          string          `json:"batch_id"`
	PathIndex        int             `json:"path_index"`
	State            string          `json:"state"`
	CycleNumber      int             `json:"cycle_number"`
	Refinements      int             `json:"refinements"`
	LastDelta        float64         `json:"last_delta"`
	EstimateJSON     json.RawMessage `json:"estimate_json,omitempty"`
	SamplesCollected int             `json:"samples_collected"`
	Extrapolations   int             `json:"extrapolations"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// RunStore persists and queries endgame run records.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by db.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert writes a run record. If run.RunID is empty a new UUID is
// assigned and written back into run.
func (s *RunStore) Insert(ctx context.Context, run *PathRun) error {
	if run == nil {
		return errors.New("nil run")
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.BatchID == "" {
		return errors.New("batch ID is required")
	}

	var estimate interface{}
	if len(run.EstimateJSON) > 0 {
		estimate = string(run.EstimateJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO endgame_runs (
				run_id, batch_id, path_index, state,
				cycle_number, refinements, last_delta, estimate_json,
				samples_collected, extrapolations, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.BatchID, run.PathIndex, run.State,
			run.CycleNumber, run.Refinements, run.LastDelta, estimate,
			run.SamplesCollected, run.Extrapolations,
			run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("inserting run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// GetByID fetches a single run record by its run ID.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*PathRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, batch_id, path_index, state,
		       cycle_number, refinements, last_delta, estimate_json,
		       samples_collected, extrapolations, started_at, finished_at
		FROM endgame_runs
		WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return run, nil
}

// ListByBatch returns all run records for a batch, ordered by path
// index.
func (s *RunStore) ListByBatch(ctx context.Context, batchID string) ([]*PathRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, batch_id, path_index, state,
		       cycle_number, refinements, last_delta, estimate_json,
		       samples_collected, extrapolations, started_at, finished_at
		FROM endgame_runs
		WHERE batch_id = ?
		ORDER BY path_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var runs []*PathRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch %s: %w", batchID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batch %s: %w", batchID, err)
	}
	return runs, nil
}

// CountByState returns the number of runs in a batch per state string.
func (s *RunStore) CountByState(ctx context.Context, batchID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*)
		FROM endgame_runs
		WHERE batch_id = ?
		GROUP BY state`, batchID)
	if err != nil {
		return nil, fmt.Errorf("counting batch %s: %w", batchID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning state counts: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*PathRun, error) {
	var run PathRun
	var estimate sql.NullString
	var startedNanos, finishedNanos int64

	err := row.Scan(
		&run.RunID, &run.BatchID, &run.PathIndex, &run.State,
		&run.CycleNumber, &run.Refinements, &run.LastDelta, &estimate,
		&run.SamplesCollected, &run.Extrapolations,
		&startedNanos, &finishedNanos,
	)
	if err != nil {
		return nil, err
	}

	if estimate.Valid {
		run.EstimateJSON = json.RawMessage(estimate.String)
	}
	run.StartedAt = time.Unix(0, startedNanos)
	run.FinishedAt = time.Unix(0, finishedNanos)
	return &run, nil
}

// isSQLiteBusy reports whether err indicates SQLITE_BUSY contention.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while it
// returns a busy error. Any other error is returned immediately.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	delay := 10 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}
