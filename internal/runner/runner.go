// Package runner fans a batch of paths out to worker goroutines, each
// driving a pooled endgame instance, and routes outcomes to the
// optional run store and convergence plotter.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holonomy-labs/pathwise/internal/endgame"
	"github.com/holonomy-labs/pathwise/internal/monitor"
	"github.com/holonomy-labs/pathwise/internal/pool"
	"github.com/holonomy-labs/pathwise/internal/storage/sqlite"
	"github.com/holonomy-labs/pathwise/internal/tracking"
)

// Config holds the batch runner parameters.
type Config struct {
	// Workers is the number of concurrent endgame workers. Values below
	// 1 are treated as 1.
	Workers int

	// Endgame configures every pooled endgame instance.
	Endgame endgame.Config
}

// PathSpec names one path and the sample source that tracks it.
type PathSpec struct {
	PathID string
	Source tracking.SampleSource
}

// PathOutcome is the terminal record for one path in a batch.
type PathOutcome struct {
	PathID     string
	RunID      string
	Result     endgame.Result
	Stats      endgame.Stats
	State      endgame.State
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// BatchResult aggregates a whole batch.
type BatchResult struct {
	BatchID   string
	Outcomes  []PathOutcome
	Converged int
	Failed    int
	Errored   int
	Elapsed   time.Duration
}

// RunRecorder persists one path outcome. Satisfied by
// *sqlite.RunStore.
type RunRecorder interface {
	Insert(ctx context.Context, run *sqlite.PathRun) error
}

// ProgressRecorder observes refinement progress. Satisfied by
// *monitor.ConvergencePlotter.
type ProgressRecorder interface {
	Record(pathID string, sample monitor.RefinementSample)
}

// Runner executes endgame batches. Endgame instances are pooled and
// reused across paths; the pool never hands one instance to two
// workers at once.
type Runner struct {
	cfg     Config
	engines *pool.Pool[*endgame.PowerSeriesEndgame]
	store   RunRecorder
	plotter ProgressRecorder
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Runner{
		cfg: cfg,
		engines: pool.New(func() *endgame.PowerSeriesEndgame {
			return endgame.New(cfg.Endgame)
		}),
	}
}

// WithStore attaches a run recorder. Outcomes are persisted as each
// path finishes.
func (r *Runner) WithStore(store RunRecorder) *Runner {
	r.store = store
	return r
}

// WithPlotter attaches a progress recorder fed once per refinement.
func (r *Runner) WithPlotter(plotter ProgressRecorder) *Runner {
	r.plotter = plotter
	return r
}

// PoolStats reports engine pool usage for the runner's lifetime.
func (r *Runner) PoolStats() pool.Stats {
	return r.engines.Stats()
}

// RunBatch runs the endgame for every path and returns per-path
// outcomes in input order. A path that exhausts its refinement budget
// counts as failed, not errored; Err is reserved for tracker faults
// and cancellation. batchID may be empty, in which case one is
// generated.
func (r *Runner) RunBatch(ctx context.Context, batchID string, paths []PathSpec) (*BatchResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths in batch")
	}
	if batchID == "" {
		batchID = uuid.New().String()
	}

	workers := r.cfg.Workers
	if workers > len(paths) {
		workers = len(paths)
	}

	log.Printf("batch %s: starting %d paths on %d workers", batchID, len(paths), workers)
	start := time.Now()

	jobs := make(chan int)
	outcomes := make([]PathOutcome, len(paths))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				outcomes[idx] = r.runPath(ctx, batchID, idx, paths[idx])
			}
		}()
	}

	for idx := range paths {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	batch := &BatchResult{
		BatchID:  batchID,
		Outcomes: outcomes,
		Elapsed:  time.Since(start),
	}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			batch.Errored++
		case o.Result.Converged:
			batch.Converged++
		default:
			batch.Failed++
		}
	}

	log.Printf("batch %s: done in %v (converged=%d failed=%d errored=%d)",
		batchID, batch.Elapsed, batch.Converged, batch.Failed, batch.Errored)
	return batch, nil
}

// runPath drives one path on a pooled endgame instance and persists
// the outcome.
func (r *Runner) runPath(ctx context.Context, batchID string, pathIndex int, spec PathSpec) PathOutcome {
	pathID := spec.PathID
	if pathID == "" {
		pathID = fmt.Sprintf("path-%d", pathIndex)
	}

	handle := r.engines.Acquire()
	eg := handle.Value()
	eg.Reset()

	if r.plotter != nil {
		id := pathID
		eg.OnRefinement(func(refinement, cycle, window int, delta float64) {
			r.plotter.Record(id, monitor.RefinementSample{
				Refinement: refinement,
				Cycle:      cycle,
				Window:     window,
				Delta:      delta,
			})
		})
	}

	outcome := PathOutcome{
		PathID:    pathID,
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	result, err := eg.Run(ctx, spec.Source)
	outcome.FinishedAt = time.Now()
	outcome.Result = result
	outcome.Stats = eg.Stats()
	outcome.State = eg.State()
	outcome.Err = err

	if err := handle.Release(); err != nil {
		log.Printf("batch %s: releasing engine for %s: %v", batchID, pathID, err)
	}

	if outcome.Err != nil {
		log.Printf("batch %s: path %s errored after %d samples: %v",
			batchID, pathID, outcome.Stats.SamplesCollected, outcome.Err)
	}

	if r.store != nil {
		if err := r.store.Insert(ctx, outcomeRecord(batchID, pathIndex, &outcome)); err != nil {
			log.Printf("batch %s: persisting path %s: %v", batchID, pathID, err)
			if outcome.Err == nil {
				outcome.Err = fmt.Errorf("persisting outcome: %w", err)
			}
		}
	}

	return outcome
}

// outcomeRecord converts an outcome into its storage row.
func outcomeRecord(batchID string, pathIndex int, o *PathOutcome) *sqlite.PathRun {
	// A path abandoned before its first comparison has no delta yet.
	// SQLite stores NaN as NULL, which would break scanning.
	lastDelta := o.Result.LastDelta
	if math.IsNaN(lastDelta) {
		lastDelta = -1
	}
	return &sqlite.PathRun{
		RunID:            o.RunID,
		BatchID:          batchID,
		PathIndex:        pathIndex,
		State:            o.State.String(),
		CycleNumber:      o.Result.CycleNumber,
		Refinements:      o.Result.Refinements,
		LastDelta:        lastDelta,
		EstimateJSON:     encodeEstimate(o.Result.Estimate),
		SamplesCollected: o.Stats.SamplesCollected,
		Extrapolations:   o.Stats.Extrapolations,
		StartedAt:        o.StartedAt,
		FinishedAt:       o.FinishedAt,
	}
}

// encodeEstimate marshals a coordinate vector as [re, im] pairs.
func encodeEstimate(estimate []complex128) json.RawMessage {
	if estimate == nil {
		return nil
	}
	pairs := make([][2]float64, len(estimate))
	for i, z := range estimate {
		pairs[i] = [2]float64{real(z), imag(z)}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return nil
	}
	return data
}
