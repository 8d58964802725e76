// Package endgame implements the adaptive power-series endgame: a
// bounded sample history fed by the path tracker, a Hermite
// divided-difference extrapolator, and the convergence loop that
// decides when an extrapolated endpoint estimate is trustworthy.
//
// Concurrency is strictly across paths: one endgame instance is owned
// by one goroutine and has no internal locking or suspension points.
package endgame

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/holonomy-labs/pathwise/internal/tracking"
)

// State identifies where the endgame loop is in its lifecycle.
type State string

const (
	StateIdle          State = "idle"          // No run started yet
	StateCollecting    State = "collecting"    // Waiting on tracker samples
	StateExtrapolating State = "extrapolating" // Building an estimate
	StateComparing     State = "comparing"     // Checking successive estimates
	StateConverged     State = "converged"     // Terminal, success
	StateFailed        State = "failed"        // Terminal, refinement budget exhausted
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Config holds the endgame loop parameters.
type Config struct {
	// NumSamplePoints is the extrapolation window size for the first
	// estimate. The Hermite interpolant has degree 2·NumSamplePoints−1.
	NumSamplePoints int `json:"num_sample_points"`

	// MaxCycleNumber bounds the cycle-number search. Paths with cycle
	// number above this bound will not converge.
	MaxCycleNumber int `json:"max_cycle_number"`

	// MaxRefinements bounds how many successive estimates are compared
	// before the endgame reports failure.
	MaxRefinements int `json:"max_refinements"`

	// FinalTolerance is the inclusive bound on the difference between
	// successive estimates that declares convergence.
	FinalTolerance float64 `json:"final_tolerance"`

	// TargetTime is where the interpolant is evaluated, normally the
	// origin.
	TargetTime complex128 `json:"-"`

	// HistoryCapacity bounds the sample history ring.
	HistoryCapacity int `json:"history_capacity"`
}

// DefaultConfig returns the standard endgame parameters.
func DefaultConfig() Config {
	return Config{
		NumSamplePoints: 3,
		MaxCycleNumber:  6,
		MaxRefinements:  12,
		FinalTolerance:  1e-11,
		TargetTime:      0,
		HistoryCapacity: 64,
	}
}

// Result is the terminal outcome of one path's endgame. Exhausting the
// refinement budget is reported here, not as an error.
type Result struct {
	Converged   bool         `json:"converged"`
	Estimate    []complex128 `json:"-"`
	CycleNumber int          `json:"cycle_number"`
	Refinements int          `json:"refinements"`
	LastDelta   float64      `json:"last_delta"`
}

// Stats counts the work one endgame run performed.
type Stats struct {
	SamplesCollected int `json:"samples_collected"`
	Extrapolations   int `json:"extrapolations"`
	CycleCandidates  int `json:"cycle_candidates"`
	WindowGrowths    int `json:"window_growths"`
}

// RefinementFunc observes one refinement iteration: its ordinal, the
// cycle-number guess and window size used, and the estimate delta.
type RefinementFunc func(refinement, cycle, window int, delta float64)

// PowerSeriesEndgame runs the power-series endgame for a single path.
// Not safe for concurrent use; run one instance per path.
type PowerSeriesEndgame struct {
	cfg     Config
	history *SampleHistory
	state   State
	stats   Stats

	onRefinement RefinementFunc
}

// New creates an endgame with the given configuration. Zero-valued
// fields fall back to DefaultConfig.
func New(cfg Config) *PowerSeriesEndgame {
	def := DefaultConfig()
	if cfg.NumSamplePoints < 1 {
		cfg.NumSamplePoints = def.NumSamplePoints
	}
	if cfg.MaxCycleNumber < 1 {
		cfg.MaxCycleNumber = def.MaxCycleNumber
	}
	if cfg.MaxRefinements < 1 {
		cfg.MaxRefinements = def.MaxRefinements
	}
	if cfg.FinalTolerance <= 0 {
		cfg.FinalTolerance = def.FinalTolerance
	}
	// The ring must hold the initial window plus the cycle probe sample
	// and leave room to grow; falling back to the default capacity would
	// starve windows wider than it.
	if cfg.HistoryCapacity < 2*cfg.NumSamplePoints {
		cfg.HistoryCapacity = max(2*cfg.NumSamplePoints, def.HistoryCapacity)
	}
	return &PowerSeriesEndgame{
		cfg:     cfg,
		history: NewSampleHistory(cfg.HistoryCapacity),
		state:   StateIdle,
	}
}

// OnRefinement installs an observer called once per refinement. Used
// by the convergence monitor; nil disables observation.
func (e *PowerSeriesEndgame) OnRefinement(fn RefinementFunc) {
	e.onRefinement = fn
}

// State returns the current lifecycle state.
func (e *PowerSeriesEndgame) State() State {
	return e.state
}

// Stats returns the work counters for the most recent run.
func (e *PowerSeriesEndgame) Stats() Stats {
	return e.stats
}

// Config returns the active configuration.
func (e *PowerSeriesEndgame) Config() Config {
	return e.cfg
}

// Reset returns the endgame to its idle state so a pooled instance can
// be reused for another path. The history buffer is retained.
func (e *PowerSeriesEndgame) Reset() {
	e.history.Clear()
	e.state = StateIdle
	e.stats = Stats{}
	e.onRefinement = nil
}

// Run drives the endgame for one path: collect samples from src,
// extrapolate at increasing refinement, and compare successive
// estimates against the final tolerance (inclusively, so an exact
// boundary hit converges rather than looping).
//
// A Result with Converged=false means the refinement budget ran out;
// that is a structured outcome, not an error. Errors are reserved for
// contract violations, tracker failures, and context cancellation
// (checked between refinements, so abandoning a path mid-endgame never
// corrupts anything outside this instance).
func (e *PowerSeriesEndgame) Run(ctx context.Context, src tracking.SampleSource) (Result, error) {
	e.stats = Stats{}
	e.state = StateCollecting

	// One sample beyond the window seeds the cycle-number probe.
	exhausted := false
	for e.history.Len() < e.cfg.NumSamplePoints+1 {
		if err := e.collect(src); err != nil {
			if errors.Is(err, tracking.ErrPathExhausted) && e.history.Len() >= e.cfg.NumSamplePoints {
				exhausted = true
				break
			}
			e.state = StateFailed
			return Result{}, fmt.Errorf("collecting initial endgame samples: %w", err)
		}
	}

	window := e.cfg.NumSamplePoints
	cycle := e.estimateCycle(window)

	e.state = StateExtrapolating
	prev, err := e.extrapolate(cycle, window)
	if err != nil {
		e.state = StateFailed
		return Result{}, err
	}

	lastDelta := math.NaN()
	for refinement := 1; refinement <= e.cfg.MaxRefinements; refinement++ {
		if err := ctx.Err(); err != nil {
			e.state = StateFailed
			return Result{Estimate: prev, CycleNumber: cycle, Refinements: refinement - 1, LastDelta: lastDelta}, err
		}

		// Prefer a fresh sample closer to the target; once the tracker
		// is exhausted, refine by growing the window over the history.
		e.state = StateCollecting
		if !exhausted {
			if err := e.collect(src); err != nil {
				if !errors.Is(err, tracking.ErrPathExhausted) {
					e.state = StateFailed
					return Result{}, fmt.Errorf("collecting refinement sample: %w", err)
				}
				exhausted = true
			}
		}
		if exhausted {
			if window+1 > e.history.Len() {
				e.state = StateFailed
				return Result{Estimate: prev, CycleNumber: cycle, Refinements: refinement - 1, LastDelta: lastDelta}, nil
			}
			window++
			e.stats.WindowGrowths++
		}

		cycle = e.estimateCycle(window)

		e.state = StateExtrapolating
		est, err := e.extrapolate(cycle, window)
		if err != nil {
			e.state = StateFailed
			return Result{}, err
		}

		e.state = StateComparing
		delta := estimateDelta(est, prev)
		lastDelta = delta
		if e.onRefinement != nil {
			e.onRefinement(refinement, cycle, window, delta)
		}
		if delta <= e.cfg.FinalTolerance {
			e.state = StateConverged
			return Result{
				Converged:   true,
				Estimate:    est,
				CycleNumber: cycle,
				Refinements: refinement,
				LastDelta:   delta,
			}, nil
		}
		prev = est
	}

	e.state = StateFailed
	return Result{
		Estimate:    prev,
		CycleNumber: cycle,
		Refinements: e.cfg.MaxRefinements,
		LastDelta:   lastDelta,
	}, nil
}

func (e *PowerSeriesEndgame) collect(src tracking.SampleSource) error {
	s, err := src.Next()
	if err != nil {
		return err
	}
	if err := e.history.Append(s); err != nil {
		return err
	}
	e.stats.SamplesCollected++
	return nil
}

// extrapolate runs the Hermite extrapolator over the most recent
// window samples with times reparametrized for the given cycle number.
func (e *PowerSeriesEndgame) extrapolate(cycle, window int) ([]complex128, error) {
	times, points, derivs, err := e.history.Window(window)
	if err != nil {
		return nil, err
	}
	s, dxds, target := reparametrize(times, derivs, e.cfg.TargetTime, cycle)
	est, err := HermiteExtrapolate(target, window, s, points, dxds)
	if err != nil {
		return nil, err
	}
	e.stats.Extrapolations++
	return est, nil
}

// estimateCycle picks the cycle-number guess whose reparametrization
// makes two staggered windows of the current history agree best at the
// target time. Agreement of successive interpolants is exactly what
// convergence will later be judged on, so the argmin is the natural
// candidate. Needs window+1 samples; with fewer, the guess stays 1.
func (e *PowerSeriesEndgame) estimateCycle(window int) int {
	if e.history.Len() < window+1 {
		return 1
	}
	times, points, derivs, err := e.history.Window(window + 1)
	if err != nil {
		return 1
	}

	best, bestDelta := 1, math.Inf(1)
	for c := 1; c <= e.cfg.MaxCycleNumber; c++ {
		s, dxds, target := reparametrize(times, derivs, e.cfg.TargetTime, c)
		recent, err := HermiteExtrapolate(target, window, s, points, dxds)
		if err != nil {
			continue
		}
		older, err := HermiteExtrapolate(target, window, s[1:], points[1:], dxds[1:])
		if err != nil {
			continue
		}
		e.stats.CycleCandidates++
		// A correct reparametrization improves agreement by orders of
		// magnitude; demand a decisive win so noise never promotes a
		// larger cycle over an already-adequate smaller one.
		if delta := estimateDelta(recent, older); delta < 0.1*bestDelta {
			best, bestDelta = c, delta
		}
	}
	return best
}

// reparametrize maps path time t to s = t^(1/cycle) and the stored
// dx/dt to dx/ds = (dx/dt)·cycle·s^(cycle−1), the substitution that
// makes a cycle-number-c branch analytic in s. Cycle 1 is the
// identity and returns the inputs unchanged.
func reparametrize(times []complex128, derivatives [][]complex128, targetTime complex128, cycle int) (s []complex128, dxds [][]complex128, target complex128) {
	if cycle == 1 {
		return times, derivatives, targetTime
	}
	inv := complex(1/float64(cycle), 0)
	c := complex(float64(cycle), 0)

	s = make([]complex128, len(times))
	dxds = make([][]complex128, len(derivatives))
	for i, t := range times {
		s[i] = cmplx.Pow(t, inv)
		dtds := c * cmplx.Pow(s[i], c-1)
		d := make([]complex128, len(derivatives[i]))
		for j, v := range derivatives[i] {
			d[j] = v * dtds
		}
		dxds[i] = d
	}
	return s, dxds, cmplx.Pow(targetTime, inv)
}

// estimateDelta is the Euclidean norm of the difference between two
// estimates.
func estimateDelta(a, b []complex128) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += real(d)*real(d) + imag(d)*imag(d)
	}
	return math.Sqrt(sum)
}
