package endgame

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/holonomy-labs/pathwise/internal/tracking"
)

// pathSource replays samples of x(t) at a fixed geometric time
// schedule, then reports path exhaustion.
type pathSource struct {
	times []complex128
	idx   int
	fn    func(t complex128) (point, deriv []complex128)
}

func (s *pathSource) Next() (tracking.Sample, error) {
	if s.idx >= len(s.times) {
		return tracking.Sample{}, tracking.ErrPathExhausted
	}
	t := s.times[s.idx]
	s.idx++
	p, d := s.fn(t)
	return tracking.Sample{Time: t, Point: p, Derivative: d}, nil
}

// geometricTimes returns count times t0, t0·r, t0·r², …
func geometricTimes(t0, r float64, count int) []complex128 {
	times := make([]complex128, count)
	t := t0
	for i := range times {
		times[i] = complex(t, 0)
		t *= r
	}
	return times
}

func constantPath(vals ...complex128) func(complex128) ([]complex128, []complex128) {
	return func(complex128) ([]complex128, []complex128) {
		p := make([]complex128, len(vals))
		copy(p, vals)
		return p, make([]complex128, len(vals))
	}
}

func TestEndgameConstantPathConvergesImmediately(t *testing.T) {
	eg := New(DefaultConfig())
	src := &pathSource{
		times: geometricTimes(0.5, 0.5, 16),
		fn:    constantPath(1+2i, 3),
	}

	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Fatal("expected convergence on a constant path")
	}
	if res.Refinements != 1 {
		t.Errorf("Refinements = %d, want convergence on the first comparison", res.Refinements)
	}
	if res.LastDelta != 0 {
		t.Errorf("LastDelta = %v, want exactly 0", res.LastDelta)
	}
	if res.CycleNumber != 1 {
		t.Errorf("CycleNumber = %d, want 1", res.CycleNumber)
	}
	if eg.State() != StateConverged {
		t.Errorf("State = %v, want %v", eg.State(), StateConverged)
	}
}

func TestEndgameInclusiveToleranceBoundary(t *testing.T) {
	// With tolerance exactly 0 a constant path produces deltas exactly
	// equal to the tolerance; the inclusive comparison must converge
	// rather than spin through the refinement budget.
	cfg := DefaultConfig()
	cfg.FinalTolerance = 0
	// New() treats a zero tolerance as unset, so force it after.
	eg := New(cfg)
	eg.cfg.FinalTolerance = 0

	src := &pathSource{
		times: geometricTimes(0.5, 0.5, 16),
		fn:    constantPath(7),
	}
	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Errorf("expected convergence when delta equals the tolerance exactly, got %+v", res)
	}
}

func TestEndgameSmoothQuadraticPath(t *testing.T) {
	// x(t) = t² + 1 approaching t = 0 must converge to 1.0.
	eg := New(DefaultConfig())
	src := &pathSource{
		times: geometricTimes(0.1, 0.1, 12),
		fn: func(tt complex128) ([]complex128, []complex128) {
			return []complex128{tt*tt + 1}, []complex128{2 * tt}
		},
	}

	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, got %+v", res)
	}
	if cmplx.Abs(res.Estimate[0]-1) > 1e-6 {
		t.Errorf("estimate = %v, want 1.0 within 1e-6", res.Estimate[0])
	}
}

func TestEndgameDetectsCycleNumberTwo(t *testing.T) {
	// x(t) = t^(3/2) has a cycle-2 branch at the origin: substituting
	// t = s² makes it the polynomial s³.
	eg := New(DefaultConfig())
	src := &pathSource{
		times: geometricTimes(0.25, 0.25, 12),
		fn: func(tt complex128) ([]complex128, []complex128) {
			return []complex128{cmplx.Pow(tt, 1.5)}, []complex128{1.5 * cmplx.Pow(tt, 0.5)}
		},
	}

	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, got %+v", res)
	}
	if res.CycleNumber != 2 {
		t.Errorf("CycleNumber = %d, want 2", res.CycleNumber)
	}
	if cmplx.Abs(res.Estimate[0]) > 1e-8 {
		t.Errorf("estimate = %v, want 0 within 1e-8", res.Estimate[0])
	}
}

func TestEndgameRefinementBudgetExhaustion(t *testing.T) {
	// A path that keeps changing direction never produces agreeing
	// estimates; the loop must report a structured failure, not an
	// error.
	cfg := DefaultConfig()
	cfg.MaxRefinements = 3
	cfg.FinalTolerance = 1e-300
	eg := New(cfg)

	src := &pathSource{
		times: geometricTimes(0.9, 0.7, 32),
		fn: func(tt complex128) ([]complex128, []complex128) {
			// Oscillatory, non-polynomial in any t^(1/c).
			return []complex128{cmplx.Sin(1 / tt)}, []complex128{-cmplx.Cos(1/tt) / (tt * tt)}
		},
	}

	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run returned error, want structured failure: %v", err)
	}
	if res.Converged {
		t.Fatal("expected failure for oscillatory path")
	}
	if res.Refinements != 3 {
		t.Errorf("Refinements = %d, want the full budget of 3", res.Refinements)
	}
	if res.Estimate == nil {
		t.Error("failure result must carry the last best estimate")
	}
	if math.IsNaN(res.LastDelta) {
		t.Error("failure result must carry the last delta")
	}
	if eg.State() != StateFailed {
		t.Errorf("State = %v, want %v", eg.State(), StateFailed)
	}
}

func TestEndgameGrowsWindowWhenSourceExhausted(t *testing.T) {
	// Only three samples exist; after exhaustion the loop must refine
	// by growing the window over the recorded history.
	cfg := DefaultConfig()
	cfg.NumSamplePoints = 2
	eg := New(cfg)

	src := &pathSource{
		times: geometricTimes(0.2, 0.4, 3),
		fn: func(tt complex128) ([]complex128, []complex128) {
			return []complex128{tt*tt*tt - tt + 2}, []complex128{3*tt*tt - 1}
		},
	}

	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, got %+v", res)
	}
	if cmplx.Abs(res.Estimate[0]-2) > 1e-8 {
		t.Errorf("estimate = %v, want 2", res.Estimate[0])
	}
	if eg.Stats().WindowGrowths < 1 {
		t.Errorf("WindowGrowths = %d, want at least 1", eg.Stats().WindowGrowths)
	}
}

func TestEndgameWideWindowGetsEnoughHistory(t *testing.T) {
	// A window wider than the default history capacity must widen the
	// ring instead of being clamped to it; a clamped ring can never hold
	// the initial window plus the cycle probe sample and Run drains the
	// source into a hard error.
	cfg := DefaultConfig()
	cfg.NumSamplePoints = 100
	eg := New(cfg)

	if got := eg.Config().HistoryCapacity; got < cfg.NumSamplePoints+1 {
		t.Fatalf("HistoryCapacity = %d, cannot hold window %d plus one", got, cfg.NumSamplePoints)
	}

	src := &pathSource{
		times: geometricTimes(0.5, 0.99, 300),
		fn:    constantPath(5),
	}
	res, err := eg.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Errorf("expected convergence, got %+v", res)
	}
}

func TestEndgameInsufficientInitialSamples(t *testing.T) {
	eg := New(DefaultConfig())
	src := &pathSource{
		times: geometricTimes(0.5, 0.5, 2), // fewer than NumSamplePoints
		fn:    constantPath(1),
	}
	if _, err := eg.Run(context.Background(), src); err == nil {
		t.Error("expected error when the tracker cannot supply the minimum window")
	}
}

func TestEndgameContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eg := New(DefaultConfig())
	src := &pathSource{
		times: geometricTimes(0.5, 0.5, 16),
		fn:    constantPath(1),
	}
	if _, err := eg.Run(ctx, src); err == nil {
		t.Error("expected error after cancellation between refinements")
	}
}

func TestEndgameReset(t *testing.T) {
	eg := New(DefaultConfig())
	src := &pathSource{times: geometricTimes(0.5, 0.5, 16), fn: constantPath(4)}
	if _, err := eg.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	eg.Reset()
	if eg.State() != StateIdle {
		t.Errorf("State after Reset = %v, want %v", eg.State(), StateIdle)
	}
	if eg.Stats() != (Stats{}) {
		t.Errorf("Stats after Reset = %+v, want zero", eg.Stats())
	}

	// A reused instance must run a second path cleanly, including one
	// with a different dimension.
	src2 := &pathSource{times: geometricTimes(0.5, 0.5, 16), fn: constantPath(1, 2, 3)}
	res, err := eg.Run(context.Background(), src2)
	if err != nil {
		t.Fatalf("Run after Reset: %v", err)
	}
	if !res.Converged {
		t.Errorf("expected convergence after reuse, got %+v", res)
	}
}
