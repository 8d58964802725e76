// Package tracking defines the contracts between the endgame library
// and the external predictor-corrector path tracker.
//
// The tracker produces samples and per-step condition estimates; the
// endgame and precision criteria consume them. Nothing in this package
// performs numerics itself, so swapping trackers (or feeding recorded
// runs back through the replay tool) needs no changes elsewhere.
package tracking

import "errors"

// ErrPathExhausted is returned by a SampleSource when the tracker
// cannot advance the path any closer to the target time.
var ErrPathExhausted = errors.New("tracking: path cannot advance further")

// Sample is one record taken by the path tracker as it approaches the
// endgame boundary: the path time, the solution coordinates at that
// time, and the derivative dx/dt there. Immutable once recorded.
type Sample struct {
	Time       complex128
	Point      []complex128
	Derivative []complex128
}

// Dim returns the number of solution coordinates.
func (s Sample) Dim() int {
	return len(s.Point)
}

// Clone returns a deep copy of the sample. The endgame history clones
// on append so later tracker-side buffer reuse cannot corrupt it.
func (s Sample) Clone() Sample {
	c := Sample{
		Time:       s.Time,
		Point:      make([]complex128, len(s.Point)),
		Derivative: make([]complex128, len(s.Derivative)),
	}
	copy(c.Point, s.Point)
	copy(c.Derivative, s.Derivative)
	return c
}

// SampleSource yields successive samples as the tracker steps a single
// path toward the endgame target time. Implementations are consumed by
// exactly one endgame instance and need no internal locking.
type SampleSource interface {
	// Next advances the tracker by one step and returns the new
	// sample. It returns ErrPathExhausted when the path cannot be
	// advanced further; any other error aborts the endgame.
	Next() (Sample, error)
}

// StepEstimates bundles the per-step quantities the tracker computes
// for the precision criteria: norm estimates of the Jacobian and its
// inverse at the current point, the norm of the point itself, the
// latest Newton residual, the tracking tolerance, and how many Newton
// iterations remain in the active correction.
type StepEstimates struct {
	NormJ                float64
	NormJInverse         float64
	NormZ                float64
	ResidualNorm         float64
	TrackingTolerance    float64
	NewtonItersRemaining int
}
