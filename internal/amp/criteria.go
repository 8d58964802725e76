// Package amp implements the adaptive multiple precision (AMP)
// criteria that decide, from local error-amplification estimates,
// whether the tracker's working precision is numerically safe for the
// next Newton-corrector step.
//
// All three criteria are pure functions of externally supplied norm
// estimates and the AMP constants; a failed criterion is a routine
// signal to raise precision or shrink the step, never an error. The
// functions are reentrant and safe to call concurrently on independent
// inputs.
package amp

import (
	"errors"
	"math"

	"github.com/holonomy-labs/pathwise/internal/tracking"
)

// ErrNoIterationsRemaining reports a Criterion B call with a
// non-positive Newton iteration count. This is a caller contract
// violation: the criterion divides by the remaining iteration count.
var ErrNoIterationsRemaining = errors.New("amp: newton iterations remaining must be positive")

// CriterionA checks that the working digit count clears the precision
// floor for a single evaluation:
//
//	digits > safety_digits_1 + log10(‖J⁻¹‖ · ε · (‖J‖ + Φ))
//
// True means the precision is adequate; false means the tracker must
// raise precision or shrink the step.
func CriterionA(digits int, normJ, normJInverse float64, cfg Config) bool {
	return float64(digits) > float64(cfg.SafetyDigits1)+
		math.Log10(normJInverse*cfg.Epsilon*(normJ+cfg.Phi))
}

// D is the shared error-amplification term of Criterion B:
//
//	D = log10(‖J⁻¹‖·((2+ε)·‖J‖ + ε·Φ) + 1)
func D(normJ, normJInverse float64, cfg Config) float64 {
	return math.Log10(normJInverse*((2+cfg.Epsilon)*normJ+cfg.Epsilon*cfg.Phi) + 1)
}

// CriterionBRHS evaluates the right hand side of Criterion B. The
// remaining-iterations count must be positive; the caller guards this
// (CriterionB and Evaluate do).
func CriterionBRHS(normJ, normJInverse float64, itersRemaining int, trackingTolerance, residualNorm float64, cfg Config) float64 {
	return float64(cfg.SafetyDigits1) + D(normJ, normJInverse, cfg) +
		(-math.Log10(trackingTolerance)+math.Log10(residualNorm))/float64(itersRemaining)
}

// CriterionB checks the precision floor accounting for the Newton
// iterations still to be performed and the latest residual norm.
// itersRemaining must be positive.
func CriterionB(digits int, normJ, normJInverse float64, itersRemaining int, trackingTolerance, residualNorm float64, cfg Config) bool {
	return float64(digits) > CriterionBRHS(normJ, normJInverse, itersRemaining, trackingTolerance, residualNorm, cfg)
}

// CriterionCRHS evaluates the right hand side of Criterion C, the
// precision floor tied to the absolute size of the current point.
func CriterionCRHS(normJInverse, normZ, trackingTolerance float64, cfg Config) float64 {
	return float64(cfg.SafetyDigits2) - math.Log10(trackingTolerance) +
		math.Log10(normJInverse*cfg.Psi+normZ)
}

// CriterionC checks the precision floor related to the size of the
// current solution point.
func CriterionC(digits int, normJInverse, normZ, trackingTolerance float64, cfg Config) bool {
	return float64(digits) > CriterionCRHS(normJInverse, normZ, trackingTolerance, cfg)
}

// Verdict reports the outcome of evaluating all three criteria for one
// step. A step is numerically trustworthy only when all three pass.
type Verdict struct {
	A bool `json:"a"`
	B bool `json:"b"`
	C bool `json:"c"`
}

// OK reports whether every criterion passed.
func (v Verdict) OK() bool {
	return v.A && v.B && v.C
}

// Evaluate runs all three criteria against one step's estimates. It
// returns ErrNoIterationsRemaining if the estimates carry a
// non-positive Newton iteration count.
func Evaluate(digits int, est tracking.StepEstimates, cfg Config) (Verdict, error) {
	if est.NewtonItersRemaining <= 0 {
		return Verdict{}, ErrNoIterationsRemaining
	}
	return Verdict{
		A: CriterionA(digits, est.NormJ, est.NormJInverse, cfg),
		B: CriterionB(digits, est.NormJ, est.NormJInverse, est.NewtonItersRemaining, est.TrackingTolerance, est.ResidualNorm, cfg),
		C: CriterionC(digits, est.NormJInverse, est.NormZ, est.TrackingTolerance, cfg),
	}, nil
}
