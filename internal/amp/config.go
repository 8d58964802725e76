package amp

import "math"

// Config holds the adaptive multiple precision tuning constants. The
// values bound how much local error can be amplified by one tracking
// step and are fixed for the duration of a tracking run.
type Config struct {
	// SafetyDigits1 pads Criteria A and B against underestimated
	// Jacobian condition.
	SafetyDigits1 int `json:"safety_digits_1"`

	// SafetyDigits2 pads Criterion C against underestimated point size.
	SafetyDigits2 int `json:"safety_digits_2"`

	// Epsilon bounds the error amplification of one evaluation of the
	// system, roughly the square of the number of variables.
	Epsilon float64 `json:"epsilon"`

	// Phi bounds the norm of the error in evaluating the Jacobian.
	Phi float64 `json:"phi"`

	// Psi bounds the norm of the error in evaluating the system itself.
	Psi float64 `json:"psi"`
}

// DefaultConfig returns AMP constants suitable for a small dense
// system when the coefficient and degree bounds are unknown.
func DefaultConfig() Config {
	return Config{
		SafetyDigits1: 1,
		SafetyDigits2: 1,
		Epsilon:       16, // (num variables)² for a generic 4-variable system
		Phi:           20,
		Psi:           10,
	}
}

// ConfigFromSystemBounds derives the AMP constants from bounds on the
// polynomial system: the number of variables, a bound on the absolute
// value of its coefficients, and a bound on the degree of any one
// polynomial. Safety digits stay at their defaults.
func ConfigFromSystemBounds(numVariables int, coefficientBound, degreeBound float64) Config {
	n := float64(numVariables)
	return Config{
		SafetyDigits1: 1,
		SafetyDigits2: 1,
		Epsilon:       n * n,
		Phi:           degreeBound * math.Sqrt(n) * coefficientBound,
		Psi:           degreeBound * coefficientBound,
	}
}
