package endgame

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/cmplxs"
)

// ErrInsufficientSamples reports an extrapolation request against
// fewer samples than the window size. The endgame loop never issues
// one; seeing this error means a caller contract violation.
var ErrInsufficientSamples = errors.New("endgame: insufficient samples for extrapolation window")

// HermiteExtrapolate evaluates at targetTime the unique polynomial of
// degree 2n−1 that matches both position and derivative at the n most
// recent sample times. Inputs are ordered most recent first, the
// ordering SampleHistory.Window produces; only the first n entries of
// each slice are read and none are mutated.
//
// The interpolant is built as a generalized divided-difference table
// with each node doubled: the second row of a node pair carries the
// derivative directly as its first-order difference, sidestepping the
// zero denominator a repeated node would otherwise produce. The table
// is evaluated at targetTime by a Horner fold down its diagonal.
func HermiteExtrapolate(targetTime complex128, n int, times []complex128, points, derivatives [][]complex128) ([]complex128, error) {
	if n < 1 {
		return nil, fmt.Errorf("endgame: window size must be positive, got %d", n)
	}
	if len(times) < n || len(points) < n || len(derivatives) < n {
		return nil, fmt.Errorf("%w: window %d over %d times, %d points, %d derivatives",
			ErrInsufficientSamples, n, len(times), len(points), len(derivatives))
	}
	dim := len(points[0])
	for i := 0; i < n; i++ {
		if len(points[i]) != dim || len(derivatives[i]) != dim {
			return nil, fmt.Errorf("%w: sample %d", ErrDimensionMismatch, i)
		}
	}

	// Doubled-node tableau: rows 2i and 2i+1 both belong to node i.
	// Fresh per call; only the lower triangle is ever populated.
	rows := 2 * n
	table := make([][][]complex128, rows)
	for i := range table {
		table[i] = make([][]complex128, rows)
	}
	z := make([]complex128, rows)

	for i := 0; i < n; i++ {
		table[2*i][0] = points[i]
		table[2*i+1][0] = points[i]
		table[2*i+1][1] = derivatives[i]
		z[2*i] = times[i]
		z[2*i+1] = times[i]
	}

	// First-order differences between distinct nodes.
	for i := 1; i < n; i++ {
		d := make([]complex128, dim)
		cmplxs.SubTo(d, table[2*i][0], table[2*i-1][0])
		cmplxs.Scale(1/(z[2*i]-z[2*i-1]), d)
		table[2*i][1] = d
	}

	// Generalized divided-difference recurrence for the rest.
	for i := 2; i < rows; i++ {
		for j := 2; j <= i; j++ {
			d := make([]complex128, dim)
			cmplxs.SubTo(d, table[i][j-1], table[i-1][j-1])
			cmplxs.Scale(1/(z[i]-z[i-j]), d)
			table[i][j] = d
		}
	}

	// Horner fold over the doubled node vector: each diagonal entry is
	// folded in with its (targetTime - node) factor, highest term first.
	result := make([]complex128, dim)
	copy(result, table[rows-1][rows-1])
	for k := rows - 2; k >= 0; k-- {
		cmplxs.Scale(targetTime-z[k], result)
		cmplxs.Add(result, table[k][k])
	}
	return result, nil
}
