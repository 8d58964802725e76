package endgame

import (
	"errors"
	"fmt"

	"github.com/holonomy-labs/pathwise/internal/tracking"
)

// Sample history errors.
var (
	// ErrDimensionMismatch reports a sample whose point or derivative
	// length disagrees with the history's established dimension.
	ErrDimensionMismatch = errors.New("endgame: sample dimension mismatch")

	// ErrNonIncreasingTime reports a sample whose time duplicates the
	// most recently appended time. Duplicate node times would put a
	// zero denominator in the divided-difference table.
	ErrNonIncreasingTime = errors.New("endgame: sample time duplicates previous sample")
)

// SampleHistory is a bounded chronological record of the samples taken
// by the tracker as a path approaches the endgame boundary. Appends are
// in tracking order, most recent last; once the capacity is reached the
// oldest sample is overwritten. The history is owned by the single
// goroutine running one path's endgame and needs no locking.
type SampleHistory struct {
	samples  []tracking.Sample
	capacity int
	head     int // next write position
	size     int
	dim      int // established on first append
}

// NewSampleHistory creates a history holding up to capacity samples.
func NewSampleHistory(capacity int) *SampleHistory {
	if capacity < 1 {
		capacity = 64 // Default
	}
	return &SampleHistory{
		samples:  make([]tracking.Sample, capacity),
		capacity: capacity,
	}
}

// Append records a sample, deep-copying its slices so the tracker may
// reuse its buffers. The first append fixes the dimension; later
// appends must match it and must carry a time distinct from the
// previous sample's.
func (h *SampleHistory) Append(s tracking.Sample) error {
	if len(s.Point) != len(s.Derivative) {
		return fmt.Errorf("%w: point dim %d, derivative dim %d", ErrDimensionMismatch, len(s.Point), len(s.Derivative))
	}
	if h.size == 0 && h.dim == 0 {
		h.dim = len(s.Point)
	} else if len(s.Point) != h.dim {
		return fmt.Errorf("%w: got dim %d, history dim %d", ErrDimensionMismatch, len(s.Point), h.dim)
	}
	if h.size > 0 {
		last := h.samples[(h.head-1+h.capacity)%h.capacity]
		if s.Time == last.Time {
			return fmt.Errorf("%w: time %v", ErrNonIncreasingTime, s.Time)
		}
	}

	h.samples[h.head] = s.Clone()
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
	return nil
}

// Len returns the number of samples currently held.
func (h *SampleHistory) Len() int {
	return h.size
}

// Capacity returns the maximum number of samples held.
func (h *SampleHistory) Capacity() int {
	return h.capacity
}

// Dim returns the solution dimension, or 0 before the first append.
func (h *SampleHistory) Dim() int {
	return h.dim
}

// Clear discards all samples. The dimension resets with the next
// append.
func (h *SampleHistory) Clear() {
	for i := range h.samples {
		h.samples[i] = tracking.Sample{}
	}
	h.head = 0
	h.size = 0
	h.dim = 0
}

// Latest returns the n most recent samples in chronological order
// (oldest of the window first), or an error if fewer than n are held.
func (h *SampleHistory) Latest(n int) ([]tracking.Sample, error) {
	if n < 1 || n > h.size {
		return nil, fmt.Errorf("%w: requested %d of %d", ErrInsufficientSamples, n, h.size)
	}
	out := make([]tracking.Sample, n)
	for i := 0; i < n; i++ {
		idx := (h.head - n + i + h.capacity) % h.capacity
		out[i] = h.samples[idx]
	}
	return out, nil
}

// Window returns the n most recent times, points, and derivatives as
// parallel slices ordered most recent first, the ordering the Hermite
// extrapolator consumes. The returned slices alias the stored (already
// copied) sample data; callers must not mutate them.
func (h *SampleHistory) Window(n int) (times []complex128, points, derivatives [][]complex128, err error) {
	if n < 1 || n > h.size {
		return nil, nil, nil, fmt.Errorf("%w: requested window %d of %d", ErrInsufficientSamples, n, h.size)
	}
	times = make([]complex128, n)
	points = make([][]complex128, n)
	derivatives = make([][]complex128, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + 2*h.capacity) % h.capacity
		s := h.samples[idx]
		times[i] = s.Time
		points[i] = s.Point
		derivatives[i] = s.Derivative
	}
	return times, points, derivatives, nil
}
