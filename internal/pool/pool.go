// Package pool provides a generic concurrent object pool for
// heavyweight numeric objects (system evaluators, solution buffers,
// endgame instances) shared across concurrently tracked paths.
//
// Acquire hands out exclusively-owned handles; Release returns the
// instance to the idle set. The pool never aliases one instance across
// two live handles, and never constructs more instances than the peak
// number simultaneously outstanding.
package pool

import (
	"errors"
	"sync"
)

// ErrAlreadyReleased reports a second Release of the same handle. The
// instance stays safely in the idle set; the duplicate release is a
// caller bug worth surfacing.
var ErrAlreadyReleased = errors.New("pool: handle already released")

// Pool is a concurrent pool of T instances. Construct with New; the
// zero value is not usable.
type Pool[T any] struct {
	mu    sync.Mutex
	newFn func() T
	idle  []T

	constructed     int
	outstanding     int
	peakOutstanding int
}

// Stats is a point-in-time snapshot of the pool's accounting.
type Stats struct {
	Constructed     int
	Idle            int
	Outstanding     int
	PeakOutstanding int
}

// New creates a pool that constructs instances with newFn when the
// idle set is empty. The pool imposes no size limit beyond demand;
// bounding concurrent demand is the caller's job.
func New[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{newFn: newFn}
}

// Acquire returns an exclusively-owned handle, reusing an idle
// instance when one exists and constructing otherwise. Safe for
// concurrent use.
func (p *Pool[T]) Acquire() *Handle[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	var v T
	if n := len(p.idle); n > 0 {
		v = p.idle[n-1]
		var zero T
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
	} else {
		v = p.newFn()
		p.constructed++
	}
	p.outstanding++
	if p.outstanding > p.peakOutstanding {
		p.peakOutstanding = p.outstanding
	}
	return &Handle[T]{pool: p, value: v}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Constructed:     p.constructed,
		Idle:            len(p.idle),
		Outstanding:     p.outstanding,
		PeakOutstanding: p.peakOutstanding,
	}
}

// Handle is a checked-out, exclusively-owned reference to a pooled
// instance. It must not be copied; ownership moves back to the pool on
// Release and the handle is dead afterwards.
type Handle[T any] struct {
	pool     *Pool[T]
	value    T
	released bool
}

// Value returns the pooled instance. Must not be called after Release.
func (h *Handle[T]) Value() T {
	return h.value
}

// Release returns the instance to the pool's idle set and invalidates
// the handle. A second Release returns ErrAlreadyReleased and has no
// other effect.
func (h *Handle[T]) Release() error {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	if h.released {
		return ErrAlreadyReleased
	}
	h.released = true
	h.pool.idle = append(h.pool.idle, h.value)
	h.pool.outstanding--
	var zero T
	h.value = zero
	return nil
}
