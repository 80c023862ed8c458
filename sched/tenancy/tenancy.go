// Package tenancy enforces the per-task-name concurrency ceiling: at
// most spec.Tenancy instances of a given task name may run at once.
package tenancy

import (
	"golang.org/x/sync/semaphore"
)

// Gate tracks running counts per task name, backed by a weighted
// semaphore sized to each name's configured tenancy. A task name with
// no configured ceiling (tenancy <= 0) gets an unbounded fast path
// rather than a semaphore sized to math.MaxInt64, so an unbounded
// task's admission check never shows up as "nearly exhausted" in a
// benchmark or metric.
type Gate struct {
	sems map[string]*semaphore.Weighted
}

// NewGate builds a Gate from a map of task name to configured tenancy.
// A missing or non-positive entry means unbounded.
func NewGate(limits map[string]int) *Gate {
	g := &Gate{sems: make(map[string]*semaphore.Weighted, len(limits))}
	for name, limit := range limits {
		if limit > 0 {
			g.sems[name] = semaphore.NewWeighted(int64(limit))
		}
	}
	return g
}

// May reports whether one more instance of name could be admitted right
// now. It does not itself acquire: the caller must call Acquire
// immediately after a true result, per the documented invariant that
// acquire is never blocked on.
func (g *Gate) May(name string) bool {
	sem, ok := g.sems[name]
	if !ok {
		return true
	}
	if sem.TryAcquire(1) {
		sem.Release(1)
		return true
	}
	return false
}

// Acquire reserves one slot for name. Callers must only invoke this
// immediately after May returned true for the same name.
func (g *Gate) Acquire(name string) {
	sem, ok := g.sems[name]
	if !ok {
		return
	}
	sem.TryAcquire(1)
}

// Release frees one slot for name.
func (g *Gate) Release(name string) {
	sem, ok := g.sems[name]
	if !ok {
		return
	}
	sem.Release(1)
}
