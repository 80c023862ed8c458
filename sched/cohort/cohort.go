// Package cohort implements the tiered priority queue over batches of
// due tasks: cohort 0 is the primary batch from the current check,
// cohorts 1..N are secondary batches appended by refills.
package cohort

import (
	"github.com/hrygo/fate/sched/taskspec"
	"github.com/hrygo/fate/sched/tenancy"
)

// Cohort is a single ordered batch of not-yet-dispatched tasks.
type Cohort struct {
	Index   int
	members []taskspec.TaskSpec
}

// Queue is an ordered list of cohorts with monotonically increasing
// indices. It enforces that a task may appear at most once across all
// cohorts for the lifetime of the queue.
type Queue struct {
	cohorts []*Cohort
	nextIdx int
	seen    map[string]struct{}
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{seen: make(map[string]struct{})}
}

// Enqueue appends members as the next cohort, skipping any task name
// already seen in an earlier cohort. It returns the index assigned to
// the new cohort and how many of the requested members were actually
// admitted (duplicates against prior cohorts are dropped silently,
// matching "a task may appear at most once across all cohorts").
func (q *Queue) Enqueue(members []taskspec.TaskSpec) (index, admitted int) {
	index = q.nextIdx
	q.nextIdx++

	fresh := make([]taskspec.TaskSpec, 0, len(members))
	for _, m := range members {
		if _, dup := q.seen[m.Name]; dup {
			continue
		}
		q.seen[m.Name] = struct{}{}
		fresh = append(fresh, m)
	}

	q.cohorts = append(q.cohorts, &Cohort{Index: index, members: fresh})
	return index, len(fresh)
}

// EnqueueAt0 recreates cohort 0 in place ("primary cohort recreation")
// from members. Whether the newly-due set warrants recreation is left to
// the caller; it is only valid when cohort 0 is currently empty or absent.
func (q *Queue) EnqueueAt0(members []taskspec.TaskSpec) {
	fresh := make([]taskspec.TaskSpec, 0, len(members))
	for _, m := range members {
		if _, dup := q.seen[m.Name]; dup {
			continue
		}
		q.seen[m.Name] = struct{}{}
		fresh = append(fresh, m)
	}

	for _, c := range q.cohorts {
		if c.Index == 0 {
			c.members = append(c.members, fresh...)
			return
		}
	}

	q.cohorts = append([]*Cohort{{Index: 0, members: fresh}}, q.cohorts...)
	if q.nextIdx == 0 {
		q.nextIdx = 1
	}
}

// IsEmpty reports whether every cohort has been fully drained.
func (q *Queue) IsEmpty() bool {
	for _, c := range q.cohorts {
		if len(c.members) > 0 {
			return false
		}
	}
	return true
}

// Next walks cohorts head-first; within a cohort, members in insertion
// order; the first member the gate admits is removed and returned. A
// cohort with no admissible member on this pass is left in place (tasks
// blocked by tenancy are never dropped) and the walk continues into the
// next cohort.
func (q *Queue) Next(gate *tenancy.Gate) (taskspec.TaskSpec, bool) {
	for _, c := range q.cohorts {
		for i, m := range c.members {
			if gate.May(m.Name) {
				c.members = append(c.members[:i:i], c.members[i+1:]...)
				return m, true
			}
		}
	}
	return taskspec.TaskSpec{}, false
}

// Cohorts returns a snapshot of the current cohort indices and sizes,
// useful for logging ("enqueued cohort" lines).
func (q *Queue) Cohorts() []Cohort {
	out := make([]Cohort, len(q.cohorts))
	for i, c := range q.cohorts {
		out[i] = *c
	}
	return out
}

// Len returns the number of not-yet-dispatched members across all
// cohorts.
func (q *Queue) Len() int {
	n := 0
	for _, c := range q.cohorts {
		n += len(c.members)
	}
	return n
}
