package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fate/sched/taskspec"
	"github.com/hrygo/fate/sched/tenancy"
)

func spec(name string) taskspec.TaskSpec {
	return taskspec.TaskSpec{Name: name}
}

func TestQueueIteratesCohortsHeadFirst(t *testing.T) {
	q := NewQueue()
	q.Enqueue([]taskspec.TaskSpec{spec("a"), spec("b")})
	q.Enqueue([]taskspec.TaskSpec{spec("c")})

	gate := tenancy.NewGate(nil)

	var order []string
	for {
		m, ok := q.Next(gate)
		if !ok {
			break
		}
		order = append(order, m.Name)
	}

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestQueueTaskAppearsAtMostOnce(t *testing.T) {
	q := NewQueue()
	q.Enqueue([]taskspec.TaskSpec{spec("a")})
	_, admitted := q.Enqueue([]taskspec.TaskSpec{spec("a"), spec("b")})

	assert.Equal(t, 1, admitted, "expected only the new task to be admitted into cohort 1")

	gate := tenancy.NewGate(nil)
	var seen int
	for {
		m, ok := q.Next(gate)
		if !ok {
			break
		}
		if m.Name == "a" {
			seen++
		}
	}
	assert.Equal(t, 1, seen, "expected task 'a' to be yielded exactly once")
}

func TestQueueSkipsBlockedMemberWithoutDropping(t *testing.T) {
	q := NewQueue()
	q.Enqueue([]taskspec.TaskSpec{spec("blocked"), spec("free")})

	gate := tenancy.NewGate(map[string]int{"blocked": 1})
	gate.Acquire("blocked")

	m, ok := q.Next(gate)
	require.True(t, ok, "expected 'free' to be yielded first while 'blocked' is gated")
	assert.Equal(t, "free", m.Name)

	assert.False(t, q.IsEmpty(), "expected 'blocked' to remain in the queue, not be dropped")

	gate.Release("blocked")
	m, ok = q.Next(gate)
	require.True(t, ok, "expected 'blocked' to become available after release")
	assert.Equal(t, "blocked", m.Name)
}

func TestQueueIsEmptyAfterFullDrain(t *testing.T) {
	q := NewQueue()
	q.Enqueue([]taskspec.TaskSpec{spec("a")})
	gate := tenancy.NewGate(nil)

	assert.False(t, q.IsEmpty(), "expected non-empty queue before draining")
	q.Next(gate)
	assert.True(t, q.IsEmpty(), "expected empty queue after draining its only member")
}

func TestEnqueueAt0RecreatesEmptyPrimaryCohort(t *testing.T) {
	q := NewQueue()
	q.Enqueue([]taskspec.TaskSpec{spec("a")})
	gate := tenancy.NewGate(nil)
	q.Next(gate) // drain cohort 0

	q.EnqueueAt0([]taskspec.TaskSpec{spec("a"), spec("b")})

	cohorts := q.Cohorts()
	require.Len(t, cohorts, 1, "expected cohort 0 to be reused")
	assert.Equal(t, 0, cohorts[0].Index)
}

func TestCohortsSnapshotReportsSizes(t *testing.T) {
	q := NewQueue()
	q.Enqueue([]taskspec.TaskSpec{spec("a"), spec("b")})

	cohorts := q.Cohorts()
	require.Len(t, cohorts, 1)
	assert.Len(t, cohorts[0].members, 2)
}
