// Package metrics exposes the scheduler's ambient observability
// surface as Prometheus collectors: counts of tasks launched, still
// active, blocked on tenancy, and timed out, plus the duration of
// completed runs. Carried despite spec.md treating metrics as out of
// scope for the loop's own semantics, matching how the teacher carries
// its own metrics package regardless of what a given feature flag scopes out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every gauge/counter/histogram the loop updates as
// it runs. A zero Collectors is unusable; build one with New and
// register it with a prometheus.Registerer of the caller's choosing.
type Collectors struct {
	TasksLaunched    *prometheus.CounterVec
	TasksActive      prometheus.Gauge
	TasksBlocked     prometheus.Gauge
	TasksTimedOut    *prometheus.CounterVec
	TasksInvocationFailed *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
}

// New builds a Collectors with the "fate" namespace and "sched"
// subsystem, matching the teacher's metrics naming convention.
func New() *Collectors {
	return &Collectors{
		TasksLaunched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fate",
			Subsystem: "sched",
			Name:      "tasks_launched_total",
			Help:      "Total number of task invocations launched, by task name.",
		}, []string{"task"}),
		TasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fate",
			Subsystem: "sched",
			Name:      "tasks_active",
			Help:      "Number of tasks currently running.",
		}),
		TasksBlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fate",
			Subsystem: "sched",
			Name:      "tasks_tenancy_blocked",
			Help:      "Number of due tasks currently withheld by their tenancy gate.",
		}),
		TasksTimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fate",
			Subsystem: "sched",
			Name:      "tasks_timed_out_total",
			Help:      "Total number of tasks that exceeded their configured timeout, by task name.",
		}, []string{"task"}),
		TasksInvocationFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fate",
			Subsystem: "sched",
			Name:      "tasks_invocation_failed_total",
			Help:      "Total number of tasks whose executable could not be resolved or started, by task name.",
		}, []string{"task"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fate",
			Subsystem: "sched",
			Name:      "task_duration_seconds",
			Help:      "Observed wall-clock duration of completed task runs, by task name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
}

// MustRegister registers every collector with reg, panicking on
// duplicate registration the way prometheus's own MustRegister does —
// intended for use once at process startup.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.TasksLaunched,
		c.TasksActive,
		c.TasksBlocked,
		c.TasksTimedOut,
		c.TasksInvocationFailed,
		c.TaskDuration,
	)
}

// ObserveLaunch records a task launch.
func (c *Collectors) ObserveLaunch(task string) {
	c.TasksLaunched.WithLabelValues(task).Inc()
	c.TasksActive.Inc()
}

// ObserveCompletion records a task reaching a terminal state after
// durationSeconds of wall-clock time, and whether it was terminated
// for exceeding its timeout.
func (c *Collectors) ObserveCompletion(task string, durationSeconds float64, timedOut bool) {
	c.TasksActive.Dec()
	c.TaskDuration.WithLabelValues(task).Observe(durationSeconds)
	if timedOut {
		c.TasksTimedOut.WithLabelValues(task).Inc()
	}
}

// ObserveInvocationFailure records a task that never started.
func (c *Collectors) ObserveInvocationFailure(task string) {
	c.TasksInvocationFailed.WithLabelValues(task).Inc()
}

// SetBlocked sets the current count of tenancy-withheld tasks.
func (c *Collectors) SetBlocked(n int) {
	c.TasksBlocked.Set(float64(n))
}
