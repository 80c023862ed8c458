package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m), "writing metric")
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestObserveLaunchIncrementsActiveAndLaunched(t *testing.T) {
	c := New()
	c.ObserveLaunch("backup")

	assert.Equal(t, float64(1), counterValue(t, c.TasksActive), "expected active gauge 1")
	assert.Equal(t, float64(1), counterValue(t, c.TasksLaunched.WithLabelValues("backup")), "expected launched counter 1")
}

func TestObserveCompletionDecrementsActiveAndRecordsTimeout(t *testing.T) {
	c := New()
	c.ObserveLaunch("backup")
	c.ObserveCompletion("backup", 1.5, true)

	assert.Equal(t, float64(0), counterValue(t, c.TasksActive), "expected active gauge back to 0")
	assert.Equal(t, float64(1), counterValue(t, c.TasksTimedOut.WithLabelValues("backup")), "expected timed-out counter 1")
}

func TestObserveInvocationFailure(t *testing.T) {
	c := New()
	c.ObserveInvocationFailure("ghost")

	assert.Equal(t, float64(1), counterValue(t, c.TasksInvocationFailed.WithLabelValues("ghost")), "expected invocation-failed counter 1")
}

func TestMustRegisterWiresCollectors(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	c.MustRegister(reg)

	families, err := reg.Gather()
	require.NoError(t, err, "Gather")
	assert.NotEmpty(t, families, "expected at least one registered metric family")
}
