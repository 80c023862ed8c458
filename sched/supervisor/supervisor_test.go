package supervisor

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fate/sched/taskspec"
)

const testPollInterval = 10 * time.Millisecond

func drainUntilReady(t *testing.T, task *SpawnedTask, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if task.Poll(time.Now(), testPollInterval) {
			return
		}
		time.Sleep(testPollInterval)
	}
	t.Fatal("task did not become ready within timeout")
}

func TestSpawnSimpleEcho(t *testing.T) {
	spec := taskspec.TaskSpec{Name: "run-me", Exec: []string{"echo", "done"}}

	task, failed, err := Spawn(spec, "", nil, testPollInterval, nil)
	require.NoError(t, err, "Spawn")
	require.Nil(t, failed, "unexpected invocation failure: %v", failed)

	drainUntilReady(t, task, 2*time.Second)

	assert.Equal(t, 0, *task.ReturnCode)
	assert.Equal(t, "done\n", string(task.StdoutBytes()))
}

func TestSpawnMissingExecutable(t *testing.T) {
	spec := taskspec.TaskSpec{Name: "ghost", Exec: []string{"fate-definitely-not-a-real-binary"}}

	task, failed, err := Spawn(spec, "", nil, testPollInterval, nil)
	require.NoError(t, err, "Spawn")
	require.Nil(t, task, "expected no SpawnedTask for a missing executable")
	require.NotNil(t, failed, "expected a ready FailedInvocationTask")
	assert.True(t, failed.Ready())
}

func TestSpawnLargeStdout(t *testing.T) {
	if _, err := os.Stat("/dev/zero"); err != nil {
		t.Skip("/dev/zero not available")
	}

	const size = 100 * 1024 * 1024
	spec := taskspec.TaskSpec{Name: "firehose", Exec: []string{"head", "-c", "104857600", "/dev/zero"}}

	start := time.Now()
	task, failed, err := Spawn(spec, "", nil, testPollInterval, nil)
	require.NoError(t, err, "Spawn")
	require.Nil(t, failed, "unexpected invocation failure: %v", failed)

	drainUntilReady(t, task, 10*time.Second)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 5*time.Second, "expected completion within 5s")
	assert.Len(t, task.StdoutBytes(), size)
}

func TestSpawnBinaryResultViaGzip(t *testing.T) {
	param := []byte("very special characters\n\n(really)\n")
	spec := taskspec.TaskSpec{Name: "compress", Exec: []string{"gzip", "-c"}, Param: param}

	task, failed, err := Spawn(spec, "", nil, testPollInterval, nil)
	require.NoError(t, err, "Spawn")
	require.Nil(t, failed, "unexpected invocation failure: %v", failed)

	drainUntilReady(t, task, 2*time.Second)

	r, err := gzip.NewReader(bytes.NewReader(task.StdoutBytes()))
	require.NoError(t, err, "gzip.NewReader")
	got, err := io.ReadAll(r)
	require.NoError(t, err, "reading gunzip stream")
	assert.True(t, bytes.Equal(got, param), "expected gunzip(stdout) to equal param, got %q want %q", got, param)
}

func TestSpawnTimeoutEscalatesToKill(t *testing.T) {
	spec := taskspec.TaskSpec{
		Name:    "stubborn",
		Exec:    []string{"sh", "-c", "trap '' TERM; sleep 10"},
		Timeout: time.Second,
	}

	task, failed, err := Spawn(spec, "", nil, testPollInterval, nil)
	require.NoError(t, err, "Spawn")
	require.Nil(t, failed, "unexpected invocation failure: %v", failed)

	start := time.Now()
	drainUntilReady(t, task, 5*time.Second)
	elapsed := time.Since(start)

	assert.True(t, elapsed >= time.Second && elapsed < 4*time.Second, "expected duration in [1s, 4s), got %s", elapsed)
	assert.NotNil(t, task.TerminatedAt, "expected TerminatedAt to be set")
	assert.NotNil(t, task.KilledAt, "expected KilledAt to be set for a SIGTERM-ignoring child")
	assert.Less(t, *task.ReturnCode, 0, "expected a negative (signaled) return code")
}

func TestSpawnPersistsStateOnSuccess(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "task.state")

	spec := taskspec.TaskSpec{Name: "stateful", Exec: []string{"sh", "-c", "cat <&3 >&4"}}

	priorState := []byte("previous-state-bytes")
	task, failed, err := Spawn(spec, statePath, priorState, testPollInterval, nil)
	require.NoError(t, err, "Spawn")
	require.Nil(t, failed, "unexpected invocation failure: %v", failed)

	drainUntilReady(t, task, 2*time.Second)
	require.Equal(t, 0, *task.ReturnCode)

	got, err := os.ReadFile(statePath)
	require.NoError(t, err, "expected persisted state file")
	assert.Equal(t, string(priorState), string(got))
}
