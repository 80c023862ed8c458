package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigErrorUnwrapsToSentinel(t *testing.T) {
	err := NewConfigError(ErrConfigSyntax, "backup", "schedule", errors.New("bad cron expression"))
	assert.True(t, errors.Is(err, ErrConfigSyntax), "expected errors.Is to match the ErrConfigSyntax sentinel")
	assert.False(t, errors.Is(err, ErrConfigMissing), "expected errors.Is to not match an unrelated sentinel")
}

func TestTaskRuntimeErrorUnwrapsToSentinel(t *testing.T) {
	err := &TaskRuntimeError{Task: "backup", ReturnCode: 3}
	assert.True(t, errors.Is(err, ErrTaskRuntime), "expected errors.Is to match ErrTaskRuntime")
}

func TestInvocationErrorUnwrapsToSentinel(t *testing.T) {
	err := &InvocationError{Task: "backup", Cause: errors.New("executable not found")}
	assert.True(t, errors.Is(err, ErrInvocation), "expected errors.Is to match ErrInvocation")
}

func TestLogsDecodingErrorAggregatesPartials(t *testing.T) {
	err := &LogsDecodingError{
		Task: "backup",
		Partial: []*LogRecordDecodeError{
			{Task: "backup", Raw: []byte("bad"), Cause: errors.New("malformed")},
		},
	}
	assert.NotEmpty(t, err.Error(), "expected a non-empty error message")
}
