package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/imageflow/pkg/log"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name  string `json:"name"  validate:"required"`
	Times int    `json:"times" validate:"gte=0,lte=3"`
}

type greetOutput struct {
	Message string `json:"message"`
}

const greetSchema = `{
	"type": "object",
	"required": ["message"],
	"properties": {"message": {"type": "string", "minLength": 1}}
}`

func newTestExecutor(opts ...ExecutorOption) *Executor {
	opts = append([]ExecutorOption{WithLogger(log.Discard())}, opts...)

	return NewExecutor(opts...)
}

func TestExecutor_ExecuteTyped(t *testing.T) {
	e := newTestExecutor()

	err := Register(e, "greet", func(_ context.Context, in greetInput) (greetOutput, error) {
		return greetOutput{Message: "hello " + in.Name}, nil
	}, WithOutputSchema(greetSchema))
	require.NoError(t, err)

	out, err := e.Execute(context.Background(), "greet", json.RawMessage(`{"name":"cat"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hello cat"}`, string(out))
	assert.True(t, e.Has("greet"))
	assert.Equal(t, []string{"greet"}, e.Names())
}

func TestExecutor_DuplicateRegistration(t *testing.T) {
	e := newTestExecutor()
	fn := func(_ context.Context, _ greetInput) (greetOutput, error) { return greetOutput{}, nil }

	require.NoError(t, Register(e, "greet", fn))
	assert.Error(t, Register(e, "greet", fn))
}

func TestExecutor_InvalidSchemaRejectedAtRegistration(t *testing.T) {
	e := newTestExecutor()

	err := Register(e, "greet", func(_ context.Context, _ greetInput) (greetOutput, error) {
		return greetOutput{}, nil
	}, WithOutputSchema(`{"type": 12}`))
	assert.Error(t, err)
	assert.False(t, e.Has("greet"))
}

func TestExecutor_ErrorKinds(t *testing.T) {
	e := newTestExecutor(WithDefaultRetry(NoRetry()))

	require.NoError(t, Register(e, "greet", func(_ context.Context, in greetInput) (greetOutput, error) {
		if in.Name == "boom" {
			return greetOutput{}, errors.New("exploded")
		}

		if in.Name == "blank" {
			return greetOutput{}, nil
		}

		return greetOutput{Message: in.Name}, nil
	}, WithOutputSchema(greetSchema)))

	tests := []struct {
		name     string
		activity string
		input    string
		kind     ErrorKind
	}{
		{name: "unknown activity", activity: "nope", input: `{}`, kind: KindUnknownActivity},
		{name: "malformed input", activity: "greet", input: `{"name":`, kind: KindInvalidInput},
		{name: "missing required field", activity: "greet", input: `{"times":1}`, kind: KindInvalidInput},
		{name: "out of range field", activity: "greet", input: `{"name":"x","times":9}`, kind: KindInvalidInput},
		{name: "activity error", activity: "greet", input: `{"name":"boom"}`, kind: KindFatal},
		{name: "output violates schema", activity: "greet", input: `{"name":"blank"}`, kind: KindInvalidOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), tt.activity, json.RawMessage(tt.input))
			require.Error(t, err)

			var activityErr *ActivityError
			require.ErrorAs(t, err, &activityErr)
			assert.Equal(t, tt.kind, activityErr.Kind)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestExecutor_RunRetriesFatalErrors(t *testing.T) {
	var calls atomic.Int32

	delays := make([]time.Duration, 0)
	e := newTestExecutor(WithDefaultRetry(RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff{Base: 100 * time.Millisecond, Factor: 2, Max: time.Second},
	}))
	e.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)

		return nil
	}

	require.NoError(t, Register(e, "flaky", func(_ context.Context, _ greetInput) (greetOutput, error) {
		if calls.Add(1) < 3 {
			return greetOutput{}, errors.New("transient")
		}

		return greetOutput{Message: "ok"}, nil
	}))

	outcome := e.Run(context.Background(), models.ActivityTask{
		InstanceID:   "inst",
		TaskID:       "task-0001",
		ActivityName: "flaky",
		Input:        json.RawMessage(`{"name":"x"}`),
	})

	assert.False(t, outcome.Failed())
	assert.Equal(t, 3, outcome.Attempts)
	assert.JSONEq(t, `{"message":"ok"}`, string(outcome.Output))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestExecutor_RunGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32

	e := newTestExecutor()
	e.sleep = func(context.Context, time.Duration) error { return nil }

	require.NoError(t, Register(e, "broken", func(_ context.Context, _ greetInput) (greetOutput, error) {
		calls.Add(1)

		return greetOutput{}, errors.New("disk full")
	}, WithRetry(RetryPolicy{MaxAttempts: 4})))

	outcome := e.Run(context.Background(), models.ActivityTask{
		InstanceID:   "inst",
		TaskID:       "task-0005",
		ActivityName: "broken",
		Input:        json.RawMessage(`{"name":"x"}`),
	})

	assert.True(t, outcome.Failed())
	assert.Equal(t, 4, outcome.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.Contains(t, outcome.Error, "disk full")
	assert.Equal(t, "inst", outcome.InstanceID)
	assert.Equal(t, "task-0005", outcome.TaskID)
}

func TestExecutor_RunDoesNotRetryInvalidInput(t *testing.T) {
	var calls atomic.Int32

	e := newTestExecutor()
	require.NoError(t, Register(e, "greet", func(_ context.Context, _ greetInput) (greetOutput, error) {
		calls.Add(1)

		return greetOutput{Message: "x"}, nil
	}))

	outcome := e.Run(context.Background(), models.ActivityTask{ActivityName: "greet", Input: json.RawMessage(`{}`)})

	assert.True(t, outcome.Failed())
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, int32(0), calls.Load())
	assert.Contains(t, outcome.Error, string(KindInvalidInput))
}

func TestExecutor_RunStopsWhenContextEnds(t *testing.T) {
	e := newTestExecutor(WithDefaultRetry(RetryPolicy{
		MaxAttempts: 5,
		Backoff:     ExponentialBackoff{Base: time.Hour, Factor: 1},
	}))

	require.NoError(t, Register(e, "broken", func(_ context.Context, _ greetInput) (greetOutput, error) {
		return greetOutput{}, errors.New("nope")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := e.Run(ctx, models.ActivityTask{ActivityName: "broken", Input: json.RawMessage(`{"name":"x"}`)})

	assert.True(t, outcome.Failed())
	assert.Equal(t, 1, outcome.Attempts)
	assert.Contains(t, outcome.Error, "retry aborted")
}

func TestExponentialBackoff_Delay(t *testing.T) {
	backoff := ExponentialBackoff{Base: 100 * time.Millisecond, Factor: 2, Max: 500 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, backoff.Delay(-1))
	assert.Equal(t, 100*time.Millisecond, backoff.Delay(0))
	assert.Equal(t, 400*time.Millisecond, backoff.Delay(2))
	assert.Equal(t, 500*time.Millisecond, backoff.Delay(5))
}
