// Package activity executes named, typed activities with input validation, output
// schema checks, retries and bounded parallelism.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/otelhelper"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler is the untyped form of a registered activity.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type registration struct {
	handler      Handler
	outputSchema *gojsonschema.Schema
	retry        *RetryPolicy
}

// Executor holds the activity registry and runs activities.
type Executor struct {
	mu         sync.RWMutex
	activities map[string]*registration
	validate   *validator.Validate
	retry      RetryPolicy
	logger     *slog.Logger
	tracer     trace.Tracer
	sleep      func(ctx context.Context, d time.Duration) error
}

type ExecutorOption func(*Executor)

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithDefaultRetry sets the policy for activities registered without their own.
func WithDefaultRetry(policy RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		e.retry = policy
	}
}

func WithValidator(validate *validator.Validate) ExecutorOption {
	return func(e *Executor) {
		e.validate = validate
	}
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		activities: make(map[string]*registration),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		retry:      DefaultRetryPolicy(),
		logger:     slog.Default(),
		tracer:     otelhelper.Noop(),
		sleep:      sleepContext,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "activity_executor")

	return e
}

type RegisterOption func(*registration) error

// WithOutputSchema validates every output against a JSON schema document.
func WithOutputSchema(schema string) RegisterOption {
	return func(r *registration) error {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid output schema: %w", err)
		}

		r.outputSchema = compiled

		return nil
	}
}

// WithRetry overrides the executor's retry policy for one activity.
func WithRetry(policy RetryPolicy) RegisterOption {
	return func(r *registration) error {
		r.retry = &policy

		return nil
	}
}

// RegisterHandler adds an untyped activity.
func (e *Executor) RegisterHandler(name string, handler Handler, opts ...RegisterOption) error {
	reg := &registration{handler: handler}

	for _, opt := range opts {
		err := opt(reg)
		if err != nil {
			return fmt.Errorf("activity %s: %w", name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.activities[name]; exists {
		return fmt.Errorf("activity %q already registered", name)
	}

	e.activities[name] = reg

	return nil
}

// Register adds a typed activity. Its input is decoded into I and, for struct
// inputs, checked against the struct's validate tags before fn runs.
func Register[I, O any](e *Executor, name string, fn func(ctx context.Context, input I) (O, error), opts ...RegisterOption) error {
	handler := func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var input I

		if len(raw) > 0 {
			err := json.Unmarshal(raw, &input)
			if err != nil {
				return nil, newActivityError(name, KindInvalidInput, err)
			}
		}

		err := e.validateInput(input)
		if err != nil {
			return nil, newActivityError(name, KindInvalidInput, err)
		}

		output, err := fn(ctx, input)
		if err != nil {
			var activityErr *ActivityError
			if errors.As(err, &activityErr) {
				return nil, activityErr
			}

			return nil, newActivityError(name, KindFatal, err)
		}

		encoded, err := json.Marshal(output)
		if err != nil {
			return nil, newActivityError(name, KindInvalidOutput, err)
		}

		return encoded, nil
	}

	return e.RegisterHandler(name, handler, opts...)
}

func (e *Executor) validateInput(input any) error {
	value := reflect.ValueOf(input)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}

		value = value.Elem()
	}

	if value.Kind() != reflect.Struct {
		return nil
	}

	return e.validate.Struct(value.Interface())
}

// Has reports whether name is registered.
func (e *Executor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.activities[name]

	return ok
}

func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.activities))
	for name := range e.activities {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Execute runs one attempt of the named activity.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	e.mu.RLock()
	reg, ok := e.activities[name]
	e.mu.RUnlock()

	if !ok {
		return nil, newActivityError(name, KindUnknownActivity, ErrUnknownActivity)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "activity.execute",
		attribute.String(otelhelper.ActivityNameKey, name))
	defer span.End()

	output, err := reg.handler(ctx, input)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if reg.outputSchema != nil {
		err = validateOutput(reg.outputSchema, output)
		if err != nil {
			activityErr := newActivityError(name, KindInvalidOutput, err)
			otelhelper.SetError(span, activityErr)

			return nil, activityErr
		}
	}

	return output, nil
}

// Run executes a task under its activity's retry policy and reports the outcome.
// Only fatal errors are retried.
func (e *Executor) Run(ctx context.Context, task models.ActivityTask) models.TaskOutcome {
	policy := e.policyFor(task.ActivityName)
	logger := e.logger.With("instance_id", task.InstanceID, "task_id", task.TaskID, "activity", task.ActivityName)

	outcome := models.TaskOutcome{
		InstanceID:   task.InstanceID,
		TaskID:       task.TaskID,
		ActivityName: task.ActivityName,
	}

	var lastErr error

	for attempt := range policy.attempts() {
		outcome.Attempts = attempt + 1

		output, err := e.Execute(ctx, task.ActivityName, task.Input)
		if err == nil {
			outcome.Output = output

			return outcome
		}

		lastErr = err

		if !IsRetryable(err) || attempt == policy.attempts()-1 {
			break
		}

		delay := policy.Backoff.Delay(attempt)
		logger.WarnContext(ctx, "Activity failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			lastErr = fmt.Errorf("retry aborted: %w", sleepErr)

			break
		}
	}

	logger.ErrorContext(ctx, "Activity failed", "attempts", outcome.Attempts, "error", lastErr)
	outcome.Error = lastErr.Error()

	return outcome
}

func (e *Executor) policyFor(name string) RetryPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if reg, ok := e.activities[name]; ok && reg.retry != nil {
		return *reg.retry
	}

	return e.retry
}

func validateOutput(schema *gojsonschema.Schema, output json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(output))
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}

	return nil
}
