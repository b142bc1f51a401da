// Package workflow runs orchestration instances: it dispatches their pending tasks,
// feeds outcomes back to the scheduler and resumes unfinished instances.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/orchestration"
	"github.com/dukex/imageflow/pkg/persistence"
)

const DefaultTaskTimeout = 5 * time.Minute

// FinishedHook is called when this process sees an instance in a terminal state.
// A late outcome for a finished instance calls it again.
type FinishedHook func(ctx context.Context, result *orchestration.AdvanceResult)

type inflightTask struct {
	since   time.Time
	attempt int
}

// Engine owns the scheduler and a dispatcher. A pending task is dispatched once
// per process and again only after the task timeout has passed.
type Engine struct {
	scheduler   *orchestration.Scheduler
	dispatcher  Dispatcher
	taskTimeout time.Duration
	now         func() time.Time
	onFinished  []FinishedHook
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]inflightTask
}

type EngineOption func(*Engine)

func WithTaskTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		e.taskTimeout = timeout
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func WithFinishedHook(hook FinishedHook) EngineOption {
	return func(e *Engine) {
		e.onFinished = append(e.onFinished, hook)
	}
}

func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(scheduler *orchestration.Scheduler, dispatcher Dispatcher, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		scheduler:   scheduler,
		dispatcher:  dispatcher,
		taskTimeout: DefaultTaskTimeout,
		now:         time.Now,
		logger:      slog.Default(),
		inflight:    make(map[string]inflightTask),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "engine")

	err := dispatcher.OnOutcome(e.HandleOutcome)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// Start creates an instance, advances it and dispatches its first tasks. When the
// instance was created but dispatching failed, both the result and the error are returned.
func (e *Engine) Start(ctx context.Context, instanceID, orchestrator string, input json.RawMessage) (*orchestration.AdvanceResult, error) {
	result, err := e.scheduler.Start(ctx, instanceID, orchestrator, input)
	if err != nil {
		return nil, err
	}

	return result, e.dispatch(ctx, result)
}

// HandleOutcome records a task outcome and dispatches whatever the instance asks for next.
// Outcomes for unknown instances or tasks are logged and dropped.
func (e *Engine) HandleOutcome(ctx context.Context, outcome models.TaskOutcome) error {
	result, err := e.scheduler.Complete(ctx, outcome)

	e.release(outcome.Key())

	if errors.Is(err, orchestration.ErrUnknownTask) || persistence.IsInstanceNotFound(err) {
		e.logger.WarnContext(ctx, "Dropping outcome", "instance_id", outcome.InstanceID, "task_id", outcome.TaskID, "error", err)

		return nil
	}

	if err != nil {
		return err
	}

	return e.dispatch(ctx, result)
}

// Resume advances every non-terminal instance and dispatches its pending tasks
// that are not already in flight. It returns how many instances it advanced.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	instances, err := e.scheduler.Active(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error

	resumed := 0

	for _, instance := range instances {
		result, err := e.scheduler.Advance(ctx, instance.ID)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		resumed++

		err = e.dispatch(ctx, result)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if resumed > 0 {
		e.logger.InfoContext(ctx, "Resumed instances", "count", resumed)
	}

	return resumed, errors.Join(errs...)
}

// Cancel stops an instance; outcomes still in flight are discarded when they arrive.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason string) (*orchestration.AdvanceResult, error) {
	result, err := e.scheduler.Cancel(ctx, instanceID, reason)
	if err != nil {
		return nil, err
	}

	e.finished(ctx, result)

	return result, nil
}

func (e *Engine) Instance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	return e.scheduler.Instance(ctx, instanceID)
}

// InFlight returns how many tasks are dispatched and not yet reported.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.inflight)
}

func (e *Engine) dispatch(ctx context.Context, result *orchestration.AdvanceResult) error {
	if result.Status.IsTerminal() {
		e.finished(ctx, result)

		return nil
	}

	var errs []error

	for _, task := range result.PendingTasks {
		attempt, ok := e.claim(task.Key())
		if !ok {
			continue
		}

		task.Attempt = attempt

		err := e.dispatcher.Dispatch(ctx, task)
		if err != nil {
			e.release(task.Key())
			errs = append(errs, err)

			continue
		}

		e.logger.DebugContext(ctx, "Task dispatched",
			"instance_id", task.InstanceID, "task_id", task.TaskID, "activity", task.ActivityName, "attempt", attempt)
	}

	return errors.Join(errs...)
}

// claim marks a task in flight. It refuses tasks dispatched less than the task
// timeout ago and counts dispatch attempts otherwise.
func (e *Engine) claim(key string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	entry, ok := e.inflight[key]
	if ok && now.Sub(entry.since) < e.taskTimeout {
		return 0, false
	}

	entry.since = now
	entry.attempt++
	e.inflight[key] = entry

	return entry.attempt, true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inflight, key)
}

func (e *Engine) finished(ctx context.Context, result *orchestration.AdvanceResult) {
	e.mu.Lock()
	prefix := result.InstanceID + "/"

	for key := range e.inflight {
		if strings.HasPrefix(key, prefix) {
			delete(e.inflight, key)
		}
	}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Instance finished", "instance_id", result.InstanceID, "status", result.Status, "error", result.Error)

	for _, hook := range e.onFinished {
		hook(ctx, result)
	}
}
