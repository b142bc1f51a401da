// Package orchestration implements replay-based durable orchestration: orchestration
// logic is re-executed from the start of its history log on every advance, completed
// activity calls are answered from the log and new calls are appended to it.
package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/otelhelper"
	"github.com/dukex/imageflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultConflictRetries = 3

// AdvanceResult is the state of an instance after an advance.
type AdvanceResult struct {
	InstanceID   string
	Status       models.InstanceStatus
	PendingTasks []models.ActivityTask
	Output       json.RawMessage
	Error        string
}

// Scheduler drives orchestration instances forward. All operations on one
// instance are serialized; different instances advance concurrently.
type Scheduler struct {
	registry        *Registry
	instances       persistence.InstanceRepository
	history         persistence.HistoryRepository
	locks           *keyedMutex
	now             func() time.Time
	logger          *slog.Logger
	tracer          trace.Tracer
	conflictRetries int
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithConflictRetries bounds how often an advance is retried after a sequence conflict.
func WithConflictRetries(n int) Option {
	return func(s *Scheduler) {
		s.conflictRetries = n
	}
}

func NewScheduler(registry *Registry, store persistence.Persistence, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:        registry,
		instances:       store.InstanceRepository(),
		history:         store.HistoryRepository(),
		locks:           newKeyedMutex(),
		now:             time.Now,
		logger:          slog.Default(),
		tracer:          otelhelper.Noop(),
		conflictRetries: defaultConflictRetries,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "scheduler")

	return s
}

// Start creates an instance of the named orchestrator and advances it once.
func (s *Scheduler) Start(ctx context.Context, instanceID, orchestrator string, input json.RawMessage) (*AdvanceResult, error) {
	if _, err := s.registry.Get(orchestrator); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	instance := &models.WorkflowInstance{
		ID:           instanceID,
		Orchestrator: orchestrator,
		Input:        input,
		Status:       models.InstanceStatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.instances.Create(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	s.logger.InfoContext(ctx, "Instance created", "instance_id", instanceID, "orchestrator", orchestrator)

	return s.Advance(ctx, instanceID)
}

// Advance replays the instance's orchestration logic against its history, appends
// newly requested tasks as one batch and reports what is pending.
func (s *Scheduler) Advance(ctx context.Context, instanceID string) (*AdvanceResult, error) {
	unlock := s.locks.Lock(instanceID)
	defer unlock()

	return s.advanceWithRetry(ctx, instanceID)
}

// Complete records a task outcome and advances the instance. Outcomes for terminal
// instances and already-completed tasks are discarded.
func (s *Scheduler) Complete(ctx context.Context, outcome models.TaskOutcome) (*AdvanceResult, error) {
	unlock := s.locks.Lock(outcome.InstanceID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		discarded, err := s.recordOutcome(ctx, outcome)
		if persistence.IsSequenceConflict(err) && attempt < s.conflictRetries {
			s.logger.WarnContext(ctx, "Sequence conflict recording outcome, retrying",
				"instance_id", outcome.InstanceID, "task_id", outcome.TaskID, "attempt", attempt+1)

			continue
		}

		if err != nil {
			return nil, err
		}

		if discarded != nil {
			return discarded, nil
		}

		return s.advanceWithRetry(ctx, outcome.InstanceID)
	}
}

// Cancel ends a non-terminal instance. No further tasks are scheduled for it and
// late outcomes are discarded.
func (s *Scheduler) Cancel(ctx context.Context, instanceID, reason string) (*AdvanceResult, error) {
	unlock := s.locks.Lock(instanceID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		instance, err := s.instances.Get(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if instance.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, instance.Status)
		}

		events, err := s.history.Load(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if len(events) > 0 && events[len(events)-1].Kind.IsOrchestratorTerminal() {
			if _, err := s.finalize(ctx, instance, events[len(events)-1]); err != nil {
				return nil, err
			}

			return nil, fmt.Errorf("%w: %s already ended with %s", ErrInstanceTerminal, instanceID, events[len(events)-1].Kind)
		}

		lastSeq := lastSequence(events)

		if reason == "" {
			reason = "cancelled"
		}

		event := models.HistoryEvent{Kind: models.EventOrchestratorCancelled, Error: reason, Timestamp: s.now().UTC()}

		err = s.history.Append(ctx, instanceID, lastSeq, []models.HistoryEvent{event})
		if persistence.IsSequenceConflict(err) && attempt < s.conflictRetries {
			continue
		}

		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "Instance cancelled", "instance_id", instanceID, "reason", reason)

		return s.finalize(ctx, instance, event)
	}
}

// Instance returns the stored instance.
func (s *Scheduler) Instance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	return s.instances.Get(ctx, instanceID)
}

// History returns the instance's history log.
func (s *Scheduler) History(ctx context.Context, instanceID string) ([]models.HistoryEvent, error) {
	return s.history.Load(ctx, instanceID)
}

// Active lists instances that have not reached a terminal state, oldest first.
func (s *Scheduler) Active(ctx context.Context) ([]*models.WorkflowInstance, error) {
	return s.instances.ListByStatus(ctx, models.InstanceStatusCreated, models.InstanceStatusRunning)
}

func (s *Scheduler) advanceWithRetry(ctx context.Context, instanceID string) (*AdvanceResult, error) {
	for attempt := 0; ; attempt++ {
		result, err := s.advance(ctx, instanceID)
		if persistence.IsSequenceConflict(err) && attempt < s.conflictRetries {
			s.logger.WarnContext(ctx, "Sequence conflict advancing instance, retrying",
				"instance_id", instanceID, "attempt", attempt+1)

			continue
		}

		return result, err
	}
}

// recordOutcome appends the outcome's completion event. It returns a non-nil result
// only for outcomes discarded against a terminal instance; everything else is
// followed by an advance, which also handles corrupt or already-terminal history.
func (s *Scheduler) recordOutcome(ctx context.Context, outcome models.TaskOutcome) (*AdvanceResult, error) {
	instance, err := s.instances.Get(ctx, outcome.InstanceID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("instance_id", outcome.InstanceID, "task_id", outcome.TaskID)

	if instance.Status.IsTerminal() {
		logger.InfoContext(ctx, "Discarding outcome for terminal instance", "status", instance.Status)

		return resultFromInstance(instance), nil
	}

	events, err := s.history.Load(ctx, outcome.InstanceID)
	if err != nil {
		return nil, err
	}

	idx, err := indexHistory(outcome.InstanceID, events)
	if err != nil || idx.terminal != nil {
		return nil, nil
	}

	scheduled, ok := idx.scheduled[outcome.TaskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTask, outcome.InstanceID, outcome.TaskID)
	}

	if _, done := idx.completions[outcome.TaskID]; done {
		logger.InfoContext(ctx, "Discarding duplicate outcome")

		return nil, nil
	}

	event := models.HistoryEvent{
		Kind:         models.EventTaskCompleted,
		TaskID:       outcome.TaskID,
		ActivityName: scheduled.ActivityName,
		Payload:      outcome.Output,
		Timestamp:    s.now().UTC(),
	}

	if outcome.Failed() {
		event.Kind = models.EventTaskFailed
		event.Payload = nil
		event.Error = outcome.Error
	}

	err = s.history.Append(ctx, outcome.InstanceID, idx.lastSeq, []models.HistoryEvent{event})
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Task outcome recorded", "kind", event.Kind, "activity", scheduled.ActivityName)

	return nil, nil
}

func (s *Scheduler) advance(ctx context.Context, instanceID string) (*AdvanceResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "orchestration.advance",
		attribute.String(otelhelper.InstanceIDKey, instanceID))
	defer span.End()

	instance, err := s.instances.Get(ctx, instanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if instance.Status.IsTerminal() {
		return resultFromInstance(instance), nil
	}

	events, err := s.history.Load(ctx, instanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	idx, err := indexHistory(instanceID, events)
	if err != nil {
		return s.fail(ctx, instance, lastSequence(events), err)
	}

	if idx.terminal != nil {
		s.logger.WarnContext(ctx, "Finalizing instance from terminal history event",
			"instance_id", instanceID, "kind", idx.terminal.Kind)

		return s.finalize(ctx, instance, *idx.terminal)
	}

	orchestrator, err := s.registry.Get(instance.Orchestrator)
	if err != nil {
		return s.fail(ctx, instance, idx.lastSeq, newInternalError(instanceID, err, "%s", instance.Orchestrator))
	}

	octx := newContext(ctx, instance, idx, s.now().UTC())
	output, runErr := runOrchestrator(octx, orchestrator)

	if finishErr := octx.finish(); finishErr != nil {
		return s.fail(ctx, instance, idx.lastSeq, finishErr)
	}

	switch {
	case IsSuspended(runErr):
		return s.suspend(ctx, instance, idx, octx.newTasks, span)
	case runErr != nil:
		return s.fail(ctx, instance, idx.lastSeq, runErr)
	default:
		return s.complete(ctx, instance, idx.lastSeq, output)
	}
}

func runOrchestrator(octx *Context, fn OrchestratorFunc) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newInternalError(octx.instanceID, ErrOrchestratorPanic, "%v", r)
		}
	}()

	return fn(octx)
}

func (s *Scheduler) suspend(
	ctx context.Context,
	instance *models.WorkflowInstance,
	idx *historyIndex,
	newTasks []models.HistoryEvent,
	span trace.Span,
) (*AdvanceResult, error) {
	if len(newTasks) > 0 {
		err := s.history.Append(ctx, instance.ID, idx.lastSeq, newTasks)
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "Tasks scheduled", "instance_id", instance.ID, "count", len(newTasks))
	}

	if instance.Status == models.InstanceStatusCreated {
		instance.Status = models.InstanceStatusRunning
		instance.UpdatedAt = s.now().UTC()

		err := s.instances.Update(ctx, instance)
		if err != nil {
			return nil, err
		}
	}

	pending := idx.pending()
	pending = append(pending, newTasks...)

	tasks := make([]models.ActivityTask, len(pending))
	for i, event := range pending {
		tasks[i] = models.ActivityTask{
			InstanceID:   instance.ID,
			TaskID:       event.TaskID,
			ActivityName: event.ActivityName,
			Input:        event.Payload,
		}
	}

	span.SetAttributes(attribute.Int(otelhelper.PendingTasksKey, len(tasks)))

	return &AdvanceResult{
		InstanceID:   instance.ID,
		Status:       instance.Status,
		PendingTasks: tasks,
	}, nil
}

func (s *Scheduler) complete(ctx context.Context, instance *models.WorkflowInstance, lastSeq int64, output any) (*AdvanceResult, error) {
	payload, err := json.Marshal(output)
	if err != nil {
		return s.fail(ctx, instance, lastSeq, newInternalError(instance.ID, err, "encoding orchestrator output"))
	}

	event := models.HistoryEvent{Kind: models.EventOrchestratorCompleted, Payload: payload, Timestamp: s.now().UTC()}

	err = s.history.Append(ctx, instance.ID, lastSeq, []models.HistoryEvent{event})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Instance completed", "instance_id", instance.ID)

	return s.finalize(ctx, instance, event)
}

func (s *Scheduler) fail(ctx context.Context, instance *models.WorkflowInstance, lastSeq int64, cause error) (*AdvanceResult, error) {
	if IsInternal(cause) {
		s.logger.ErrorContext(ctx, "Orchestration internal error", "instance_id", instance.ID, "error", cause)
	} else {
		s.logger.WarnContext(ctx, "Instance failed", "instance_id", instance.ID, "error", cause)
	}

	event := models.HistoryEvent{Kind: models.EventOrchestratorFailed, Error: cause.Error(), Timestamp: s.now().UTC()}

	err := s.history.Append(ctx, instance.ID, lastSeq, []models.HistoryEvent{event})
	if err != nil {
		return nil, err
	}

	return s.finalize(ctx, instance, event)
}

// finalize moves the instance row to the terminal state recorded by event.
func (s *Scheduler) finalize(ctx context.Context, instance *models.WorkflowInstance, event models.HistoryEvent) (*AdvanceResult, error) {
	switch event.Kind {
	case models.EventOrchestratorCompleted:
		instance.Status = models.InstanceStatusCompleted
		instance.Output = event.Payload
	case models.EventOrchestratorFailed:
		instance.Status = models.InstanceStatusFailed
		instance.ErrorMessage = event.Error
	case models.EventOrchestratorCancelled:
		instance.Status = models.InstanceStatusCancelled
		instance.ErrorMessage = event.Error
	default:
		return nil, errors.New("not a terminal event: " + string(event.Kind))
	}

	now := s.now().UTC()
	instance.UpdatedAt = now
	instance.CompletedAt = &now

	err := s.instances.Update(ctx, instance)
	if err != nil {
		return nil, err
	}

	return resultFromInstance(instance), nil
}

func lastSequence(events []models.HistoryEvent) int64 {
	if len(events) == 0 {
		return 0
	}

	return events[len(events)-1].SequenceNumber
}

func resultFromInstance(instance *models.WorkflowInstance) *AdvanceResult {
	return &AdvanceResult{
		InstanceID:   instance.ID,
		Status:       instance.Status,
		PendingTasks: []models.ActivityTask{},
		Output:       instance.Output,
		Error:        instance.ErrorMessage,
	}
}
