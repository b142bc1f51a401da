package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/imageflow/pkg/activity"
	"github.com/dukex/imageflow/pkg/eventbus"
	"github.com/dukex/imageflow/pkg/events"
)

// Worker consumes scheduled tasks from the bus, runs them on its pool and
// publishes their outcomes.
type Worker struct {
	id       string
	bus      eventbus.EventBus
	executor *activity.Executor
	pool     *activity.Pool
	logger   *slog.Logger
}

func NewWorker(id string, bus eventbus.EventBus, executor *activity.Executor, pool *activity.Pool, logger *slog.Logger) *Worker {
	return &Worker{
		id:       id,
		bus:      bus,
		executor: executor,
		pool:     pool,
		logger:   logger.With("module", "worker", "worker_id", id),
	}
}

// Register adds the task handler to the bus. The caller subscribes the bus, which
// lets one bus serve an engine and a worker in the same process.
func (w *Worker) Register() error {
	return w.bus.Handle(events.TaskScheduledEvent, w.handleTask)
}

// Start registers the worker and subscribes the bus.
func (w *Worker) Start(ctx context.Context) error {
	err := w.Register()
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started", "pool_size", w.pool.Size(), "activities", w.executor.Names())

	return w.bus.Subscribe(ctx)
}

// Wait blocks until every accepted task has published its outcome.
func (w *Worker) Wait() {
	w.pool.Wait()
}

func (w *Worker) handleTask(ctx context.Context, event any) error {
	scheduled, ok := event.(*events.TaskScheduled)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	task := scheduled.Task

	if !w.executor.Has(task.ActivityName) {
		w.logger.WarnContext(ctx, "Activity not registered on this worker", "activity", task.ActivityName, "task_id", task.TaskID)
	}

	w.pool.Go(ctx, func(ctx context.Context) {
		outcome := w.executor.Run(ctx, task)

		err := w.bus.Publish(ctx, outcome.InstanceID, events.NewOutcomeEvent(outcome, w.id))
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to publish outcome",
				"instance_id", outcome.InstanceID, "task_id", outcome.TaskID, "error", err)

			return
		}

		w.logger.DebugContext(ctx, "Outcome published",
			"instance_id", outcome.InstanceID, "task_id", outcome.TaskID, "failed", outcome.Failed(), "attempts", outcome.Attempts)
	})

	return nil
}
