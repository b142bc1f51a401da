package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/imageflow/pkg/activity"
	"github.com/dukex/imageflow/pkg/eventbus"
	"github.com/dukex/imageflow/pkg/events"
	"github.com/dukex/imageflow/pkg/models"
)

// OutcomeHandler receives the outcome of a dispatched task.
type OutcomeHandler func(ctx context.Context, outcome models.TaskOutcome) error

// Dispatcher hands pending tasks to whatever runs them and routes their outcomes back.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.ActivityTask) error
	OnOutcome(handler OutcomeHandler) error
}

// LocalDispatcher runs tasks in-process on a bounded pool.
type LocalDispatcher struct {
	ctx      context.Context
	executor *activity.Executor
	pool     *activity.Pool
	handler  OutcomeHandler
	logger   *slog.Logger
}

// NewLocalDispatcher runs tasks under ctx, not under the context of the Dispatch
// call, so a finished request does not abort the work it queued.
func NewLocalDispatcher(ctx context.Context, executor *activity.Executor, pool *activity.Pool, logger *slog.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		ctx:      ctx,
		executor: executor,
		pool:     pool,
		logger:   logger.With("module", "local_dispatcher"),
	}
}

func (d *LocalDispatcher) OnOutcome(handler OutcomeHandler) error {
	d.handler = handler

	return nil
}

func (d *LocalDispatcher) Dispatch(_ context.Context, task models.ActivityTask) error {
	if d.handler == nil {
		return fmt.Errorf("no outcome handler for task %s", task.Key())
	}

	d.pool.Go(d.ctx, func(ctx context.Context) {
		outcome := d.executor.Run(ctx, task)

		err := d.handler(ctx, outcome)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to handle task outcome",
				"instance_id", task.InstanceID, "task_id", task.TaskID, "error", err)
		}
	})

	return nil
}

// Wait blocks until every dispatched task has reported.
func (d *LocalDispatcher) Wait() {
	d.pool.Wait()
}

// BusDispatcher publishes tasks for remote workers and listens for their outcomes.
type BusDispatcher struct {
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewBusDispatcher(bus eventbus.EventBus, logger *slog.Logger) *BusDispatcher {
	return &BusDispatcher{bus: bus, logger: logger.With("module", "bus_dispatcher")}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, task models.ActivityTask) error {
	err := d.bus.Publish(ctx, task.InstanceID, events.NewTaskScheduled(task))
	if err != nil {
		return fmt.Errorf("failed to publish task %s: %w", task.Key(), err)
	}

	d.logger.DebugContext(ctx, "Task published", "instance_id", task.InstanceID, "task_id", task.TaskID, "activity", task.ActivityName)

	return nil
}

// OnOutcome registers handler for completed and failed task events. The bus must
// be subscribed afterwards.
func (d *BusDispatcher) OnOutcome(handler OutcomeHandler) error {
	err := d.bus.Handle(events.TaskCompletedEvent, func(ctx context.Context, event any) error {
		completed, ok := event.(*events.TaskCompleted)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		return handler(ctx, completed.Outcome)
	})
	if err != nil {
		return err
	}

	return d.bus.Handle(events.TaskFailedEvent, func(ctx context.Context, event any) error {
		failed, ok := event.(*events.TaskFailed)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		return handler(ctx, failed.Outcome)
	})
}
