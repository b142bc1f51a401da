package eventbus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/imageflow/pkg/channels/gochannel"
	"github.com/dukex/imageflow/pkg/eventbus"
	"github.com/dukex/imageflow/pkg/events"
	"github.com/dukex/imageflow/pkg/log"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversByType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)

	scheduled := make(chan *events.TaskScheduled, 1)
	completed := make(chan *events.TaskCompleted, 1)

	require.NoError(t, bus.Handle(events.TaskScheduledEvent, func(_ context.Context, event any) error {
		scheduled <- event.(*events.TaskScheduled)

		return nil
	}))
	require.NoError(t, bus.Handle(events.TaskCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.TaskCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	task := models.ActivityTask{InstanceID: "inst-1", TaskID: "task-0001", ActivityName: "analyze_text"}
	require.NoError(t, bus.Publish(ctx, task.InstanceID, events.NewTaskScheduled(task)))

	outcome := models.TaskOutcome{InstanceID: "inst-1", TaskID: "task-0001", ActivityName: "analyze_text", Output: []byte(`{"hasText":false}`)}
	require.NoError(t, bus.Publish(ctx, outcome.InstanceID, events.NewOutcomeEvent(outcome, "worker-1")))

	select {
	case event := <-scheduled:
		assert.Equal(t, "task-0001", event.Task.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("task scheduled event not delivered")
	}

	select {
	case event := <-completed:
		assert.Equal(t, "worker-1", event.WorkerID)
		assert.JSONEq(t, `{"hasText":false}`, string(event.Outcome.Output))
	case <-time.After(2 * time.Second):
		t.Fatal("task completed event not delivered")
	}
}

func TestWatermillEventBus_RedeliversAfterHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)

	var calls atomic.Int32

	done := make(chan struct{})

	require.NoError(t, bus.Handle(events.TaskFailedEvent, func(context.Context, any) error {
		if calls.Add(1) == 1 {
			return errors.New("store briefly unavailable")
		}

		close(done)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	outcome := models.TaskOutcome{InstanceID: "inst-2", TaskID: "task-0003", Error: "boom"}
	require.NoError(t, bus.Publish(ctx, outcome.InstanceID, events.NewOutcomeEvent(outcome, "")))

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("failed event not redelivered")
	}
}

func TestWatermillEventBus_HandleAfterSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)

	require.NoError(t, bus.Handle(events.TaskScheduledEvent, func(context.Context, any) error { return nil }))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Handle(events.TaskCompletedEvent, func(context.Context, any) error { return nil })
	require.ErrorIs(t, err, eventbus.ErrAlreadySubscribed)
	require.ErrorIs(t, bus.Subscribe(ctx), eventbus.ErrAlreadySubscribed)
}
