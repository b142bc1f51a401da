package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/imageflow/pkg/activity"
	"github.com/dukex/imageflow/pkg/channels/gochannel"
	"github.com/dukex/imageflow/pkg/eventbus"
	"github.com/dukex/imageflow/pkg/events"
	"github.com/dukex/imageflow/pkg/log"
	"github.com/dukex/imageflow/pkg/mocks"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/testutil"
	"github.com/dukex/imageflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBusRuntime_EndToEnd(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	var worker *workflow.Worker

	rt := newRuntime(t, runtimeConfig{
		dispatcher: func(_ context.Context, executor *activity.Executor) workflow.Dispatcher {
			worker = workflow.NewWorker("worker-1", bus, executor, activity.NewPool(2), log.Discard())

			return workflow.NewBusDispatcher(bus, log.Discard())
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, worker.Register())
	require.NoError(t, bus.Subscribe(ctx))

	id, err := rt.driver.SubmitBlob(ctx, "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)

	result := rt.waiter.wait(t, id)
	require.Equal(t, models.InstanceStatusCompleted, result.Status, result.Error)

	var record models.StoredRecord
	require.NoError(t, json.Unmarshal(result.Output, &record))
	assert.Equal(t, "100x50", record.Summary.ImageSize)

	worker.Wait()
}

func TestBusDispatcher_PublishesScheduledTask(t *testing.T) {
	bus := &mocks.MockEventBus{}
	dispatcher := workflow.NewBusDispatcher(bus, log.Discard())

	task := models.ActivityTask{InstanceID: "inst-1", TaskID: "task-0003", ActivityName: "analyze_text", Attempt: 1}

	bus.On("Publish", mock.Anything, "inst-1", mock.MatchedBy(func(event eventbus.Event) bool {
		scheduled, ok := event.(events.TaskScheduled)

		return ok && scheduled.Task.TaskID == "task-0003" && scheduled.InstanceID == "inst-1"
	})).Return(nil).Once()

	require.NoError(t, dispatcher.Dispatch(context.Background(), task))
	bus.AssertExpectations(t)
}

func TestBusDispatcher_PublishFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := workflow.NewBusDispatcher(bus, log.Discard()).Dispatch(context.Background(), models.ActivityTask{InstanceID: "i", TaskID: "task-0001"})
	require.ErrorContains(t, err, "broker down")
}

func TestBusDispatcher_RoutesOutcomeEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}

	handlers := make(map[events.EventType]eventbus.EventHandler)

	bus.On("Handle", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		handlers[args.Get(0).(events.EventType)] = args.Get(1).(eventbus.EventHandler)
	}).Return(nil)

	var received []models.TaskOutcome

	err := workflow.NewBusDispatcher(bus, log.Discard()).OnOutcome(func(_ context.Context, outcome models.TaskOutcome) error {
		received = append(received, outcome)

		return nil
	})
	require.NoError(t, err)
	require.Len(t, handlers, 2)

	ctx := context.Background()
	require.NoError(t, handlers[events.TaskCompletedEvent](ctx, &events.TaskCompleted{Outcome: models.TaskOutcome{TaskID: "task-0001"}}))
	require.NoError(t, handlers[events.TaskFailedEvent](ctx, &events.TaskFailed{Outcome: models.TaskOutcome{TaskID: "task-0002", Error: "boom"}}))
	require.Error(t, handlers[events.TaskFailedEvent](ctx, &events.TaskScheduled{}))

	require.Len(t, received, 2)
	assert.Equal(t, "task-0001", received[0].TaskID)
	assert.True(t, received[1].Failed())
}
