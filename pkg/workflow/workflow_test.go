package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/imageflow/pkg/activity"
	"github.com/dukex/imageflow/pkg/analysis"
	"github.com/dukex/imageflow/pkg/log"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/orchestration"
	"github.com/dukex/imageflow/pkg/persistence/file"
	"github.com/dukex/imageflow/pkg/results"
	"github.com/dukex/imageflow/pkg/testutil"
	"github.com/dukex/imageflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// finishedWaiter collects terminal results reported by an engine.
type finishedWaiter struct {
	mu      sync.Mutex
	results map[string]*orchestration.AdvanceResult
	signal  chan string
}

func newFinishedWaiter() *finishedWaiter {
	return &finishedWaiter{results: make(map[string]*orchestration.AdvanceResult), signal: make(chan string, 64)}
}

func (w *finishedWaiter) hook(_ context.Context, result *orchestration.AdvanceResult) {
	w.mu.Lock()
	w.results[result.InstanceID] = result
	w.mu.Unlock()

	w.signal <- result.InstanceID
}

func (w *finishedWaiter) wait(t *testing.T, instanceID string) *orchestration.AdvanceResult {
	t.Helper()

	deadline := time.After(waitTimeout)

	for {
		w.mu.Lock()
		result, ok := w.results[instanceID]
		w.mu.Unlock()

		if ok {
			return result
		}

		select {
		case <-w.signal:
		case <-deadline:
			t.Fatalf("instance %s did not finish", instanceID)
		}
	}
}

// recordingDispatcher accepts tasks and never runs them, like a process that
// crashed right after scheduling.
type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []models.ActivityTask
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task models.ActivityTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tasks = append(d.tasks, task)

	return nil
}

func (d *recordingDispatcher) OnOutcome(workflow.OutcomeHandler) error {
	return nil
}

func (d *recordingDispatcher) dispatched() []models.ActivityTask {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]models.ActivityTask(nil), d.tasks...)
}

type runtime struct {
	driver    *workflow.Driver
	engine    *workflow.Engine
	scheduler *orchestration.Scheduler
	results   *results.Service
	waiter    *finishedWaiter
	root      string
}

type runtimeConfig struct {
	root       string
	analysis   []analysis.Option
	store      analysis.ReportStore
	retry      activity.RetryPolicy
	dispatcher func(ctx context.Context, executor *activity.Executor) workflow.Dispatcher
	engineOpts []workflow.EngineOption
}

func fastRetry(attempts int) activity.RetryPolicy {
	return activity.RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     activity.ExponentialBackoff{Base: time.Millisecond, Factor: 1, Max: time.Millisecond},
	}
}

func newRuntime(t *testing.T, cfg runtimeConfig) *runtime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if cfg.root == "" {
		cfg.root = t.TempDir()
	}

	if cfg.retry.MaxAttempts == 0 {
		cfg.retry = fastRetry(3)
	}

	logger := log.Discard()
	service := results.NewService(file.NewResultRepository(cfg.root), logger)

	store := cfg.store
	if store == nil {
		store = service
	}

	registry := orchestration.NewRegistry()
	executor := activity.NewExecutor(activity.WithLogger(logger), activity.WithDefaultRetry(cfg.retry))
	require.NoError(t, analysis.Register(executor, registry, store, append([]analysis.Option{analysis.WithLogger(logger)}, cfg.analysis...)...))

	scheduler := orchestration.NewScheduler(registry, file.NewPersistence(cfg.root), orchestration.WithLogger(logger))

	var dispatcher workflow.Dispatcher
	if cfg.dispatcher != nil {
		dispatcher = cfg.dispatcher(ctx, executor)
	} else {
		local := workflow.NewLocalDispatcher(ctx, executor, activity.NewPool(4), logger)
		t.Cleanup(local.Wait)
		dispatcher = local
	}

	waiter := newFinishedWaiter()
	opts := append([]workflow.EngineOption{workflow.WithEngineLogger(logger), workflow.WithFinishedHook(waiter.hook)}, cfg.engineOpts...)

	engine, err := workflow.NewEngine(scheduler, dispatcher, opts...)
	require.NoError(t, err)

	return &runtime{
		driver:    workflow.NewDriver(engine, workflow.WithDriverLogger(logger)),
		engine:    engine,
		scheduler: scheduler,
		results:   service,
		waiter:    waiter,
		root:      cfg.root,
	}
}

func TestDriver_EndToEndCatImage(t *testing.T) {
	rt := newRuntime(t, runtimeConfig{})
	ctx := context.Background()

	blob := testutil.CatPNG(t)

	firstID, err := rt.driver.SubmitBlob(ctx, "images/cat.png", blob)
	require.NoError(t, err)

	result := rt.waiter.wait(t, firstID)
	require.Equal(t, models.InstanceStatusCompleted, result.Status, result.Error)

	var record models.StoredRecord
	require.NoError(t, json.Unmarshal(result.Output, &record))

	assert.Equal(t, "cat.png", record.FileName)
	assert.Equal(t, models.StoredStatus, record.Status)
	assert.Equal(t, "100x50", record.Summary.ImageSize)
	assert.Equal(t, "PNG", record.Summary.Format)
	assert.False(t, record.Summary.HasText)

	report, err := rt.results.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "images/cat.png", report.BlobPath)
	assert.Equal(t, 100, report.Analyses.Metadata.Width)
	assert.Equal(t, 50, report.Analyses.Metadata.Height)
	assert.Equal(t, "RGB", report.Analyses.Metadata.Mode)
	assert.Len(t, report.Analyses.Objects.Objects, 2)
	assert.Equal(t, "landscape", report.Analyses.Objects.Objects[0].Name)
	assert.NotEmpty(t, report.Analyses.Colors.DominantColors)
	assert.GreaterOrEqual(t, record.Summary.ObjectsDetected, 1)

	secondID, err := rt.driver.SubmitBlob(ctx, "images/cat.png", blob)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	second := rt.waiter.wait(t, secondID)
	require.Equal(t, models.InstanceStatusCompleted, second.Status)

	var secondRecord models.StoredRecord
	require.NoError(t, json.Unmarshal(second.Output, &secondRecord))
	assert.NotEqual(t, record.ID, secondRecord.ID)

	list, err := rt.results.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)

	reread, err := rt.results.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, report, reread)
	assert.Equal(t, 0, rt.engine.InFlight())
}

func TestDriver_PartialFailureIsolation(t *testing.T) {
	rt := newRuntime(t, runtimeConfig{
		analysis: []analysis.Option{
			analysis.WithColorAnalyzer(func(context.Context, models.ImageInput) (models.ColorAnalysis, error) {
				return models.ColorAnalysis{}, errors.New("palette extraction failed")
			}),
		},
	})
	ctx := context.Background()

	id, err := rt.driver.SubmitBlob(ctx, "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)

	result := rt.waiter.wait(t, id)
	require.Equal(t, models.InstanceStatusCompleted, result.Status, result.Error)

	var record models.StoredRecord
	require.NoError(t, json.Unmarshal(result.Output, &record))

	report, err := rt.results.Get(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, []models.DominantColor{}, report.Analyses.Colors.DominantColors)
	assert.Equal(t, "palette extraction failed", report.Analyses.Colors.Error)
	assert.Equal(t, "N/A", report.Summary.DominantColor)
	assert.Empty(t, report.Analyses.Metadata.Error)
	assert.Equal(t, "PNG", report.Summary.Format)
}

type flakyStore struct {
	calls atomic.Int32
}

func (s *flakyStore) Save(context.Context, *models.Report) (*models.StoredRecord, error) {
	s.calls.Add(1)

	return nil, errors.New("table storage unreachable")
}

func TestDriver_FatalStoreFailureFailsInstanceAfterRetries(t *testing.T) {
	store := &flakyStore{}
	rt := newRuntime(t, runtimeConfig{store: store, retry: fastRetry(3)})

	id, err := rt.driver.SubmitBlob(context.Background(), "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)

	result := rt.waiter.wait(t, id)

	assert.Equal(t, models.InstanceStatusFailed, result.Status)
	assert.Contains(t, result.Error, "table storage unreachable")
	assert.Equal(t, int32(3), store.calls.Load())

	instance, err := rt.engine.Instance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.NotNil(t, instance.CompletedAt)
}

func TestDriver_RejectsEmptySubmission(t *testing.T) {
	rt := newRuntime(t, runtimeConfig{})

	_, err := rt.driver.SubmitBlob(context.Background(), "images/empty.png", nil)
	require.ErrorIs(t, err, workflow.ErrInvalidSubmission)

	_, err = rt.driver.SubmitBlob(context.Background(), "", []byte{1})
	require.ErrorIs(t, err, workflow.ErrInvalidSubmission)
}

func TestNewImageInput_RoundsSize(t *testing.T) {
	input := workflow.NewImageInput("images/a.png", make([]byte, 1536))
	assert.InDelta(t, 1.5, input.BlobSizeKB, 1e-9)

	input = workflow.NewImageInput("images/b.png", make([]byte, 1000))
	assert.InDelta(t, 0.98, input.BlobSizeKB, 1e-9)
}

func TestEngine_ResumeAfterCrash(t *testing.T) {
	root := t.TempDir()
	crashed := &recordingDispatcher{}

	before := newRuntime(t, runtimeConfig{
		root: root,
		dispatcher: func(context.Context, *activity.Executor) workflow.Dispatcher {
			return crashed
		},
	})

	id, err := before.driver.SubmitBlob(context.Background(), "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)
	require.Len(t, crashed.dispatched(), 4)

	// A new process over the same storage picks the instance up.
	after := newRuntime(t, runtimeConfig{root: root})

	resumed, err := after.engine.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	result := after.waiter.wait(t, id)
	require.Equal(t, models.InstanceStatusCompleted, result.Status, result.Error)

	history, err := after.scheduler.History(context.Background(), id)
	require.NoError(t, err)

	scheduled := 0
	for _, event := range history {
		if event.Kind == models.EventTaskScheduled {
			scheduled++
		}
	}

	assert.Equal(t, 6, scheduled)
}

func TestEngine_RedispatchesOnlyAfterTaskTimeout(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	var mu sync.Mutex

	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return now
	}

	rt := newRuntime(t, runtimeConfig{
		dispatcher: func(context.Context, *activity.Executor) workflow.Dispatcher { return dispatcher },
		engineOpts: []workflow.EngineOption{workflow.WithTaskTimeout(time.Minute), workflow.WithEngineClock(clock)},
	})

	_, err := rt.driver.SubmitBlob(context.Background(), "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)
	require.Len(t, dispatcher.dispatched(), 4)

	_, err = rt.engine.Resume(context.Background())
	require.NoError(t, err)
	assert.Len(t, dispatcher.dispatched(), 4)
	assert.Equal(t, 4, rt.engine.InFlight())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = rt.engine.Resume(context.Background())
	require.NoError(t, err)

	tasks := dispatcher.dispatched()
	require.Len(t, tasks, 8)

	for _, task := range tasks[:4] {
		assert.Equal(t, 1, task.Attempt)
	}

	for _, task := range tasks[4:] {
		assert.Equal(t, 2, task.Attempt)
	}
}

func TestEngine_CancelDiscardsLateOutcomes(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	rt := newRuntime(t, runtimeConfig{
		dispatcher: func(context.Context, *activity.Executor) workflow.Dispatcher { return dispatcher },
	})
	ctx := context.Background()

	id, err := rt.driver.SubmitBlob(ctx, "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)

	result, err := rt.engine.Cancel(ctx, id, "operator request")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, result.Status)
	assert.Equal(t, 0, rt.engine.InFlight())

	task := dispatcher.dispatched()[0]
	err = rt.engine.HandleOutcome(ctx, models.TaskOutcome{
		InstanceID:   id,
		TaskID:       task.TaskID,
		ActivityName: task.ActivityName,
		Output:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	instance, err := rt.engine.Instance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, instance.Status)
	assert.Equal(t, "operator request", instance.ErrorMessage)

	_, err = rt.engine.Cancel(ctx, id, "again")
	require.ErrorIs(t, err, orchestration.ErrInstanceTerminal)
}

func TestEngine_DropsOutcomesForUnknownTasks(t *testing.T) {
	rt := newRuntime(t, runtimeConfig{
		dispatcher: func(context.Context, *activity.Executor) workflow.Dispatcher { return &recordingDispatcher{} },
	})
	ctx := context.Background()

	id, err := rt.driver.SubmitBlob(ctx, "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)

	require.NoError(t, rt.engine.HandleOutcome(ctx, models.TaskOutcome{InstanceID: id, TaskID: "task-0099"}))
	require.NoError(t, rt.engine.HandleOutcome(ctx, models.TaskOutcome{InstanceID: "missing", TaskID: "task-0001"}))
}

func TestRecovery_SweepsOnStart(t *testing.T) {
	root := t.TempDir()
	crashed := &recordingDispatcher{}

	before := newRuntime(t, runtimeConfig{
		root:       root,
		dispatcher: func(context.Context, *activity.Executor) workflow.Dispatcher { return crashed },
	})

	id, err := before.driver.SubmitBlob(context.Background(), "images/cat.png", testutil.CatPNG(t))
	require.NoError(t, err)

	after := newRuntime(t, runtimeConfig{root: root})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recovery := workflow.NewRecovery(after.engine, "@every 1h", log.Discard())
	require.NoError(t, recovery.Start(ctx))
	defer recovery.Stop()

	result := after.waiter.wait(t, id)
	assert.Equal(t, models.InstanceStatusCompleted, result.Status)
}

func TestRecovery_RejectsBadSchedule(t *testing.T) {
	rt := newRuntime(t, runtimeConfig{})

	recovery := workflow.NewRecovery(rt.engine, "every now and then", log.Discard())
	require.Error(t, recovery.Start(context.Background()))
}
