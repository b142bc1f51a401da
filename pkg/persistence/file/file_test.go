package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstance(id string, status models.InstanceStatus, createdAt time.Time) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:           id,
		Orchestrator: "image_analyzer",
		Input:        json.RawMessage(`{"blobName":"images/cat.png"}`),
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence("file://" + t.TempDir())
	require.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, missing.HealthCheck(context.Background()))
}

func TestInstanceRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).InstanceRepository()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	instance := newInstance("inst-1", models.InstanceStatusRunning, now)
	require.NoError(t, repo.Create(ctx, instance))

	err := repo.Create(ctx, instance)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInstanceAlreadyExists)

	got, err := repo.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "image_analyzer", got.Orchestrator)
	assert.JSONEq(t, `{"blobName":"images/cat.png"}`, string(got.Input))
	assert.Equal(t, models.InstanceStatusRunning, got.Status)

	got.Status = models.InstanceStatusCompleted
	got.Output = json.RawMessage(`{"status":"stored"}`)
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, got.Status)
	assert.JSONEq(t, `{"status":"stored"}`, string(got.Output))
}

func TestInstanceRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewInstanceRepository(t.TempDir())

	_, err := repo.Get(ctx, "nope")
	assert.True(t, persistence.IsInstanceNotFound(err))

	err = repo.Update(ctx, newInstance("nope", models.InstanceStatusRunning, time.Now()))
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestInstanceRepository_RejectsTraversal(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())

	for _, id := range []string{"", "../etc", "a/b", `a\b`} {
		err := repo.Create(context.Background(), newInstance(id, models.InstanceStatusRunning, time.Now()))
		assert.Error(t, err, id)
	}
}

func TestInstanceRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInstanceRepository(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newInstance("c", models.InstanceStatusRunning, base.Add(2*time.Minute))))
	require.NoError(t, repo.Create(ctx, newInstance("a", models.InstanceStatusRunning, base)))
	require.NoError(t, repo.Create(ctx, newInstance("b", models.InstanceStatusCompleted, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newInstance("d", models.InstanceStatusCreated, base.Add(3*time.Minute))))

	active, err := repo.ListByStatus(ctx, models.InstanceStatusCreated, models.InstanceStatusRunning)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
	assert.Equal(t, "d", active[2].ID)

	all, err := repo.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestHistoryRepository_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(t.TempDir())

	events, err := repo.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	batch := []models.HistoryEvent{
		{Kind: models.EventTaskScheduled, TaskID: "task-0001", ActivityName: "analyze_colors", Payload: json.RawMessage(`{"a":1}`)},
		{Kind: models.EventTaskScheduled, TaskID: "task-0002", ActivityName: "analyze_objects", Payload: json.RawMessage(`{"a":1}`)},
	}
	require.NoError(t, repo.Append(ctx, "inst-1", 0, batch))
	require.NoError(t, repo.Append(ctx, "inst-1", 2, []models.HistoryEvent{
		{Kind: models.EventTaskCompleted, TaskID: "task-0002", Payload: json.RawMessage(`{"ok":true}`)},
	}))

	events, err = repo.Load(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, event := range events {
		assert.Equal(t, int64(i+1), event.SequenceNumber)
		assert.Equal(t, "inst-1", event.InstanceID)
	}

	assert.Equal(t, "task-0002", events[2].TaskID)
	assert.JSONEq(t, `{"ok":true}`, string(events[2].Payload))
}

func TestHistoryRepository_SequenceConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(t.TempDir())

	event := models.HistoryEvent{Kind: models.EventTaskScheduled, TaskID: "task-0001", ActivityName: "analyze_colors"}
	require.NoError(t, repo.Append(ctx, "inst-1", 0, []models.HistoryEvent{event}))

	err := repo.Append(ctx, "inst-1", 0, []models.HistoryEvent{event})
	assert.True(t, persistence.IsSequenceConflict(err))

	events, err := repo.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestHistoryRepository_ConcurrentAppendsSerialize(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(t.TempDir())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Append(ctx, "inst-1", 0, []models.HistoryEvent{{Kind: models.EventOrchestratorCompleted}})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestHistoryRepository_SharedDirectoryKeepsEveryAcknowledgedAppend(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first := NewPersistence(root).HistoryRepository()
	second := NewPersistence(root).HistoryRepository()

	seed := make([]models.HistoryEvent, 200)
	for i := range seed {
		seed[i] = models.HistoryEvent{Kind: models.EventTaskScheduled, TaskID: fmt.Sprintf("task-%04d", i+1)}
	}

	require.NoError(t, first.Append(ctx, "inst-1", 0, seed))

	expected := int64(len(seed))

	for round := range 50 {
		var (
			wg   sync.WaitGroup
			errs [2]error
		)

		for i, repo := range []persistence.HistoryRepository{first, second} {
			wg.Add(1)

			go func() {
				defer wg.Done()

				errs[i] = repo.Append(ctx, "inst-1", expected, []models.HistoryEvent{{
					Kind:   models.EventTaskCompleted,
					TaskID: fmt.Sprintf("round-%d-%d", round, i),
				}})
			}()
		}

		wg.Wait()

		acknowledged := 0

		for _, err := range errs {
			if err == nil {
				acknowledged++

				continue
			}

			assert.True(t, persistence.IsSequenceConflict(err), "round %d: %v", round, err)
		}

		require.Equal(t, 1, acknowledged, "round %d", round)

		expected++

		events, err := second.Load(ctx, "inst-1")
		require.NoError(t, err)
		require.Len(t, events, int(expected), "round %d", round)
		assert.Equal(t, expected, events[len(events)-1].SequenceNumber)
	}

	leftovers, err := filepath.Glob(filepath.Join(root, "history", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestResultRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo := NewResultRepository(root)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	entity := &models.Entity{
		PartitionKey: "ImageAnalysis",
		RowKey:       "report-1",
		Fields:       map[string]string{"FileName": "cat.png", "AnalysisData": `{"id":"report-1"}`},
		Timestamp:    ts,
	}

	require.NoError(t, repo.Upsert(ctx, entity))

	first, err := os.ReadFile(filepath.Join(root, "results", "ImageAnalysis", "report-1.json"))
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(ctx, entity))

	second, err := os.ReadFile(filepath.Join(root, "results", "ImageAnalysis", "report-1.json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := repo.Get(ctx, "ImageAnalysis", "report-1")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", got.Fields["FileName"])
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestResultRepository_GetMissing(t *testing.T) {
	repo := NewResultRepository(t.TempDir())

	_, err := repo.Get(context.Background(), "ImageAnalysis", "missing")
	assert.True(t, persistence.IsResultNotFound(err))

	_, err = repo.Get(context.Background(), "ImageAnalysis", "../x")
	assert.True(t, persistence.IsResultNotFound(err))
}

func TestResultRepository_QueryByPartition(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepository(t.TempDir())
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, rowKey := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, repo.Upsert(ctx, &models.Entity{
			PartitionKey: "ImageAnalysis",
			RowKey:       rowKey,
			Fields:       map[string]string{},
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, repo.Upsert(ctx, &models.Entity{PartitionKey: "Other", RowKey: "x", Timestamp: base.Add(time.Hour)}))

	got, err := repo.QueryByPartition(ctx, "ImageAnalysis", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r4", got[0].RowKey)
	assert.Equal(t, "r3", got[1].RowKey)

	all, err := repo.QueryByPartition(ctx, "ImageAnalysis", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	empty, err := repo.QueryByPartition(ctx, "Missing", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
