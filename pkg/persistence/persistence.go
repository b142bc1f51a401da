// Package persistence provides the storage abstraction for workflow instances, their history
// log and the result store.
package persistence

import (
	"context"
	"sort"

	"github.com/dukex/imageflow/pkg/models"
)

// Persistence groups the orchestration state repositories of one backend.
type Persistence interface {
	InstanceRepository() InstanceRepository
	HistoryRepository() HistoryRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// InstanceRepository stores workflow instances keyed by instance ID.
type InstanceRepository interface {
	// Create stores a new instance. Returns ErrInstanceAlreadyExists when the ID is taken.
	Create(ctx context.Context, instance *models.WorkflowInstance) error
	// Get returns ErrInstanceNotFound when no instance has the ID.
	Get(ctx context.Context, instanceID string) (*models.WorkflowInstance, error)
	// Update replaces the mutable fields of an existing instance.
	Update(ctx context.Context, instance *models.WorkflowInstance) error
	// ListByStatus returns instances in any of the given statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...models.InstanceStatus) ([]*models.WorkflowInstance, error)
}

// HistoryRepository is the append-only, instance-scoped history log.
type HistoryRepository interface {
	// Append atomically appends events after expectedLast, the sequence number of the
	// newest event the caller has seen (0 for an empty log). Events are renumbered
	// expectedLast+1, expectedLast+2, ... Returns ErrSequenceConflict when another
	// writer appended first; nothing is written in that case.
	Append(ctx context.Context, instanceID string, expectedLast int64, events []models.HistoryEvent) error
	// Load returns the full history ordered by sequence number.
	Load(ctx context.Context, instanceID string) ([]models.HistoryEvent, error)
}

// ResultRepository is the idempotent key-value store for final reports.
type ResultRepository interface {
	// Upsert inserts or replaces the entity with the same partition and row key.
	Upsert(ctx context.Context, entity *models.Entity) error
	// Get returns ErrResultNotFound when the row does not exist.
	Get(ctx context.Context, partitionKey, rowKey string) (*models.Entity, error)
	// QueryByPartition returns the partition's rows, most recent Timestamp first.
	// A limit <= 0 returns every row.
	QueryByPartition(ctx context.Context, partitionKey string, limit int) ([]*models.Entity, error)
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// NumberEvents stamps instance ID and sequence numbers on events about to be appended.
func NumberEvents(instanceID string, expectedLast int64, events []models.HistoryEvent) []models.HistoryEvent {
	numbered := make([]models.HistoryEvent, len(events))
	for i, event := range events {
		event.InstanceID = instanceID
		event.SequenceNumber = expectedLast + int64(i) + 1
		numbered[i] = event
	}

	return numbered
}

// SortByRecency orders entities by Timestamp descending, then row key descending, and
// truncates to limit when limit > 0.
func SortByRecency(entities []*models.Entity, limit int) []*models.Entity {
	sort.SliceStable(entities, func(i, j int) bool {
		if !entities[i].Timestamp.Equal(entities[j].Timestamp) {
			return entities[i].Timestamp.After(entities[j].Timestamp)
		}

		return entities[i].RowKey > entities[j].RowKey
	})

	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}

	return entities
}
