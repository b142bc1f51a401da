package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
)

// HistoryRepository stores history events, one row per event keyed by (instance, sequence).
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB, logger *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Append inserts the batch in one transaction. A concurrent writer that won the race
// either moved the last sequence number or collides on the primary key; both surface
// as persistence.ErrSequenceConflict.
func (r *HistoryRepository) Append(ctx context.Context, instanceID string, expectedLast int64, events []models.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var last int64

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence_number), 0) FROM history_events WHERE instance_id = $1",
		instanceID,
	).Scan(&last)
	if err != nil {
		return persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to read last sequence number: %w", err))
	}

	if last != expectedLast {
		return persistence.NewInstanceError("Append", instanceID, persistence.ErrSequenceConflict)
	}

	insert := `
		INSERT INTO history_events (
			instance_id, sequence_number, kind, task_id, activity_name, payload, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, event := range persistence.NumberEvents(instanceID, expectedLast, events) {
		_, err = tx.ExecContext(ctx, insert,
			event.InstanceID,
			event.SequenceNumber,
			string(event.Kind),
			nullableString(event.TaskID),
			nullableString(event.ActivityName),
			nullableBytes(event.Payload),
			nullableString(event.Error),
			event.Timestamp.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return persistence.NewInstanceError("Append", instanceID, persistence.ErrSequenceConflict)
			}

			return persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to insert event %d: %w", event.SequenceNumber, err))
		}
	}

	err = tx.Commit()
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewInstanceError("Append", instanceID, persistence.ErrSequenceConflict)
		}

		return persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

func (r *HistoryRepository) Load(ctx context.Context, instanceID string) ([]models.HistoryEvent, error) {
	query := `
		SELECT
			instance_id
		  , sequence_number
		  , kind
		  , task_id
		  , activity_name
		  , payload
		  , error
		  , created_at
		FROM history_events
		WHERE instance_id = $1
		ORDER BY sequence_number ASC
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, persistence.NewInstanceError("Load", instanceID, fmt.Errorf("failed to query history: %w", err))
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]models.HistoryEvent, 0)

	for rows.Next() {
		var (
			event        models.HistoryEvent
			kind         string
			taskID       sql.NullString
			activityName sql.NullString
			payload      []byte
			errorMessage sql.NullString
		)

		err := rows.Scan(
			&event.InstanceID,
			&event.SequenceNumber,
			&kind,
			&taskID,
			&activityName,
			&payload,
			&errorMessage,
			&event.Timestamp,
		)
		if err != nil {
			return nil, persistence.NewInstanceError("Load", instanceID, fmt.Errorf("failed to scan event: %w", err))
		}

		event.Kind = models.HistoryEventKind(kind)
		event.TaskID = taskID.String
		event.ActivityName = activityName.String
		event.Error = errorMessage.String

		if len(payload) > 0 {
			event.Payload = payload
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewInstanceError("Load", instanceID, fmt.Errorf("error iterating history: %w", err))
	}

	return events, nil
}
