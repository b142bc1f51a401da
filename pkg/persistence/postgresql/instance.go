package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/lib/pq"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const selectInstance = `
	SELECT
		id
	  , orchestrator
	  , input
	  , status
	  , output
	  , error_message
	  , created_at
	  , updated_at
	  , completed_at
	FROM workflow_instances
`

func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			id, orchestrator, input, status, output, error_message, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		instance.ID,
		instance.Orchestrator,
		[]byte(instance.Input),
		string(instance.Status),
		nullableBytes(instance.Output),
		nullableString(instance.ErrorMessage),
		instance.CreatedAt.UTC(),
		instance.UpdatedAt.UTC(),
		instance.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
		}

		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) Get(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, selectInstance+" WHERE id = $1", instanceID)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("Get", instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("Get", instanceID, err)
	}

	return instance, nil
}

func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances SET
			status = $2
		  , output = $3
		  , error_message = $4
		  , updated_at = $5
		  , completed_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID,
		string(instance.Status),
		nullableBytes(instance.Output),
		nullableString(instance.ErrorMessage),
		instance.UpdatedAt.UTC(),
		instance.CompletedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	if affected == 0 {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	return nil
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, statuses ...models.InstanceStatus) ([]*models.WorkflowInstance, error) {
	query := selectInstance
	args := make([]any, 0, 1)

	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = string(status)
		}

		query += " WHERE status = ANY($1)"

		args = append(args, pq.Array(values))
	}

	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance     models.WorkflowInstance
		status       string
		input        []byte
		output       []byte
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.Orchestrator,
		&input,
		&status,
		&output,
		&errorMessage,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(strings.TrimSpace(status))
	instance.Input = input
	instance.ErrorMessage = errorMessage.String

	if len(output) > 0 {
		instance.Output = output
	}

	if completedAt.Valid {
		completed := completedAt.Time
		instance.CompletedAt = &completed
	}

	return &instance, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
