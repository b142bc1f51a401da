package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
)

// ResultRepository stores result rows in the results table.
type ResultRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *sql.DB, logger *slog.Logger) *ResultRepository {
	return &ResultRepository{db: db, logger: logger}
}

func (r *ResultRepository) Upsert(ctx context.Context, entity *models.Entity) error {
	fields, err := json.Marshal(entity.Fields)
	if err != nil {
		return persistence.NewResultError("Upsert", entity.PartitionKey, entity.RowKey, err)
	}

	query := `
		INSERT INTO results (partition_key, row_key, fields, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition_key, row_key) DO UPDATE SET
			fields = EXCLUDED.fields
		  , timestamp = EXCLUDED.timestamp
	`

	_, err = r.db.ExecContext(ctx, query, entity.PartitionKey, entity.RowKey, fields, entity.Timestamp.UTC())
	if err != nil {
		return persistence.NewResultError("Upsert", entity.PartitionKey, entity.RowKey, err)
	}

	return nil
}

func (r *ResultRepository) Get(ctx context.Context, partitionKey, rowKey string) (*models.Entity, error) {
	query := `
		SELECT partition_key, row_key, fields, timestamp
		FROM results
		WHERE partition_key = $1 AND row_key = $2
	`

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, partitionKey, rowKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewResultError("Get", partitionKey, rowKey, persistence.ErrResultNotFound)
		}

		return nil, persistence.NewResultError("Get", partitionKey, rowKey, err)
	}

	return entity, nil
}

func (r *ResultRepository) QueryByPartition(ctx context.Context, partitionKey string, limit int) ([]*models.Entity, error) {
	query := `
		SELECT partition_key, row_key, fields, timestamp
		FROM results
		WHERE partition_key = $1
		ORDER BY timestamp DESC, row_key DESC
	`
	args := []any{partitionKey}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entities := make([]*models.Entity, 0)

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return entities, nil
}

func (r *ResultRepository) HealthCheck(ctx context.Context) error {
	err := r.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close is a no-op; the connection pool belongs to Persistence.
func (r *ResultRepository) Close(_ context.Context) error {
	return nil
}

func scanEntity(row scanner) (*models.Entity, error) {
	var (
		entity models.Entity
		fields []byte
	)

	err := row.Scan(&entity.PartitionKey, &entity.RowKey, &fields, &entity.Timestamp)
	if err != nil {
		return nil, err
	}

	entity.Fields = make(map[string]string)

	err = json.Unmarshal(fields, &entity.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}

	return &entity, nil
}
