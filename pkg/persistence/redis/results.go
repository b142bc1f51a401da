// Package redis provides a Redis-backed result store.
//
// Each row is a hash at <prefix>:<partition>:<row>; a sorted set at
// <prefix>:<partition>:index scores row keys by Timestamp in Unix microseconds.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "imageflow:results"
	timestampField = "_timestamp"
)

// ResultRepository implements persistence.ResultRepository on Redis.
type ResultRepository struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Option configures a ResultRepository.
type Option func(*ResultRepository)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *ResultRepository) {
		r.prefix = prefix
	}
}

// NewResultRepository wraps an existing client.
func NewResultRepository(client redis.UniversalClient, logger *slog.Logger, opts ...Option) *ResultRepository {
	repo := &ResultRepository{
		client: client,
		prefix: defaultPrefix,
		logger: logger.With("module", "redis_results"),
	}

	for _, opt := range opts {
		opt(repo)
	}

	return repo
}

// Open connects to the Redis server at url (redis://[:password@]host:port/db).
func Open(ctx context.Context, url string, logger *slog.Logger, opts ...Option) (*ResultRepository, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewResultRepository(client, logger, opts...), nil
}

func (r *ResultRepository) rowKey(partitionKey, rowKey string) string {
	return r.prefix + ":" + partitionKey + ":" + rowKey
}

func (r *ResultRepository) indexKey(partitionKey string) string {
	return r.prefix + ":" + partitionKey + ":index"
}

// Upsert replaces the row hash and its index entry in one MULTI/EXEC.
func (r *ResultRepository) Upsert(ctx context.Context, entity *models.Entity) error {
	values := make(map[string]any, len(entity.Fields)+1)
	for k, v := range entity.Fields {
		values[k] = v
	}

	values[timestampField] = entity.Timestamp.UTC().Format(time.RFC3339Nano)

	key := r.rowKey(entity.PartitionKey, entity.RowKey)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.ZAdd(ctx, r.indexKey(entity.PartitionKey), redis.Z{
			Score:  recencyScore(entity.Timestamp),
			Member: entity.RowKey,
		})

		return nil
	})
	if err != nil {
		return persistence.NewResultError("Upsert", entity.PartitionKey, entity.RowKey, err)
	}

	return nil
}

// recencyScore orders rows by their timestamp in microseconds, the precision
// a float64 score holds exactly.
func recencyScore(ts time.Time) float64 {
	return float64(ts.UnixMicro())
}

func (r *ResultRepository) Get(ctx context.Context, partitionKey, rowKey string) (*models.Entity, error) {
	values, err := r.client.HGetAll(ctx, r.rowKey(partitionKey, rowKey)).Result()
	if err != nil {
		return nil, persistence.NewResultError("Get", partitionKey, rowKey, err)
	}

	if len(values) == 0 {
		return nil, persistence.NewResultError("Get", partitionKey, rowKey, persistence.ErrResultNotFound)
	}

	return toEntity(partitionKey, rowKey, values)
}

// QueryByPartition walks the index newest first; ties on score come back in
// reverse lexicographic member order, which is row key descending.
func (r *ResultRepository) QueryByPartition(ctx context.Context, partitionKey string, limit int) ([]*models.Entity, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	rowKeys, err := r.client.ZRevRange(ctx, r.indexKey(partitionKey), 0, stop).Result()
	if err != nil {
		return nil, persistence.NewResultError("QueryByPartition", partitionKey, "", err)
	}

	if len(rowKeys) == 0 {
		return make([]*models.Entity, 0), nil
	}

	pipe := r.client.Pipeline()

	commands := make([]*redis.MapStringStringCmd, len(rowKeys))
	for i, rowKey := range rowKeys {
		commands[i] = pipe.HGetAll(ctx, r.rowKey(partitionKey, rowKey))
	}

	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, persistence.NewResultError("QueryByPartition", partitionKey, "", err)
	}

	entities := make([]*models.Entity, 0, len(rowKeys))

	for i, cmd := range commands {
		values := cmd.Val()
		if len(values) == 0 {
			r.logger.WarnContext(ctx, "Index entry without row", "partition_key", partitionKey, "row_key", rowKeys[i])

			continue
		}

		entity, err := toEntity(partitionKey, rowKeys[i], values)
		if err != nil {
			return nil, err
		}

		entities = append(entities, entity)
	}

	return entities, nil
}

func (r *ResultRepository) HealthCheck(ctx context.Context) error {
	err := r.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (r *ResultRepository) Close(_ context.Context) error {
	return r.client.Close()
}

func toEntity(partitionKey, rowKey string, values map[string]string) (*models.Entity, error) {
	timestamp, err := time.Parse(time.RFC3339Nano, values[timestampField])
	if err != nil {
		return nil, persistence.NewResultError("Get", partitionKey, rowKey, fmt.Errorf("invalid timestamp: %w", err))
	}

	fields := make(map[string]string, len(values))
	for k, v := range values {
		if k != timestampField {
			fields[k] = v
		}
	}

	return &models.Entity{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Fields:       fields,
		Timestamp:    timestamp,
	}, nil
}
