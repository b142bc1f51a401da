package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
)

// ResultRepository stores one JSON document per result row under <root>/results/<partition>/.
type ResultRepository struct {
	root string
	mu   sync.RWMutex
}

// NewResultRepository creates a new result repository rooted at root (file:// URLs accepted).
func NewResultRepository(root string) *ResultRepository {
	return &ResultRepository{root: filepath.Join(CleanRoot(root), "results")}
}

func (rr *ResultRepository) path(partitionKey, rowKey string) string {
	return filepath.Join(rr.root, partitionKey, rowKey+".json")
}

func (rr *ResultRepository) Upsert(_ context.Context, entity *models.Entity) error {
	if err := validateKey(entity.PartitionKey); err != nil {
		return persistence.NewResultError("Upsert", entity.PartitionKey, entity.RowKey, err)
	}

	if err := validateKey(entity.RowKey); err != nil {
		return persistence.NewResultError("Upsert", entity.PartitionKey, entity.RowKey, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	err := writeJSON(rr.path(entity.PartitionKey, entity.RowKey), entity)
	if err != nil {
		return persistence.NewResultError("Upsert", entity.PartitionKey, entity.RowKey, err)
	}

	return nil
}

func (rr *ResultRepository) Get(_ context.Context, partitionKey, rowKey string) (*models.Entity, error) {
	if validateKey(partitionKey) != nil || validateKey(rowKey) != nil {
		return nil, persistence.NewResultError("Get", partitionKey, rowKey, persistence.ErrResultNotFound)
	}

	rr.mu.RLock()
	defer rr.mu.RUnlock()

	var entity models.Entity

	err := readJSON(rr.path(partitionKey, rowKey), &entity)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewResultError("Get", partitionKey, rowKey, persistence.ErrResultNotFound)
		}

		return nil, persistence.NewResultError("Get", partitionKey, rowKey, err)
	}

	return &entity, nil
}

func (rr *ResultRepository) QueryByPartition(_ context.Context, partitionKey string, limit int) ([]*models.Entity, error) {
	if err := validateKey(partitionKey); err != nil {
		return nil, persistence.NewResultError("QueryByPartition", partitionKey, "", err)
	}

	rr.mu.RLock()
	defer rr.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(rr.root, partitionKey, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list result files: %w", err)
	}

	entities := make([]*models.Entity, 0, len(files))

	for _, file := range files {
		var entity models.Entity

		err := readJSON(file, &entity)
		if err != nil {
			return nil, persistence.NewResultError("QueryByPartition", partitionKey, strings.TrimSuffix(filepath.Base(file), ".json"), err)
		}

		entities = append(entities, &entity)
	}

	return persistence.SortByRecency(entities, limit), nil
}

func (rr *ResultRepository) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(rr.root, 0o750)
	if err != nil {
		return fmt.Errorf("result directory unavailable: %w", err)
	}

	return nil
}

func (rr *ResultRepository) Close(_ context.Context) error {
	return nil
}
