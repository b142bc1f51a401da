package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
)

// InstanceRepository handles workflow instance file operations.
type InstanceRepository struct {
	root string
	mu   sync.Mutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: filepath.Join(root, "instances")}
}

func (ir *InstanceRepository) path(instanceID string) string {
	return filepath.Join(ir.root, instanceID+".json")
}

func (ir *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	if err := validateKey(instance.ID); err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	ir.mu.Lock()
	defer ir.mu.Unlock()

	if _, err := os.Stat(ir.path(instance.ID)); err == nil {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	return writeJSON(ir.path(instance.ID), instance)
}

func (ir *InstanceRepository) Get(_ context.Context, instanceID string) (*models.WorkflowInstance, error) {
	if err := validateKey(instanceID); err != nil {
		return nil, persistence.NewInstanceError("Get", instanceID, err)
	}

	ir.mu.Lock()
	defer ir.mu.Unlock()

	return ir.load(instanceID)
}

func (ir *InstanceRepository) load(instanceID string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := readJSON(ir.path(instanceID), &instance)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewInstanceError("Get", instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("Get", instanceID, err)
	}

	return &instance, nil
}

func (ir *InstanceRepository) Update(_ context.Context, instance *models.WorkflowInstance) error {
	if err := validateKey(instance.ID); err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	ir.mu.Lock()
	defer ir.mu.Unlock()

	if _, err := os.Stat(ir.path(instance.ID)); os.IsNotExist(err) {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	return writeJSON(ir.path(instance.ID), instance)
}

func (ir *InstanceRepository) ListByStatus(_ context.Context, statuses ...models.InstanceStatus) ([]*models.WorkflowInstance, error) {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(ir.root, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, file := range files {
		instanceID := strings.TrimSuffix(filepath.Base(file), ".json")

		instance, err := ir.load(instanceID)
		if err != nil {
			return nil, err
		}

		if len(statuses) == 0 || slices.Contains(statuses, instance.Status) {
			instances = append(instances, instance)
		}
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}
