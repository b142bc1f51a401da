package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 5 * time.Millisecond

// HistoryRepository stores each instance's history log as one JSON document.
// Appends rewrite the document atomically while holding an exclusive lock on
// <id>.lock, so processes sharing the directory see every append in order.
type HistoryRepository struct {
	root string
	mu   sync.Mutex
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(root string) *HistoryRepository {
	return &HistoryRepository{root: filepath.Join(root, "history")}
}

func (hr *HistoryRepository) path(instanceID string) string {
	return filepath.Join(hr.root, instanceID+".json")
}

func (hr *HistoryRepository) lockPath(instanceID string) string {
	return filepath.Join(hr.root, instanceID+".lock")
}

func (hr *HistoryRepository) Append(ctx context.Context, instanceID string, expectedLast int64, events []models.HistoryEvent) error {
	if err := validateKey(instanceID); err != nil {
		return persistence.NewInstanceError("Append", instanceID, err)
	}

	if len(events) == 0 {
		return nil
	}

	hr.mu.Lock()
	defer hr.mu.Unlock()

	unlock, err := hr.lock(ctx, instanceID)
	if err != nil {
		return persistence.NewInstanceError("Append", instanceID, err)
	}
	defer unlock()

	existing, err := hr.load(instanceID)
	if err != nil {
		return persistence.NewInstanceError("Append", instanceID, err)
	}

	if int64(len(existing)) != expectedLast {
		return persistence.NewInstanceError("Append", instanceID, persistence.ErrSequenceConflict)
	}

	existing = append(existing, persistence.NumberEvents(instanceID, expectedLast, events)...)

	err = writeJSON(hr.path(instanceID), existing)
	if err != nil {
		return persistence.NewInstanceError("Append", instanceID, err)
	}

	return nil
}

// lock takes the instance's lock file, waiting for other holders until ctx ends.
func (hr *HistoryRepository) lock(ctx context.Context, instanceID string) (func(), error) {
	err := os.MkdirAll(hr.root, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	fileLock := flock.New(hr.lockPath(instanceID))

	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock history: %w", err)
	}

	if !locked {
		return nil, errors.New("failed to lock history")
	}

	return func() {
		_ = fileLock.Unlock()
	}, nil
}

func (hr *HistoryRepository) Load(_ context.Context, instanceID string) ([]models.HistoryEvent, error) {
	if err := validateKey(instanceID); err != nil {
		return nil, persistence.NewInstanceError("Load", instanceID, err)
	}

	hr.mu.Lock()
	defer hr.mu.Unlock()

	events, err := hr.load(instanceID)
	if err != nil {
		return nil, persistence.NewInstanceError("Load", instanceID, err)
	}

	return events, nil
}

func (hr *HistoryRepository) load(instanceID string) ([]models.HistoryEvent, error) {
	events := make([]models.HistoryEvent, 0)

	err := readJSON(hr.path(instanceID), &events)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make([]models.HistoryEvent, 0), nil
		}

		return nil, err
	}

	return events, nil
}
