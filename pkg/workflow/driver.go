package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/dukex/imageflow/pkg/analysis"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/google/uuid"
)

// Driver is the entry point triggers use to submit images.
type Driver struct {
	engine       *Engine
	orchestrator string
	newID        func() string
	logger       *slog.Logger
}

type DriverOption func(*Driver)

func WithOrchestrator(name string) DriverOption {
	return func(d *Driver) {
		d.orchestrator = name
	}
}

func WithIDGenerator(newID func() string) DriverOption {
	return func(d *Driver) {
		d.newID = newID
	}
}

func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

func NewDriver(engine *Engine, opts ...DriverOption) *Driver {
	d := &Driver{
		engine:       engine,
		orchestrator: analysis.OrchestratorName,
		newID:        uuid.NewString,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.With("module", "driver")

	return d
}

// NewImageInput builds the trigger payload for a blob, with its size in KB rounded to 2 decimals.
func NewImageInput(blobName string, data []byte) models.ImageInput {
	return models.ImageInput{
		BlobName:   blobName,
		BlobBytes:  data,
		BlobSizeKB: math.Round(float64(len(data))/1024*100) / 100,
	}
}

// Submit starts a new instance for input and returns its id without waiting for it to finish.
func (d *Driver) Submit(ctx context.Context, input models.ImageInput) (string, error) {
	if input.BlobName == "" {
		return "", fmt.Errorf("%w: blob name is required", ErrInvalidSubmission)
	}

	if len(input.BlobBytes) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidSubmission, input.BlobName)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode input for %s: %w", input.BlobName, err)
	}

	instanceID := d.newID()

	d.logger.InfoContext(ctx, "Processing image", "blob_name", input.BlobName, "size_kb", input.BlobSizeKB, "instance_id", instanceID)

	result, err := d.engine.Start(ctx, instanceID, d.orchestrator, payload)
	if result == nil {
		return "", fmt.Errorf("failed to start orchestration for %s: %w", input.BlobName, err)
	}

	// The instance exists; recovery dispatches whatever failed to go out now.
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to dispatch initial tasks", "instance_id", instanceID, "error", err)
	}

	d.logger.InfoContext(ctx, "Started orchestration", "instance_id", instanceID, "blob_name", input.BlobName)

	return instanceID, nil
}

// SubmitBlob is Submit for raw blob bytes.
func (d *Driver) SubmitBlob(ctx context.Context, blobName string, data []byte) (string, error) {
	return d.Submit(ctx, NewImageInput(blobName, data))
}
