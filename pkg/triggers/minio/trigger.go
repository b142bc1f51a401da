// Package minio ingests images uploaded to a MinIO (S3 compatible) bucket.
package minio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dukex/imageflow/pkg/config"
	"github.com/dukex/imageflow/pkg/triggers"
	"github.com/minio/minio-go/v7/pkg/notification"
)

const (
	objectCreatedPrefix = "s3:ObjectCreated:"
	relistenDelay       = time.Second
)

var ErrBucketNotFound = errors.New("bucket not found")

// Trigger submits every object created under a bucket prefix.
type Trigger struct {
	source    BlobSource
	bucket    string
	prefix    string
	submitter triggers.Submitter
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTrigger(source BlobSource, bucket, prefix string, submitter triggers.Submitter, logger *slog.Logger) *Trigger {
	return &Trigger{
		source:    source,
		bucket:    bucket,
		prefix:    prefix,
		submitter: submitter,
		logger:    logger.With("module", "minio_trigger", "bucket", bucket, "prefix", prefix),
	}
}

// Open builds a trigger on a MinIO client for cfg.
func Open(cfg config.MinIOConfig, submitter triggers.Submitter, logger *slog.Logger) (*Trigger, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return NewTrigger(NewSource(client), cfg.Bucket, cfg.Prefix, submitter, logger), nil
}

func (t *Trigger) Start(ctx context.Context) error {
	exists, err := t.source.BucketExists(ctx, t.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", t.bucket, err)
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, t.bucket)
	}

	ctx, t.cancel = context.WithCancel(ctx)

	t.logger.InfoContext(ctx, "Starting minio trigger")

	t.wg.Add(1)

	go t.listen(ctx)

	return nil
}

func (t *Trigger) listen(ctx context.Context) {
	defer t.wg.Done()

	for {
		for info := range t.source.Notifications(ctx, t.bucket, t.prefix) {
			if info.Err != nil {
				t.logger.ErrorContext(ctx, "Bucket notification error", "error", info.Err)

				continue
			}

			for _, record := range info.Records {
				err := t.handle(ctx, record)
				if err != nil {
					t.logger.ErrorContext(ctx, "Failed to ingest object", "key", record.S3.Object.Key, "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Minio trigger stopped")

			return
		case <-time.After(relistenDelay):
		}
	}
}

func (t *Trigger) handle(ctx context.Context, record notification.Event) error {
	if !strings.HasPrefix(record.EventName, objectCreatedPrefix) {
		return nil
	}

	// keys arrive URL encoded
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return fmt.Errorf("invalid object key: %w", err)
	}

	if !strings.HasPrefix(key, t.prefix) || strings.HasSuffix(key, "/") {
		return nil
	}

	data, err := t.source.Read(ctx, t.bucket, key)
	if err != nil {
		return err
	}

	instanceID, err := t.submitter.SubmitBlob(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to submit %s: %w", key, err)
	}

	t.logger.InfoContext(ctx, "Submitted uploaded image", "key", key, "instance_id", instanceID)

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping minio trigger")

	if t.cancel != nil {
		t.cancel()
	}

	t.wg.Wait()

	return nil
}
