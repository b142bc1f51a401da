// Package queue ingests images pushed onto a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/imageflow/pkg/triggers"
	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultPollTimeout = time.Second
	retryDelay         = time.Second
)

var ErrQueueNameRequired = errors.New("queue trigger queue name is required")

// Message is one queued image. BlobBytes travels base64 encoded.
type Message struct {
	BlobName  string `json:"blobName"  validate:"required"`
	BlobBytes []byte `json:"blobBytes" validate:"required,min=1"`
}

type Trigger struct {
	client      redis.UniversalClient
	ownsClient  bool
	queue       string
	submitter   triggers.Submitter
	validate    *validator.Validate
	logger      *slog.Logger
	pollTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewTrigger(client redis.UniversalClient, queue string, submitter triggers.Submitter, logger *slog.Logger) (*Trigger, error) {
	if queue == "" {
		return nil, ErrQueueNameRequired
	}

	if client == nil {
		return nil, errors.New("queue trigger requires a redis client")
	}

	return &Trigger{
		client:      client,
		queue:       queue,
		submitter:   submitter,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "queue_trigger", "queue", queue),
		pollTimeout: defaultPollTimeout,
		stopCh:      make(chan struct{}),
	}, nil
}

// Open connects to the Redis server at url. The trigger closes the client on Stop.
func Open(ctx context.Context, url, queue string, submitter triggers.Submitter, logger *slog.Logger) (*Trigger, error) {
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

	trigger, err := NewTrigger(client, queue, submitter, logger)
	if err != nil {
		_ = client.Close()

		return nil, err
	}

	trigger.ownsClient = true

	return trigger, nil
}

// Enqueue pushes an image onto queue for a trigger to pick up.
func Enqueue(ctx context.Context, client redis.UniversalClient, queue, blobName string, data []byte) error {
	payload, err := json.Marshal(Message{BlobName: blobName, BlobBytes: data})
	if err != nil {
		return err
	}

	return client.RPush(ctx, queue, payload).Err()
}

func (t *Trigger) Start(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Starting queue trigger")

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := t.processMessage(ctx)
			if err != nil && ctx.Err() == nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(retryDelay)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, t.pollTimeout, t.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	err = t.handle(ctx, result[1])
	if errors.Is(err, errUnreadable) {
		t.logger.WarnContext(ctx, "Dropping unreadable message", "error", err)

		return nil
	}

	if err != nil {
		// put it back for the next attempt
		pushErr := t.client.RPush(ctx, t.queue, result[1]).Err()

		return errors.Join(err, pushErr)
	}

	return nil
}

var errUnreadable = errors.New("unreadable queue message")

func (t *Trigger) handle(ctx context.Context, raw string) error {
	var message Message

	err := json.Unmarshal([]byte(raw), &message)
	if err != nil {
		return fmt.Errorf("%w: %w", errUnreadable, err)
	}

	err = t.validate.Struct(message)
	if err != nil {
		return fmt.Errorf("%w: %w", errUnreadable, err)
	}

	instanceID, err := t.submitter.SubmitBlob(ctx, message.BlobName, message.BlobBytes)
	if err != nil {
		return fmt.Errorf("failed to submit %s: %w", message.BlobName, err)
	}

	t.logger.InfoContext(ctx, "Submitted queued image", "blob_name", message.BlobName, "instance_id", instanceID)

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping queue trigger")

	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()

	if t.ownsClient {
		return t.client.Close()
	}

	return nil
}
