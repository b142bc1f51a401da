package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/imageflow/pkg/config"
	"github.com/dukex/imageflow/pkg/triggers"
	"github.com/dukex/imageflow/pkg/triggers/minio"
	"github.com/dukex/imageflow/pkg/triggers/queue"
)

type trigger interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Triggers are the ingestion triggers enabled in a config.
type Triggers struct {
	started []trigger
	logger  *slog.Logger
}

// StartTriggers starts every trigger cfg enables. None enabled is not an error.
func StartTriggers(ctx context.Context, cfg config.Config, submitter triggers.Submitter, logger *slog.Logger) (*Triggers, error) {
	t := &Triggers{logger: logger}

	if cfg.MinIO.Enabled() {
		minioTrigger, err := minio.Open(cfg.MinIO, submitter, logger)
		if err != nil {
			return nil, err
		}

		err = t.start(ctx, minioTrigger)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Queue.Enabled() {
		queueTrigger, err := queue.Open(ctx, cfg.Queue.RedisURL, cfg.Queue.Name, submitter, logger)
		if err != nil {
			return nil, errors.Join(err, t.Stop(ctx))
		}

		err = t.start(ctx, queueTrigger)
		if err != nil {
			return nil, errors.Join(err, queueTrigger.Stop(ctx), t.Stop(ctx))
		}
	}

	if len(t.started) == 0 {
		logger.InfoContext(ctx, "No ingestion trigger configured")
	}

	return t, nil
}

func (t *Triggers) start(ctx context.Context, tr trigger) error {
	err := tr.Start(ctx)
	if err != nil {
		return err
	}

	t.started = append(t.started, tr)

	return nil
}

func (t *Triggers) Stop(ctx context.Context) error {
	var errs []error

	for _, tr := range t.started {
		errs = append(errs, tr.Stop(ctx))
	}

	t.started = nil

	return errors.Join(errs...)
}
