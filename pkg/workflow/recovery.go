package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

const DefaultRecoverySchedule = "@every 30s"

// Recovery periodically resumes unfinished instances so tasks lost to a crash or
// a dead worker are dispatched again.
type Recovery struct {
	engine   *Engine
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewRecovery(engine *Engine, schedule string, logger *slog.Logger) *Recovery {
	if schedule == "" {
		schedule = DefaultRecoverySchedule
	}

	return &Recovery{
		engine:   engine,
		schedule: schedule,
		logger:   logger.With("module", "recovery", "schedule", schedule),
	}
}

// Start runs one sweep right away and then on the schedule until ctx ends or Stop is called.
func (r *Recovery) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(r.schedule, func() { r.Sweep(ctx) })
	if err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", r.schedule, err)
	}

	r.Sweep(ctx)
	r.cron.Start()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// Sweep resumes every non-terminal instance once.
func (r *Recovery) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	resumed, err := r.engine.Resume(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Recovery sweep failed", "resumed", resumed, "error", err)

		return
	}

	r.logger.DebugContext(ctx, "Recovery sweep finished", "resumed", resumed)
}

// Stop halts the schedule and waits for a running sweep.
func (r *Recovery) Stop() {
	if r.cron == nil {
		return
	}

	<-r.cron.Stop().Done()
}
