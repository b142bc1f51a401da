package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/imageflow/pkg/activity"
	"github.com/dukex/imageflow/pkg/analysis"
	"github.com/dukex/imageflow/pkg/config"
	"github.com/dukex/imageflow/pkg/eventbus"
	"github.com/dukex/imageflow/pkg/orchestration"
	"github.com/dukex/imageflow/pkg/otelhelper"
	"github.com/dukex/imageflow/pkg/results"
	"github.com/dukex/imageflow/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Runtime is an engine process: scheduler, dispatcher, driver and recovery. With
// the local or gochannel bus it also runs the activities itself.
type Runtime struct {
	Stores    *Stores
	Results   *results.Service
	Executor  *activity.Executor
	Scheduler *orchestration.Scheduler
	Engine    *workflow.Engine
	Driver    *workflow.Driver
	Recovery  *workflow.Recovery

	bus    eventbus.EventBus
	worker *workflow.Worker
	local  *workflow.LocalDispatcher
	logger *slog.Logger
}

// NewTracer returns an OTLP tracer when tracing is enabled and a no-op one otherwise.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, cfg config.Config) (trace.Tracer, error) {
	if !cfg.Tracing {
		return otelhelper.Noop(), nil
	}

	return otelhelper.NewTracer(ctx, cfg.ServiceName)
}

// NewExecutor builds an executor with every analysis activity registered.
func NewExecutor(cfg config.Config, store analysis.ReportStore, tracer trace.Tracer, logger *slog.Logger) (*activity.Executor, *orchestration.Registry, error) {
	retry := activity.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxAttempts

	executor := activity.NewExecutor(
		activity.WithLogger(logger),
		activity.WithTracer(tracer),
		activity.WithDefaultRetry(retry),
	)
	registry := orchestration.NewRegistry()

	err := analysis.Register(executor, registry, store, analysis.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	return executor, registry, nil
}

// NewRuntime wires an engine process from cfg. Call Start to begin consuming and
// recovering, and Close on shutdown.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	stores, err := NewStores(ctx, logger, cfg.DatabaseURL, cfg.ResultsURL)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Stores: stores, logger: logger}

	err = rt.wire(ctx, cfg, tracer)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	return rt, nil
}

func (r *Runtime) wire(ctx context.Context, cfg config.Config, tracer trace.Tracer) error {
	r.Results = results.NewService(r.Stores.Results, r.logger)

	executor, registry, err := NewExecutor(cfg, r.Results, tracer, r.logger)
	if err != nil {
		return err
	}

	r.Executor = executor
	r.Scheduler = orchestration.NewScheduler(registry, r.Stores.Persistence,
		orchestration.WithLogger(r.logger),
		orchestration.WithTracer(tracer),
		orchestration.WithConflictRetries(cfg.ConflictRetries),
	)

	var dispatcher workflow.Dispatcher

	switch cfg.EventBus {
	case config.BusLocal:
		r.local = workflow.NewLocalDispatcher(ctx, executor, activity.NewPool(cfg.PoolSize), r.logger)
		dispatcher = r.local
	default:
		r.bus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, r.logger)
		if err != nil {
			return err
		}

		dispatcher = workflow.NewBusDispatcher(r.bus, r.logger)

		if cfg.EventBus == config.BusGoChannel {
			r.worker = workflow.NewWorker(workerID(cfg), r.bus, executor, activity.NewPool(cfg.PoolSize), r.logger)

			err = r.worker.Register()
			if err != nil {
				return err
			}
		}
	}

	r.Engine, err = workflow.NewEngine(r.Scheduler, dispatcher,
		workflow.WithEngineLogger(r.logger),
		workflow.WithTaskTimeout(cfg.TaskTimeout),
	)
	if err != nil {
		return err
	}

	r.Driver = workflow.NewDriver(r.Engine, workflow.WithDriverLogger(r.logger))
	r.Recovery = workflow.NewRecovery(r.Engine, cfg.RecoverySchedule, r.logger)

	return nil
}

// Start subscribes to outcome events and starts the recovery schedule.
func (r *Runtime) Start(ctx context.Context) error {
	if r.bus != nil {
		err := r.bus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to event bus: %w", err)
		}
	}

	return r.Recovery.Start(ctx)
}

func (r *Runtime) Close(ctx context.Context) error {
	if r.Recovery != nil {
		r.Recovery.Stop()
	}

	if r.local != nil {
		r.local.Wait()
	}

	if r.worker != nil {
		r.worker.Wait()
	}

	var errs []error

	if r.bus != nil {
		errs = append(errs, r.bus.Close())
	}

	errs = append(errs, r.Stores.Close(ctx))

	return errors.Join(errs...)
}

// WorkerRuntime is a worker-only process consuming tasks from Kafka.
type WorkerRuntime struct {
	Stores *Stores
	Worker *workflow.Worker

	bus eventbus.EventBus
}

func NewWorkerRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*WorkerRuntime, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.EventBus == config.BusLocal {
		return nil, errors.New("a standalone worker needs the kafka event bus")
	}

	tracer, err := NewTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	stores, err := NewStores(ctx, logger, cfg.DatabaseURL, cfg.ResultsURL)
	if err != nil {
		return nil, err
	}

	executor, _, err := NewExecutor(cfg, results.NewService(stores.Results, logger), tracer, logger)
	if err != nil {
		return nil, errors.Join(err, stores.Close(ctx))
	}

	bus, err := NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName+"-worker", logger)
	if err != nil {
		return nil, errors.Join(err, stores.Close(ctx))
	}

	return &WorkerRuntime{
		Stores: stores,
		Worker: workflow.NewWorker(workerID(cfg), bus, executor, activity.NewPool(cfg.PoolSize), logger),
		bus:    bus,
	}, nil
}

func (w *WorkerRuntime) Close(ctx context.Context) error {
	w.Worker.Wait()

	return errors.Join(w.bus.Close(), w.Stores.Close(ctx))
}

func workerID(cfg config.Config) string {
	if cfg.WorkerID != "" {
		return cfg.WorkerID
	}

	return cfg.ServiceName + "-worker"
}
