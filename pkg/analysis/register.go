// Package analysis holds the image analysis activities and the image_analyzer
// orchestration that chains them.
package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/imageflow/pkg/activity"
	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/orchestration"
)

const (
	OrchestratorName = "image_analyzer"

	ActivityAnalyzeColors   = "analyze_colors"
	ActivityAnalyzeObjects  = "analyze_objects"
	ActivityAnalyzeText     = "analyze_text"
	ActivityAnalyzeMetadata = "analyze_metadata"
	ActivityGenerateReport  = "generate_report"
	ActivityStoreResults    = "store_results"
)

// Analyzer computes one analysis from the trigger input.
type Analyzer[T any] func(ctx context.Context, input models.ImageInput) (T, error)

type options struct {
	colors   Analyzer[models.ColorAnalysis]
	objects  Analyzer[models.ObjectAnalysis]
	text     Analyzer[models.TextAnalysis]
	metadata Analyzer[models.MetadataAnalysis]
	reports  *ReportGenerator
	logger   *slog.Logger
}

type Option func(*options)

func WithColorAnalyzer(fn Analyzer[models.ColorAnalysis]) Option {
	return func(o *options) {
		o.colors = fn
	}
}

func WithObjectAnalyzer(fn Analyzer[models.ObjectAnalysis]) Option {
	return func(o *options) {
		o.objects = fn
	}
}

func WithTextAnalyzer(fn Analyzer[models.TextAnalysis]) Option {
	return func(o *options) {
		o.text = fn
	}
}

func WithMetadataAnalyzer(fn Analyzer[models.MetadataAnalysis]) Option {
	return func(o *options) {
		o.metadata = fn
	}
}

func WithReportGenerator(generator *ReportGenerator) Option {
	return func(o *options) {
		o.reports = generator
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		colors:   AnalyzeColors,
		objects:  AnalyzeObjects,
		text:     AnalyzeText,
		reports:  NewReportGenerator(nil, nil),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With("module", "analysis")

	if o.metadata == nil {
		o.metadata = NewMetadataAnalyzer(o.logger)
	}

	return o
}

// Register wires the orchestration and every activity.
func Register(executor *activity.Executor, registry *orchestration.Registry, store ReportStore, opts ...Option) error {
	err := RegisterOrchestrator(registry)
	if err != nil {
		return err
	}

	return RegisterActivities(executor, store, opts...)
}

func RegisterOrchestrator(registry *orchestration.Registry) error {
	return registry.Register(OrchestratorName, ImageAnalyzer)
}

// RegisterActivities registers the six activities. Worker processes that never run
// orchestration logic only need this.
func RegisterActivities(executor *activity.Executor, store ReportStore, opts ...Option) error {
	o := newOptions(opts)

	registrations := []func() error{
		func() error {
			return activity.Register(executor, ActivityAnalyzeColors,
				degrading(ActivityAnalyzeColors, o.colors, degradedColors, o.logger),
				activity.WithOutputSchema(colorSchema))
		},
		func() error {
			return activity.Register(executor, ActivityAnalyzeObjects,
				degrading(ActivityAnalyzeObjects, o.objects, degradedObjects, o.logger),
				activity.WithOutputSchema(objectSchema))
		},
		func() error {
			return activity.Register(executor, ActivityAnalyzeText,
				degrading(ActivityAnalyzeText, o.text, degradedText, o.logger),
				activity.WithOutputSchema(textSchema))
		},
		func() error {
			return activity.Register(executor, ActivityAnalyzeMetadata,
				degrading(ActivityAnalyzeMetadata, o.metadata, degradedMetadata, o.logger),
				activity.WithOutputSchema(metadataSchema))
		},
		func() error {
			return activity.Register(executor, ActivityGenerateReport, o.reports.Generate,
				activity.WithOutputSchema(reportSchema))
		},
		func() error {
			return activity.Register(executor, ActivityStoreResults, storeResults(store),
				activity.WithOutputSchema(storedSchema))
		},
	}

	for _, register := range registrations {
		err := register()
		if err != nil {
			return fmt.Errorf("failed to register activity: %w", err)
		}
	}

	return nil
}

// degrading turns analyzer errors and panics into a result carrying the error, so
// an analysis activity never fails its task.
func degrading[T any](name string, analyze Analyzer[T], degrade func(error) T, logger *slog.Logger) func(context.Context, models.ImageInput) (T, error) {
	return func(ctx context.Context, input models.ImageInput) (result T, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "Analysis panicked", "activity", name, "blob_name", input.BlobName, "panic", r)

				result, err = degrade(fmt.Errorf("%v", r)), nil
			}
		}()

		result, err = analyze(ctx, input)
		if err != nil {
			logger.ErrorContext(ctx, "Analysis failed", "activity", name, "blob_name", input.BlobName, "error", err)

			return degrade(err), nil
		}

		return result, nil
	}
}
