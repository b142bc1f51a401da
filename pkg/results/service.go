// Package results maps analysis reports onto result store rows and back.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
)

const (
	// Partition is the partition key every report is stored under.
	Partition = "ImageAnalysis"

	DefaultListLimit = 10
)

// Row field names.
const (
	FieldFileName         = "FileName"
	FieldBlobPath         = "BlobPath"
	FieldAnalyzedAt       = "AnalyzedAt"
	FieldSummary          = "Summary"
	FieldColorAnalysis    = "ColorAnalysis"
	FieldObjectAnalysis   = "ObjectAnalysis"
	FieldTextAnalysis     = "TextAnalysis"
	FieldMetadataAnalysis = "MetadataAnalysis"
)

var ErrInvalidReport = errors.New("invalid report")

type Service struct {
	repo   persistence.ResultRepository
	logger *slog.Logger
}

func NewService(repo persistence.ResultRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With("module", "results")}
}

// Save upserts the report. Saving the same report again leaves the row unchanged.
func (s *Service) Save(ctx context.Context, report *models.Report) (*models.StoredRecord, error) {
	if report == nil || report.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidReport)
	}

	entity, err := toEntity(report)
	if err != nil {
		return nil, err
	}

	err = s.repo.Upsert(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to store report %s: %w", report.ID, err)
	}

	s.logger.InfoContext(ctx, "Results stored", "report_id", report.ID, "file_name", report.FileName)

	return &models.StoredRecord{
		ID:         report.ID,
		FileName:   report.FileName,
		Status:     models.StoredStatus,
		AnalyzedAt: report.AnalyzedAt,
		Summary:    report.Summary,
	}, nil
}

// Get returns the full report; persistence.ErrResultNotFound when absent.
func (s *Service) Get(ctx context.Context, id string) (*models.Report, error) {
	entity, err := s.repo.Get(ctx, Partition, id)
	if err != nil {
		return nil, err
	}

	return toReport(entity)
}

// List returns the most recent reports. A limit <= 0 uses DefaultListLimit.
func (s *Service) List(ctx context.Context, limit int) (*models.ResultList, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	entities, err := s.repo.QueryByPartition(ctx, Partition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	list := &models.ResultList{Results: make([]models.ResultSummary, 0, len(entities))}

	for _, entity := range entities {
		summary := models.ResultSummary{
			ID:         entity.RowKey,
			FileName:   entity.Fields[FieldFileName],
			AnalyzedAt: entity.Timestamp,
		}

		err := json.Unmarshal([]byte(entity.Fields[FieldSummary]), &summary.Summary)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping row with unreadable summary", "report_id", entity.RowKey, "error", err)

			continue
		}

		list.Results = append(list.Results, summary)
	}

	list.Count = len(list.Results)

	return list, nil
}

func (s *Service) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func toEntity(report *models.Report) (*models.Entity, error) {
	pieces := map[string]any{
		FieldSummary:          report.Summary,
		FieldColorAnalysis:    report.Analyses.Colors,
		FieldObjectAnalysis:   report.Analyses.Objects,
		FieldTextAnalysis:     report.Analyses.Text,
		FieldMetadataAnalysis: report.Analyses.Metadata,
	}

	fields := map[string]string{
		FieldFileName:   report.FileName,
		FieldBlobPath:   report.BlobPath,
		FieldAnalyzedAt: report.AnalyzedAt.UTC().Format(time.RFC3339Nano),
	}

	for name, piece := range pieces {
		encoded, err := json.Marshal(piece)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}

		fields[name] = string(encoded)
	}

	return &models.Entity{
		PartitionKey: Partition,
		RowKey:       report.ID,
		Fields:       fields,
		Timestamp:    report.AnalyzedAt.UTC(),
	}, nil
}

func toReport(entity *models.Entity) (*models.Report, error) {
	analyzedAt, err := time.Parse(time.RFC3339Nano, entity.Fields[FieldAnalyzedAt])
	if err != nil {
		analyzedAt = entity.Timestamp
	}

	report := &models.Report{
		ID:         entity.RowKey,
		FileName:   entity.Fields[FieldFileName],
		BlobPath:   entity.Fields[FieldBlobPath],
		AnalyzedAt: analyzedAt,
	}

	targets := map[string]any{
		FieldSummary:          &report.Summary,
		FieldColorAnalysis:    &report.Analyses.Colors,
		FieldObjectAnalysis:   &report.Analyses.Objects,
		FieldTextAnalysis:     &report.Analyses.Text,
		FieldMetadataAnalysis: &report.Analyses.Metadata,
	}

	for name, target := range targets {
		err := json.Unmarshal([]byte(entity.Fields[name]), target)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s of %s: %w", name, entity.RowKey, err)
		}
	}

	return report, nil
}
