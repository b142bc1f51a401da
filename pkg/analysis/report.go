package analysis

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/google/uuid"
)

// ReportGenerator combines the four analyses into a report with a fresh id.
type ReportGenerator struct {
	newID func() string
	now   func() time.Time
}

func NewReportGenerator(newID func() string, now func() time.Time) *ReportGenerator {
	if newID == nil {
		newID = uuid.NewString
	}

	if now == nil {
		now = time.Now
	}

	return &ReportGenerator{newID: newID, now: now}
}

func (g *ReportGenerator) Generate(_ context.Context, input models.ReportInput) (models.Report, error) {
	if input.Colors == nil || input.Objects == nil || input.Text == nil || input.Metadata == nil {
		return models.Report{}, fmt.Errorf("report for %s is missing an analysis", input.BlobName)
	}

	analyses := models.Analyses{
		Colors:   *input.Colors,
		Objects:  *input.Objects,
		Text:     *input.Text,
		Metadata: *input.Metadata,
	}

	return models.Report{
		ID:         g.newID(),
		FileName:   path.Base(input.BlobName),
		BlobPath:   input.BlobName,
		AnalyzedAt: g.now().UTC(),
		Analyses:   analyses,
		Summary:    Summarize(analyses),
	}, nil
}

// Summarize derives the report summary from the analyses alone.
func Summarize(analyses models.Analyses) models.Summary {
	dominant := "N/A"
	if len(analyses.Colors.DominantColors) > 0 {
		dominant = analyses.Colors.DominantColors[0].Hex
	}

	format := analyses.Metadata.Format
	if format == "" {
		format = "Unknown"
	}

	return models.Summary{
		ImageSize:       fmt.Sprintf("%dx%d", analyses.Metadata.Width, analyses.Metadata.Height),
		Format:          format,
		DominantColor:   dominant,
		ObjectsDetected: analyses.Objects.ObjectCount,
		HasText:         analyses.Text.HasText,
		IsGrayscale:     analyses.Colors.IsGrayscale,
	}
}
