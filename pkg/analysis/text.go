package analysis

import (
	"context"

	"github.com/dukex/imageflow/pkg/models"
)

const textNote = "Mock OCR - no text recognition engine configured"

// AnalyzeText checks the bytes decode as an image; no OCR engine is wired.
func AnalyzeText(_ context.Context, input models.ImageInput) (models.TextAnalysis, error) {
	_, _, err := decodeConfig(input.BlobBytes)
	if err != nil {
		return models.TextAnalysis{}, err
	}

	return models.TextAnalysis{
		HasText:       false,
		ExtractedText: "",
		Confidence:    0,
		Language:      "unknown",
		Note:          textNote,
	}, nil
}

func degradedText(err error) models.TextAnalysis {
	return models.TextAnalysis{Error: err.Error()}
}
