package analysis

import (
	"context"

	"github.com/dukex/imageflow/pkg/models"
)

const (
	highResolutionPixels = 1_000_000
	objectsNote          = "Mock analysis - heuristics on image dimensions, no object detection model"
)

// AnalyzeObjects labels the image from its dimensions only.
func AnalyzeObjects(_ context.Context, input models.ImageInput) (models.ObjectAnalysis, error) {
	config, _, err := decodeConfig(input.BlobBytes)
	if err != nil {
		return models.ObjectAnalysis{}, err
	}

	width, height := config.Width, config.Height
	objects := make([]models.DetectedObject, 0, 3)

	switch {
	case width > height:
		objects = append(objects, models.DetectedObject{Name: "landscape", Confidence: 0.85})
	case height > width:
		objects = append(objects, models.DetectedObject{Name: "portrait", Confidence: 0.82})
	default:
		objects = append(objects, models.DetectedObject{Name: "square composition", Confidence: 0.90})
	}

	if width*height > highResolutionPixels {
		objects = append(objects, models.DetectedObject{Name: "high-resolution scene", Confidence: 0.78})
	}

	objects = append(objects, models.DetectedObject{Name: "digital image", Confidence: 0.99})

	return models.ObjectAnalysis{
		Objects:     objects,
		ObjectCount: len(objects),
		Note:        objectsNote,
	}, nil
}

func degradedObjects(err error) models.ObjectAnalysis {
	return models.ObjectAnalysis{
		Objects: []models.DetectedObject{},
		Error:   err.Error(),
	}
}
