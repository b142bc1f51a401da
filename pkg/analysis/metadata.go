package analysis

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// AnalyzeMetadata reports dimensions, format, pixel mode and EXIF tags.
func AnalyzeMetadata(ctx context.Context, input models.ImageInput) (models.MetadataAnalysis, error) {
	return NewMetadataAnalyzer(slog.Default())(ctx, input)
}

// NewMetadataAnalyzer is AnalyzeMetadata reporting partially readable EXIF on logger.
func NewMetadataAnalyzer(logger *slog.Logger) Analyzer[models.MetadataAnalysis] {
	return func(ctx context.Context, input models.ImageInput) (models.MetadataAnalysis, error) {
		return analyzeMetadata(ctx, input, logger)
	}
}

func analyzeMetadata(ctx context.Context, input models.ImageInput, logger *slog.Logger) (models.MetadataAnalysis, error) {
	config, format, err := decodeConfig(input.BlobBytes)
	if err != nil {
		return models.MetadataAnalysis{}, err
	}

	width, height := config.Width, config.Height
	totalPixels := width * height
	exifData := readExif(ctx, input.BlobBytes, logger.With("blob_name", input.BlobName))

	return models.MetadataAnalysis{
		Width:       width,
		Height:      height,
		Format:      formatName(format),
		Mode:        modeOf(config.ColorModel),
		TotalPixels: totalPixels,
		Megapixels:  round(float64(totalPixels)/1_000_000, 2),
		SizeKB:      input.BlobSizeKB,
		AspectRatio: fmt.Sprintf("%d:%d", width, height),
		HasExifData: len(exifData) > 0,
		ExifData:    exifData,
	}, nil
}

// readExif keeps single-valued string, integer and float tags. Images without
// EXIF yield an empty map. A broken sub-IFD keeps the tags read before it.
func readExif(ctx context.Context, data []byte, logger *slog.Logger) map[string]string {
	tags := make(map[string]string)

	decoded, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		if decoded == nil || exif.IsCriticalError(err) {
			return tags
		}

		logger.DebugContext(ctx, "EXIF partially decoded", "error", err)
	}

	err = decoded.Walk(exifCollector(tags))
	if err != nil {
		logger.DebugContext(ctx, "EXIF walk stopped early", "error", err, "tags", len(tags))
	}

	return tags
}

type exifCollector map[string]string

func (c exifCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	switch tag.Format() {
	case tiff.StringVal:
		value, err := tag.StringVal()
		if err == nil {
			c[string(name)] = value
		}
	case tiff.IntVal:
		if tag.Count == 1 {
			value, err := tag.Int64(0)
			if err == nil {
				c[string(name)] = strconv.FormatInt(value, 10)
			}
		}
	case tiff.FloatVal:
		if tag.Count == 1 {
			value, err := tag.Float(0)
			if err == nil {
				c[string(name)] = strconv.FormatFloat(value, 'f', -1, 64)
			}
		}
	case tiff.RatVal, tiff.UndefVal, tiff.OtherVal:
	}

	return nil
}

func degradedMetadata(err error) models.MetadataAnalysis {
	return models.MetadataAnalysis{
		Format: "Unknown",
		Error:  err.Error(),
	}
}
