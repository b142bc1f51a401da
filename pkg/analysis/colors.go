package analysis

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/dukex/imageflow/pkg/models"
	"golang.org/x/image/draw"
)

const (
	colorSampleSize     = 50
	colorBucket         = 32
	topColors           = 5
	grayscaleTolerance  = 30
	grayscaleMinPortion = 0.9
)

type bucket struct {
	r, g, b int
}

// AnalyzeColors samples the image at 50x50, buckets each channel into steps of 32 and
// reports the five most frequent buckets. Ties keep the order buckets were first seen.
func AnalyzeColors(_ context.Context, input models.ImageInput) (models.ColorAnalysis, error) {
	img, err := decodeImage(input.BlobBytes)
	if err != nil {
		return models.ColorAnalysis{}, err
	}

	rgb := toOpaqueRGB(img)
	sample := image.NewNRGBA(image.Rect(0, 0, colorSampleSize, colorSampleSize))
	draw.CatmullRom.Scale(sample, sample.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)

	counts := make(map[bucket]int)
	order := make([]bucket, 0)
	grayscale := 0
	total := colorSampleSize * colorSampleSize

	for i := 0; i < len(sample.Pix); i += 4 {
		r, g, b := int(sample.Pix[i]), int(sample.Pix[i+1]), int(sample.Pix[i+2])

		key := bucket{r: r / colorBucket * colorBucket, g: g / colorBucket * colorBucket, b: b / colorBucket * colorBucket}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}

		counts[key]++

		if abs(r-g) < grayscaleTolerance && abs(g-b) < grayscaleTolerance {
			grayscale++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	dominant := make([]models.DominantColor, 0, topColors)
	for _, key := range order[:min(topColors, len(order))] {
		dominant = append(dominant, models.DominantColor{
			Hex:        fmt.Sprintf("#%02x%02x%02x", key.r, key.g, key.b),
			RGB:        models.RGB{R: key.r, G: key.g, B: key.b},
			Percentage: round(float64(counts[key])/float64(total)*100, 1),
		})
	}

	return models.ColorAnalysis{
		DominantColors:     dominant,
		IsGrayscale:        float64(grayscale)/float64(total) > grayscaleMinPortion,
		TotalPixelsSampled: total,
	}, nil
}

func degradedColors(err error) models.ColorAnalysis {
	return models.ColorAnalysis{
		DominantColors: []models.DominantColor{},
		Error:          err.Error(),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))

	return math.Round(v*scale) / scale
}
