// Package testutil provides image fixtures shared by tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// SolidRGBA returns a width x height image filled with c.
func SolidRGBA(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := range height {
		for x := range width {
			img.SetRGBA(x, y, c)
		}
	}

	return img
}

// Stripes returns an image whose left half is left and right half is right.
func Stripes(width, height int, left, right color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := range height {
		for x := range width {
			if x < width/2 {
				img.SetRGBA(x, y, left)
			} else {
				img.SetRGBA(x, y, right)
			}
		}
	}

	return img
}

// PNG encodes img as PNG.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer

	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

// JPEG encodes img as JPEG at quality 95.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer

	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))

	return buf.Bytes()
}

// GIF encodes img as a single-frame GIF.
func GIF(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer

	require.NoError(t, gif.Encode(&buf, img, nil))

	return buf.Bytes()
}

// CatPNG is the 100x50 opaque RGB PNG used by end-to-end scenarios.
func CatPNG(t testing.TB) []byte {
	t.Helper()

	return PNG(t, Stripes(100, 50, color.RGBA{R: 230, G: 160, B: 70, A: 255}, color.RGBA{R: 40, G: 90, B: 200, A: 255}))
}
