package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// NewTestJPEG encodes a solid-color JPEG of the given dimensions.
func NewTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	return encodeTestImage(t, width, height, func(buf *bytes.Buffer, img image.Image) error {
		return jpeg.Encode(buf, img, &jpeg.Options{Quality: 90})
	})
}

// NewTestPNG encodes a solid-color PNG of the given dimensions.
func NewTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	return encodeTestImage(t, width, height, func(buf *bytes.Buffer, img image.Image) error {
		return png.Encode(buf, img)
	})
}

func encodeTestImage(t *testing.T, width, height int, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{R: 120, G: 80, B: 40, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
