// Package ocr recognizes plate text from cropped regions and combines
// multiple recognizer outputs into one corrected, validated reading.
package ocr

import (
	"context"
	"image"
)

// Result is one engine's raw reading of a plate crop.
type Result struct {
	Text       string
	Confidence float64
}

// Engine recognizes text from a preprocessed plate crop.
type Engine interface {
	// Recognize reads the crop. Confidence is in [0,1].
	Recognize(ctx context.Context, img image.Image) (Result, error)

	// Name identifies the engine in logs and metrics.
	Name() string

	// Close releases model resources.
	Close()
}
