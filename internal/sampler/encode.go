package sampler

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

// ImageConfig bounds the compressed frame payload.
type ImageConfig struct {
	Format       string // "jpeg" or "png"
	JPEGQuality  int
	MaxDimension int
}

// EncodeFrame scales the frame down to MaxDimension on its longer side and
// compresses it. Returns the payload plus the dimensions actually encoded.
func EncodeFrame(frame image.Image, cfg ImageConfig) ([]byte, int, int, error) {
	bounds := frame.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, 0, 0, fmt.Errorf("sampler: empty frame")
	}

	if cfg.MaxDimension > 0 && (width > cfg.MaxDimension || height > cfg.MaxDimension) {
		fitted := imaging.Fit(frame, cfg.MaxDimension, cfg.MaxDimension, imaging.Linear)
		frame = fitted
		width, height = fitted.Bounds().Dx(), fitted.Bounds().Dy()
	}

	var buf bytes.Buffer
	switch cfg.Format {
	case "png":
		if err := png.Encode(&buf, frame); err != nil {
			return nil, 0, 0, fmt.Errorf("sampler: png encode: %w", err)
		}
	default:
		quality := cfg.JPEGQuality
		if quality < 1 || quality > 100 {
			quality = 75
		}
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
			return nil, 0, 0, fmt.Errorf("sampler: jpeg encode: %w", err)
		}
	}
	return buf.Bytes(), width, height, nil
}
