// Package framesource abstracts where video frames come from. Camera and
// screen capture live behind the Source interface; the package ships only a
// synthetic generator, which doubles as the demo source when no capture
// device is wired in.
package framesource

import (
	"context"
	"image"
	"image/color"
	"math"
	"time"
)

// Source yields the current frame. Implementations may block until a frame
// is available; they must honor ctx cancellation.
type Source interface {
	Frame(ctx context.Context) (image.Image, error)
}

// Synthetic renders a moving test pattern: a gradient wash with a bright
// orbiting disc, so blur, masking, and box overlays are all visible on it.
type Synthetic struct {
	width  int
	height int
	start  time.Time
}

// NewSynthetic creates a generator of width x height frames.
func NewSynthetic(width, height int) *Synthetic {
	if width < 16 {
		width = 16
	}
	if height < 16 {
		height = 16
	}
	return &Synthetic{width: width, height: height, start: time.Now()}
}

// Frame renders the pattern for the current wall-clock instant.
func (s *Synthetic) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	elapsed := time.Since(s.start).Seconds()
	frame := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))

	cx := float64(s.width)/2 + float64(s.width)/4*math.Cos(elapsed)
	cy := float64(s.height)/2 + float64(s.height)/4*math.Sin(elapsed*1.3)
	radius := float64(s.height) / 6

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			r := uint8(int(float64(x)/float64(s.width)*255) & 0xFF)
			g := uint8(int(float64(y)/float64(s.height)*255) & 0xFF)
			b := uint8(int(elapsed*40) % 255)
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= radius {
				r, g, b = 250, 250, 240
			}
			frame.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return frame, nil
}
