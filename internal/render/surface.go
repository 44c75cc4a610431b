package render

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/example/vision-relay/internal/maskcodec"
)

// MaskSurface is a decoded mask expanded to frame resolution: one alpha
// value per pixel, 255 = foreground, feathered so the stencil edge is soft
// instead of a hard jagged cutout. A surface is rebuilt only when a newer
// inference response carries a mask; render ticks in between reuse it.
type MaskSurface struct {
	alpha  *image.NRGBA
	width  int
	height int
}

// NewMaskSurface expands a decoded mask, scales it to the frame dimensions,
// and feathers the edge with a small blur (sigma in pixels, 0 disables).
func NewMaskSurface(m maskcodec.Mask, isBackground bool, frameW, frameH int, feather float64) *MaskSurface {
	values := m.Alpha(isBackground)

	small := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := values[y*m.Width+x]
			small.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	scaled := small
	if m.Width != frameW || m.Height != frameH {
		scaled = imaging.Resize(small, frameW, frameH, imaging.Linear)
	}
	if feather > 0 {
		scaled = imaging.Blur(scaled, feather)
	}
	return &MaskSurface{alpha: scaled, width: frameW, height: frameH}
}

// AlphaAt returns the foreground opacity at (x, y); out-of-bounds reads are
// background.
func (s *MaskSurface) AlphaAt(x, y int) uint8 {
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return 0
	}
	return s.alpha.Pix[s.alpha.PixOffset(x, y)]
}

// Size returns the surface dimensions.
func (s *MaskSurface) Size() (int, int) {
	return s.width, s.height
}
