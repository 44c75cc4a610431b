// Package render produces the displayed frame from the raw video frame and
// the latest inference annotations. Rendering runs at display rate;
// inference results are a slowly-updating side input, so the compositor
// never waits on the network, it only reads state the client already
// decoded.
package render

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/example/vision-relay/internal/protocol"
)

// AnnotationState is the latest-available inference result, owned by the
// client and swapped atomically between render ticks.
type AnnotationState struct {
	ResponseID uint64
	Flags      protocol.Flags
	Faces      []protocol.Box
	Texts      []protocol.Box
	Surface    *MaskSurface
}

// Compositor draws the output surface. Zero value is unusable; construct
// with NewCompositor.
type Compositor struct {
	// BackgroundSigma is the heavy privacy blur applied to the background
	// layer and to face patches.
	BackgroundSigma float64
	// FeatherSigma softens the mask stencil edge.
	FeatherSigma float64
	FaceColor    color.NRGBA
	TextColor    color.NRGBA
	strokeWidth  int
}

// NewCompositor returns a compositor with the default palette and blur
// strengths.
func NewCompositor() *Compositor {
	return &Compositor{
		BackgroundSigma: 12,
		FeatherSigma:    4,
		FaceColor:       color.NRGBA{R: 0x2E, G: 0xCC, B: 0x71, A: 0xFF},
		TextColor:       color.NRGBA{R: 0xF3, G: 0x9C, B: 0x12, A: 0xFF},
		strokeWidth:     2,
	}
}

// Render composites one output frame:
//
//	seg off            → raw frame
//	seg on, no surface → full-frame heavy blur (privacy fallback)
//	seg on, surface    → blurred background + sharp foreground through the stencil
//
// then face patches (blur + outline) and text boxes (fill + outline) on top.
func (c *Compositor) Render(frame image.Image, st AnnotationState) *image.NRGBA {
	sharp := imaging.Clone(frame)

	var out *image.NRGBA
	if st.Flags.RunSeg {
		out = imaging.Blur(frame, c.BackgroundSigma)
		if st.Surface != nil {
			compositeMasked(out, sharp, st.Surface)
		}
	} else {
		out = sharp
	}

	width := out.Bounds().Dx()
	height := out.Bounds().Dy()

	if st.Flags.RunFace {
		for _, box := range st.Faces {
			rect := PixelRect(box, width, height)
			if rect.Empty() {
				continue
			}
			c.blurPatch(out, sharp, rect)
			strokeRect(out, rect, c.FaceColor, c.strokeWidth)
		}
	}

	if st.Flags.RunText {
		for _, box := range st.Texts {
			rect := PixelRect(box, width, height)
			if rect.Empty() {
				continue
			}
			fill := c.TextColor
			fill.A = 0x50
			fillRect(out, rect, fill)
			strokeRect(out, rect, c.TextColor, c.strokeWidth)
		}
	}
	return out
}

// PixelRect converts a unit-coordinate box to a pixel rectangle clamped to
// the frame bounds; coordinates never go negative.
func PixelRect(box protocol.Box, width, height int) image.Rectangle {
	x0 := int(box.X * float64(width))
	y0 := int(box.Y * float64(height))
	x1 := int((box.X + box.W) * float64(width))
	y1 := int((box.Y + box.H) * float64(height))
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, width, height))
}

// compositeMasked lays the sharp frame over the (already blurred) dst using
// the surface alpha as the per-pixel blend factor.
func compositeMasked(dst, sharp *image.NRGBA, surface *MaskSurface) {
	bounds := dst.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := uint32(surface.AlphaAt(x, y))
			if a == 0 {
				continue
			}
			di := dst.PixOffset(x, y)
			si := sharp.PixOffset(x, y)
			if a == 255 {
				copy(dst.Pix[di:di+4], sharp.Pix[si:si+4])
				continue
			}
			inv := 255 - a
			for ch := 0; ch < 3; ch++ {
				dst.Pix[di+ch] = uint8((uint32(sharp.Pix[si+ch])*a + uint32(dst.Pix[di+ch])*inv) / 255)
			}
		}
	}
}

// blurPatch re-blurs the sharp content under rect and writes it into dst.
func (c *Compositor) blurPatch(dst, sharp *image.NRGBA, rect image.Rectangle) {
	patch := imaging.Crop(sharp, rect)
	if patch.Bounds().Empty() {
		return
	}
	blurred := imaging.Blur(patch, c.BackgroundSigma)
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			di := dst.PixOffset(rect.Min.X+x, rect.Min.Y+y)
			si := blurred.PixOffset(x, y)
			copy(dst.Pix[di:di+4], blurred.Pix[si:si+4])
		}
	}
}

func fillRect(dst *image.NRGBA, rect image.Rectangle, col color.NRGBA) {
	alpha := uint32(col.A)
	inv := 255 - alpha
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = uint8((uint32(col.R)*alpha + uint32(dst.Pix[i+0])*inv) / 255)
			dst.Pix[i+1] = uint8((uint32(col.G)*alpha + uint32(dst.Pix[i+1])*inv) / 255)
			dst.Pix[i+2] = uint8((uint32(col.B)*alpha + uint32(dst.Pix[i+2])*inv) / 255)
		}
	}
}

func strokeRect(dst *image.NRGBA, rect image.Rectangle, col color.NRGBA, width int) {
	bounds := dst.Bounds()
	for i := 0; i < width; i++ {
		edge := rect.Inset(i)
		if edge.Empty() {
			return
		}
		for x := edge.Min.X; x < edge.Max.X; x++ {
			setPixel(dst, bounds, x, edge.Min.Y, col)
			setPixel(dst, bounds, x, edge.Max.Y-1, col)
		}
		for y := edge.Min.Y; y < edge.Max.Y; y++ {
			setPixel(dst, bounds, edge.Min.X, y, col)
			setPixel(dst, bounds, edge.Max.X-1, y, col)
		}
	}
}

func setPixel(dst *image.NRGBA, bounds image.Rectangle, x, y int, col color.NRGBA) {
	if x < bounds.Min.X || y < bounds.Min.Y || x >= bounds.Max.X || y >= bounds.Max.Y {
		return
	}
	i := dst.PixOffset(x, y)
	dst.Pix[i+0] = col.R
	dst.Pix[i+1] = col.G
	dst.Pix[i+2] = col.B
	dst.Pix[i+3] = 255
}
