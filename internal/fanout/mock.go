package fanout

import (
	"encoding/base64"
	"math"

	"github.com/example/vision-relay/internal/maskcodec"
	"github.com/example/vision-relay/internal/protocol"
)

const (
	mockMaskWidth  = 64
	mockMaskHeight = 48
)

// MockGenerator produces deterministic inference results when no backend is
// configured. Output depends only on the frame id, so repeated runs and
// tests see the same annotations.
type MockGenerator struct{}

// NewMockGenerator creates a mock result generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Faces returns one face box orbiting the frame center.
func (g *MockGenerator) Faces(id uint64) []protocol.Box {
	phase := float64(id) * 0.2
	return []protocol.Box{{
		X: clamp01(0.4 + 0.2*math.Cos(phase)),
		Y: clamp01(0.35 + 0.15*math.Sin(phase)),
		W: 0.18,
		H: 0.24,
	}}
}

// Texts returns a caption-like box drifting along the bottom edge.
func (g *MockGenerator) Texts(id uint64) []protocol.Box {
	offset := float64(id%10) * 0.02
	return []protocol.Box{{
		X: clamp01(0.1 + offset),
		Y: 0.8,
		W: 0.3,
		H: 0.08,
	}}
}

// Seg returns a packbits mask with a pulsating centered disc.
func (g *MockGenerator) Seg(id uint64) *protocol.MaskDescriptor {
	radius := 12.0 + 6.0*math.Sin(float64(id)*0.3)
	mask := make([][]bool, mockMaskHeight)
	for y := range mask {
		mask[y] = make([]bool, mockMaskWidth)
		for x := range mask[y] {
			dx := float64(x - mockMaskWidth/2)
			dy := float64(y - mockMaskHeight/2)
			mask[y][x] = math.Hypot(dx, dy) <= radius
		}
	}
	return &protocol.MaskDescriptor{
		Format:           protocol.MaskFormatPackbits,
		DataB64:          base64.StdEncoding.EncodeToString(maskcodec.Encode(mask, false)),
		IsBackgroundMask: false,
	}
}
