// Package maskcodec implements the row-packed 1-bit-per-pixel segmentation
// mask encoding used on the wire. A buffer starts with three big-endian
// uint16 fields (height, width, row stride in bytes) followed by
// height*stride packed bytes, most significant bit = leftmost pixel.
package maskcodec

import (
	"encoding/binary"
	"errors"
)

const headerSize = 6

// maxPixels caps the decoded mask area. Masks ride alongside video frames,
// so anything past 4096x1024-scale dimensions is a corrupt or hostile
// header, not data; expanding it would allocate gigabytes from a few bytes.
const maxPixels = 1 << 22

// ErrMalformed is returned for buffers whose header cannot describe a mask.
var ErrMalformed = errors.New("maskcodec: malformed mask buffer")

// Mask is a decoded bit-packed mask. Bits may be shorter than
// Height*RowStride when the source buffer was truncated; out-of-range reads
// yield 0.
type Mask struct {
	Width     int
	Height    int
	RowStride int
	Bits      []byte
}

// Encode packs a rectangular boolean mask. When isBackground is true the
// stored bit 1 denotes background, matching backends with inverted polarity.
func Encode(mask [][]bool, isBackground bool) []byte {
	height := len(mask)
	width := 0
	if height > 0 {
		width = len(mask[0])
	}
	stride := (width + 7) / 8

	buf := make([]byte, headerSize+height*stride)
	binary.BigEndian.PutUint16(buf[0:2], uint16(height))
	binary.BigEndian.PutUint16(buf[2:4], uint16(width))
	binary.BigEndian.PutUint16(buf[4:6], uint16(stride))

	for y := 0; y < height; y++ {
		row := mask[y]
		for x := 0; x < width && x < len(row); x++ {
			set := row[x]
			if isBackground {
				set = !set
			}
			if set {
				buf[headerSize+y*stride+x/8] |= 1 << (7 - uint(x%8))
			}
		}
	}
	return buf
}

// Decode parses a packed mask buffer. Zero dimensions, a short header, an
// area past maxPixels, or a payload without even one full row are malformed;
// a bit region shorter than height*stride is otherwise accepted and the
// missing tail reads as 0.
func Decode(buf []byte) (Mask, error) {
	if len(buf) < headerSize {
		return Mask{}, ErrMalformed
	}
	height := int(binary.BigEndian.Uint16(buf[0:2]))
	width := int(binary.BigEndian.Uint16(buf[2:4]))
	stride := int(binary.BigEndian.Uint16(buf[4:6]))
	if height == 0 || width == 0 || stride == 0 {
		return Mask{}, ErrMalformed
	}
	if width*height > maxPixels {
		return Mask{}, ErrMalformed
	}
	// The clip rule tolerates a truncated tail, not a header whose claimed
	// dimensions have no backing payload at all.
	if len(buf)-headerSize < stride {
		return Mask{}, ErrMalformed
	}
	return Mask{
		Width:     width,
		Height:    height,
		RowStride: stride,
		Bits:      buf[headerSize:],
	}, nil
}

// At reports the raw stored bit at (x, y). Coordinates outside the mask or
// bytes past the end of the truncated bit region read as false.
func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	off := y*m.RowStride + x/8
	if off >= len(m.Bits) {
		return false
	}
	return m.Bits[off]&(1<<(7-uint(x%8))) != 0
}

// Alpha expands the mask into one byte per pixel with polarity normalized:
// 255 always means foreground, whatever the stored bit convention was.
func (m Mask) Alpha(isBackground bool) []uint8 {
	out := make([]uint8, m.Width*m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) != isBackground {
				out[y*m.Width+x] = 255
			}
		}
	}
	return out
}

// Bools expands the mask into a rectangular foreground matrix, the inverse
// of Encode for round-trip checks.
func (m Mask) Bools(isBackground bool) [][]bool {
	out := make([][]bool, m.Height)
	for y := range out {
		out[y] = make([]bool, m.Width)
		for x := range out[y] {
			out[y][x] = m.At(x, y) != isBackground
		}
	}
	return out
}
