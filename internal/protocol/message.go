// Package protocol defines the JSON messages exchanged between the viewer
// and the relay over one bidirectional WebSocket. Every message carries a
// discriminant "type" field; correlation between frames and inference
// results is solely by id, with no ordering guarantee.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type tags.
const (
	TypeFrame     = "frame"
	TypeInference = "inference"
	TypeHello     = "hello"
	TypeError     = "error"
)

// MaskFormatPackbits is the only supported segmentation mask encoding.
const MaskFormatPackbits = "packbits"

// Flags selects which inference capabilities to run for a frame. The three
// capabilities are independent.
type Flags struct {
	RunFace bool `json:"run_face"`
	RunSeg  bool `json:"run_seg"`
	RunText bool `json:"run_text"`
}

// Any reports whether at least one capability is requested.
func (f Flags) Any() bool {
	return f.RunFace || f.RunSeg || f.RunText
}

// Bits packs the flags into a small integer, used as a cache key component.
func (f Flags) Bits() int {
	bits := 0
	if f.RunFace {
		bits |= 1
	}
	if f.RunSeg {
		bits |= 2
	}
	if f.RunText {
		bits |= 4
	}
	return bits
}

// Box is an axis-aligned rectangle in unit coordinates relative to the frame
// dimensions, independent of any backend's native box schema.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// MaskDescriptor carries a base64-framed packbits mask. IsBackgroundMask
// flips the bit-to-class polarity; it is explicit because backends disagree
// on whether bit 1 means foreground or background.
type MaskDescriptor struct {
	Format           string `json:"format"`
	DataB64          string `json:"data_b64"`
	IsBackgroundMask bool   `json:"is_background_mask"`
}

// FrameMessage is the client-to-relay frame submission.
type FrameMessage struct {
	Type        string `json:"type"`
	ID          uint64 `json:"id"`
	TS          int64  `json:"ts"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Flags       Flags  `json:"flags"`
	ImageFormat string `json:"image_format"`
	Image       string `json:"image"`
}

// InferenceMessage is the relay-to-client merged inference result.
type InferenceMessage struct {
	Type      string          `json:"type"`
	ID        uint64          `json:"id"`
	TS        int64           `json:"ts"`
	LatencyMs int64           `json:"latencyMs"`
	Faces     []Box           `json:"faces"`
	Texts     []Box           `json:"texts"`
	Seg       *MaskDescriptor `json:"seg"`
}

// HelloMessage is sent once by the relay at connection establishment.
type HelloMessage struct {
	Type   string `json:"type"`
	TS     int64  `json:"ts"`
	Server string `json:"server,omitempty"`
}

// ErrorMessage reports malformed input back to the peer without closing the
// connection.
type ErrorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// NewInference builds an inference message with non-nil box slices so the
// wire shape is always faces:[] rather than faces:null.
func NewInference(id uint64, ts int64) InferenceMessage {
	return InferenceMessage{
		Type:  TypeInference,
		ID:    id,
		TS:    ts,
		Faces: []Box{},
		Texts: []Box{},
	}
}

type envelope struct {
	Type string `json:"type"`
}

// MessageType extracts the discriminant tag from a raw message.
func MessageType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("protocol: message missing type tag")
	}
	return env.Type, nil
}
