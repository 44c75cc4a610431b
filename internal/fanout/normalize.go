package fanout

import (
	"encoding/json"

	"github.com/example/vision-relay/internal/protocol"
)

// Ranked field names per capability. The first key present in a backend's
// JSON body wins; later entries are fallbacks for services with their own
// naming.
var (
	faceKeys = []string{"faces", "boxes", "detections", "predictions"}
	textKeys = []string{"texts", "words", "boxes", "detections"}
)

// boxShape covers the known object spellings of a rectangle. Exactly one
// spelling is populated per element; a min/max pair converts to
// origin+extent.
type boxShape struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	W *float64 `json:"w"`
	H *float64 `json:"h"`

	Left   *float64 `json:"left"`
	Top    *float64 `json:"top"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`

	XMin *float64 `json:"xmin"`
	YMin *float64 `json:"ymin"`
	XMax *float64 `json:"xmax"`
	YMax *float64 `json:"ymax"`
}

// NormalizeBoxes coerces a backend JSON body into canonical unit-coordinate
// boxes using the ranked key list. Unparseable bodies or elements degrade to
// an empty result, never an error: a malformed backend response costs that
// capability's data only.
func NormalizeBoxes(raw []byte, keys []string) []protocol.Box {
	boxes := []protocol.Box{}
	if len(raw) == 0 {
		return boxes
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return boxes
	}

	var list []json.RawMessage
	for _, key := range keys {
		value, ok := body[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, &list); err != nil {
			return boxes
		}
		break
	}

	for _, element := range list {
		if box, ok := parseBox(element); ok {
			boxes = append(boxes, box)
		}
	}
	return boxes
}

func parseBox(raw json.RawMessage) (protocol.Box, bool) {
	var shape boxShape
	if err := json.Unmarshal(raw, &shape); err == nil {
		switch {
		case shape.X != nil && shape.Y != nil && shape.W != nil && shape.H != nil:
			return clampBox(*shape.X, *shape.Y, *shape.W, *shape.H), true
		case shape.Left != nil && shape.Top != nil && shape.Width != nil && shape.Height != nil:
			return clampBox(*shape.Left, *shape.Top, *shape.Width, *shape.Height), true
		case shape.XMin != nil && shape.YMin != nil && shape.XMax != nil && shape.YMax != nil:
			return clampBox(*shape.XMin, *shape.YMin, *shape.XMax-*shape.XMin, *shape.YMax-*shape.YMin), true
		}
	}

	// Array spelling: [x, y, w, h].
	var quad []float64
	if err := json.Unmarshal(raw, &quad); err == nil && len(quad) == 4 {
		return clampBox(quad[0], quad[1], quad[2], quad[3]), true
	}
	return protocol.Box{}, false
}

// NormalizeMask extracts a base64 packbits mask from a JSON body, for
// backends that wrap the mask in JSON instead of returning binary bytes.
func NormalizeMask(raw []byte) *protocol.MaskDescriptor {
	if len(raw) == 0 {
		return nil
	}
	var body struct {
		MaskB64      string `json:"mask_b64"`
		Mask         string `json:"mask"`
		Segmentation string `json:"segmentation"`
		IsBackground bool   `json:"is_background_mask"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	data := body.MaskB64
	if data == "" {
		data = body.Mask
	}
	if data == "" {
		data = body.Segmentation
	}
	if data == "" {
		return nil
	}
	return &protocol.MaskDescriptor{
		Format:           protocol.MaskFormatPackbits,
		DataB64:          data,
		IsBackgroundMask: body.IsBackground,
	}
}

func clampBox(x, y, w, h float64) protocol.Box {
	return protocol.Box{
		X: clamp01(x),
		Y: clamp01(y),
		W: clamp01(w),
		H: clamp01(h),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
