package fanout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/protocol"
)

// Response size guard for backend bodies.
const maxBackendBody = 8 << 20

// Headers a backend uses to mark a binary mask response.
const (
	headerMaskFormat   = "X-Mask-Format"
	headerMaskPolarity = "X-Mask-Polarity"
)

// Result is one backend call's payload before merging: either raw JSON to be
// normalized, or an already-framed binary mask.
type Result struct {
	JSON []byte
	Mask *protocol.MaskDescriptor
}

// Backend posts frames to one inference service, in one of two transport
// modes: a JSON body wrapping a data-URL, or the raw image bytes.
type Backend struct {
	baseURL string
	mode    string
	client  *http.Client
	logger  *zap.Logger
}

// NewBackend builds a backend transport. The http.Client is shared across
// calls; per-call deadlines come from the caller's context.
func NewBackend(cfg config.Relay, client *http.Client, logger *zap.Logger) *Backend {
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{
		baseURL: strings.TrimRight(cfg.BackendBaseURL, "/"),
		mode:    cfg.TransportMode,
		client:  client,
		logger:  logger.Named("backend"),
	}
}

type dataURLPayload struct {
	Image string `json:"image"`
}

// Call posts the image to baseURL+path and returns the classified response.
// A non-2xx status is an error; cancelling ctx aborts the request so the
// upstream connection is actually released.
func (b *Backend) Call(ctx context.Context, path string, image []byte, imageFormat string) (*Result, error) {
	contentType := "image/jpeg"
	if imageFormat == "png" {
		contentType = "image/png"
	}

	var body io.Reader
	var reqContentType string
	switch b.mode {
	case config.TransportBinary:
		body = bytes.NewReader(image)
		reqContentType = contentType
	default:
		payload := dataURLPayload{
			Image: fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image)),
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("fanout: encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
		reqContentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("fanout: build request: %w", err)
	}
	req.Header.Set("Content-Type", reqContentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fanout: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBackendBody)) //nolint:errcheck
		return nil, fmt.Errorf("fanout: call %s: unexpected status %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return nil, fmt.Errorf("fanout: read %s response: %w", path, err)
	}

	format := resp.Header.Get(headerMaskFormat)
	switch {
	case strings.EqualFold(format, protocol.MaskFormatPackbits),
		format == "" && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/octet-stream"):
		return &Result{Mask: &protocol.MaskDescriptor{
			Format:           protocol.MaskFormatPackbits,
			DataB64:          base64.StdEncoding.EncodeToString(raw),
			IsBackgroundMask: strings.EqualFold(resp.Header.Get(headerMaskPolarity), "background"),
		}}, nil
	case format != "":
		// Unrecognized encodings degrade the capability rather than being
		// mislabeled as packbits.
		b.logger.Warn("unrecognized mask format", zap.String("format", format), zap.String("path", path))
		return &Result{}, nil
	}
	return &Result{JSON: raw}, nil
}
