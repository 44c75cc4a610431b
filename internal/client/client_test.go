package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/fanout"
	"github.com/example/vision-relay/internal/framesource"
	"github.com/example/vision-relay/internal/maskcodec"
	"github.com/example/vision-relay/internal/protocol"
	"github.com/example/vision-relay/internal/relay"
)

func viewerConfig(relayURL string) config.Viewer {
	return config.Viewer{
		Addr:           ":0",
		RelayURL:       relayURL,
		SampleInterval: 10 * time.Millisecond,
		MaxInFlight:    2,
		TickInterval:   5 * time.Millisecond,
		ImageFormat:    "jpeg",
		JPEGQuality:    70,
		MaxDimension:   128,
		RunFace:        true,
		RunSeg:         true,
		FrameWidth:     64,
		FrameHeight:    48,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   100 * time.Millisecond,
	}
}

func inferenceJSON(t *testing.T, msg protocol.InferenceMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}

func TestHandleInferenceIgnoresStaleResponses(t *testing.T) {
	c := New(viewerConfig("ws://unused"), framesource.NewSynthetic(64, 48), zap.NewNop())

	newer := protocol.NewInference(5, 0)
	newer.Faces = []protocol.Box{{X: 0.5, Y: 0.5, W: 0.1, H: 0.1}}
	if err := c.handleInference(inferenceJSON(t, newer)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	stale := protocol.NewInference(3, 0)
	stale.Faces = []protocol.Box{{X: 0.9, Y: 0.9, W: 0.1, H: 0.1}}
	if err := c.handleInference(inferenceJSON(t, stale)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.ResponseID != 5 {
		t.Fatalf("state id = %d, want 5", c.state.ResponseID)
	}
	if c.state.Faces[0].X != 0.5 {
		t.Fatal("stale response overwrote newer state")
	}
}

func TestHandleInferenceKeepsSurfaceOnBrokenMask(t *testing.T) {
	c := New(viewerConfig("ws://unused"), framesource.NewSynthetic(64, 48), zap.NewNop())

	good := protocol.NewInference(1, 0)
	mask := [][]bool{{true, false}, {false, true}}
	good.Seg = &protocol.MaskDescriptor{
		Format:  protocol.MaskFormatPackbits,
		DataB64: base64.StdEncoding.EncodeToString(maskcodec.Encode(mask, false)),
	}
	if err := c.handleInference(inferenceJSON(t, good)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	c.mu.Lock()
	surface := c.state.Surface
	c.mu.Unlock()
	if surface == nil {
		t.Fatal("valid mask did not build a surface")
	}

	// Zero-width header is malformed; the previous surface must survive.
	broken := protocol.NewInference(2, 0)
	broken.Seg = &protocol.MaskDescriptor{
		Format:  protocol.MaskFormatPackbits,
		DataB64: base64.StdEncoding.EncodeToString([]byte{0, 2, 0, 0, 0, 1, 0xFF}),
	}
	if err := c.handleInference(inferenceJSON(t, broken)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	// A header claiming 65535x65535 with no payload must be rejected before
	// any surface allocation happens.
	hostile := protocol.NewInference(3, 0)
	hostile.Seg = &protocol.MaskDescriptor{
		Format:  protocol.MaskFormatPackbits,
		DataB64: base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x20, 0x00}),
	}
	if err := c.handleInference(inferenceJSON(t, hostile)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Surface != surface {
		t.Fatal("broken mask replaced the previous surface")
	}
	if c.state.ResponseID != 3 {
		t.Fatal("box state should still advance on a broken mask")
	}
}

func TestBroadcasterNeverBlocksPublisher(t *testing.T) {
	b := NewBroadcaster()
	frames, cancel := b.Subscribe()
	defer cancel()

	frame := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 5; i++ {
		b.Publish(frame) // subscriber never reads; Publish must not block
	}
	select {
	case payload := <-frames:
		if len(payload) == 0 {
			t.Fatal("empty frame payload")
		}
	default:
		t.Fatal("no frame buffered for subscriber")
	}
}

func TestClientEndToEndAgainstMockRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)

	relayCfg := config.Relay{MockMode: true, ConcurrencyCap: 6, CallTimeout: time.Second}
	dispatcher := fanout.NewDispatcher(relayCfg, fanout.NewLimiter(relayCfg.ConcurrencyCap), zap.NewNop())
	router := gin.New()
	relay.NewServer(relayCfg, dispatcher, nil, zap.NewNop()).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c := New(viewerConfig(wsURL), framesource.NewSynthetic(64, 48), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx) //nolint:errcheck

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m := c.Metrics()
		if m.Sent > 0 && m.Received > 0 {
			c.mu.Lock()
			id := c.state.ResponseID
			surface := c.state.Surface
			c.mu.Unlock()
			if id > 0 && surface != nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no round trip within deadline: %+v", c.Metrics())
}
