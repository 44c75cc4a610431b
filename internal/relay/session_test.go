package relay

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/fanout"
	"github.com/example/vision-relay/internal/maskcodec"
	"github.com/example/vision-relay/internal/protocol"
)

func startMockRelay(t *testing.T) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Relay{MockMode: true, ConcurrencyCap: 6, CallTimeout: time.Second}
	dispatcher := fanout.NewDispatcher(cfg, fanout.NewLimiter(cfg.ConcurrencyCap), zap.NewNop())

	router := gin.New()
	NewServer(cfg, dispatcher, nil, zap.NewNop()).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msgType, err := protocol.MessageType(data)
	if err != nil {
		t.Fatalf("untagged message %s: %v", data, err)
	}
	return msgType, data
}

func sendFrame(t *testing.T, conn *websocket.Conn, id uint64, flags protocol.Flags) {
	t.Helper()
	frame := protocol.FrameMessage{
		Type:        protocol.TypeFrame,
		ID:          id,
		TS:          time.Now().UnixMilli(),
		Width:       640,
		Height:      480,
		Flags:       flags,
		ImageFormat: "jpeg",
		Image:       base64.StdEncoding.EncodeToString([]byte("fake-jpeg")),
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestSessionSendsHelloFirst(t *testing.T) {
	conn := startMockRelay(t)
	msgType, data := readMessage(t, conn)
	if msgType != protocol.TypeHello {
		t.Fatalf("first message type = %q, want hello", msgType)
	}
	var hello protocol.HelloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("hello undecodable: %v", err)
	}
	if hello.TS == 0 {
		t.Fatal("hello carries no timestamp")
	}
}

func TestFrameRoundTripInMockMode(t *testing.T) {
	conn := startMockRelay(t)
	readMessage(t, conn) // hello

	sendFrame(t, conn, 5, protocol.Flags{RunFace: true, RunSeg: true})

	msgType, data := readMessage(t, conn)
	if msgType != protocol.TypeInference {
		t.Fatalf("message type = %q, want inference (%s)", msgType, data)
	}
	var resp protocol.InferenceMessage
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("inference undecodable: %v", err)
	}
	if resp.ID != 5 {
		t.Fatalf("response id = %d, want 5", resp.ID)
	}
	if len(resp.Faces) == 0 {
		t.Fatal("mock mode returned no faces")
	}
	if resp.Seg == nil || resp.Seg.Format != protocol.MaskFormatPackbits {
		t.Fatalf("seg descriptor missing or wrong format: %+v", resp.Seg)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Seg.DataB64)
	if err != nil {
		t.Fatalf("mask base64 invalid: %v", err)
	}
	if _, err := maskcodec.Decode(raw); err != nil {
		t.Fatalf("mask does not decode: %v", err)
	}
}

func TestMalformedInputAnsweredWithErrorNotDisconnect(t *testing.T) {
	conn := startMockRelay(t)
	readMessage(t, conn) // hello

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msgType, data := readMessage(t, conn)
	if msgType != protocol.TypeError {
		t.Fatalf("expected error message, got %q (%s)", msgType, data)
	}

	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msgType, _ = readMessage(t, conn)
	if msgType != protocol.TypeError {
		t.Fatalf("expected error for unknown tag, got %q", msgType)
	}

	// The connection must still answer real frames afterwards.
	sendFrame(t, conn, 6, protocol.Flags{RunFace: true})
	msgType, _ = readMessage(t, conn)
	if msgType != protocol.TypeInference {
		t.Fatalf("connection unusable after malformed input, got %q", msgType)
	}
}

func TestBadImageEncodingRejectedPerFrame(t *testing.T) {
	conn := startMockRelay(t)
	readMessage(t, conn) // hello

	frame := map[string]interface{}{
		"type": "frame", "id": 1, "flags": map[string]bool{"run_face": true},
		"image_format": "jpeg", "image": "!!! not base64 !!!",
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msgType, _ := readMessage(t, conn)
	if msgType != protocol.TypeError {
		t.Fatalf("expected error for bad base64, got %q", msgType)
	}
}

func TestResponsesCorrelateByID(t *testing.T) {
	conn := startMockRelay(t)
	readMessage(t, conn) // hello

	sendFrame(t, conn, 10, protocol.Flags{RunFace: true})
	sendFrame(t, conn, 11, protocol.Flags{RunFace: true})

	seen := map[uint64]bool{}
	for len(seen) < 2 {
		msgType, data := readMessage(t, conn)
		if msgType != protocol.TypeInference {
			continue
		}
		var resp protocol.InferenceMessage
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("inference undecodable: %v", err)
		}
		seen[resp.ID] = true
	}
	if !seen[10] || !seen[11] {
		t.Fatalf("responses did not cover both ids: %v", seen)
	}
}
