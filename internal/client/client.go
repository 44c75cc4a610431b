// Package client implements the viewer side of the relay protocol: a
// display-rate tick loop that renders the latest annotation state, a frame
// sampler that emits requests under backpressure gates, and a reconnecting
// WebSocket that correlates responses back by id.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/framesource"
	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/maskcodec"
	"github.com/example/vision-relay/internal/protocol"
	"github.com/example/vision-relay/internal/render"
	"github.com/example/vision-relay/internal/sampler"
)

// Client owns the render loop and the relay connection. The render loop
// never blocks on the network: it reads only state already decoded by the
// message handlers.
type Client struct {
	cfg    config.Viewer
	flags  protocol.Flags
	logger *zap.Logger

	source      framesource.Source
	smp         *sampler.Sampler
	comp        *render.Compositor
	broadcaster *Broadcaster

	mu     sync.Mutex
	conn   *websocket.Conn
	state  render.AnnotationState
	frameW int
	frameH int

	writeMu sync.Mutex
}

// New wires a viewer client.
func New(cfg config.Viewer, source framesource.Source, logger *zap.Logger) *Client {
	flags := protocol.Flags{RunFace: cfg.RunFace, RunSeg: cfg.RunSeg, RunText: cfg.RunText}
	return &Client{
		cfg:         cfg,
		flags:       flags,
		logger:      logger.Named("client"),
		source:      source,
		smp:         sampler.New(sampler.Config{Interval: cfg.SampleInterval, MaxInFlight: cfg.MaxInFlight}),
		comp:        render.NewCompositor(),
		broadcaster: NewBroadcaster(),
		state:       render.AnnotationState{Flags: flags},
		frameW:      cfg.FrameWidth,
		frameH:      cfg.FrameHeight,
	}
}

// Broadcaster exposes the MJPEG output stream.
func (c *Client) Broadcaster() *Broadcaster {
	return c.broadcaster
}

// Metrics returns the sampler counters for the health endpoint.
func (c *Client) Metrics() sampler.Metrics {
	return c.smp.Metrics()
}

// Run drives the tick loop until ctx is cancelled. The connection loop runs
// alongside and feeds annotation state asynchronously.
func (c *Client) Run(ctx context.Context) error {
	go c.connectLoop(ctx)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick renders one output frame and, when the gate allows, kicks off one
// encode-and-send off the tick goroutine.
func (c *Client) tick(ctx context.Context) {
	frame, err := c.source.Frame(ctx)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.frameW = frame.Bounds().Dx()
	c.frameH = frame.Bounds().Dy()
	st := c.state
	c.mu.Unlock()

	c.broadcaster.Publish(c.comp.Render(frame, st))

	grant, _ := c.smp.TryCapture(time.Now(), c.flags)
	if grant == nil {
		return
	}
	conn := c.currentConn()
	if conn == nil {
		grant.Abort()
		return
	}

	go func() {
		payload, width, height, err := sampler.EncodeFrame(frame, sampler.ImageConfig{
			Format:       c.cfg.ImageFormat,
			JPEGQuality:  c.cfg.JPEGQuality,
			MaxDimension: c.cfg.MaxDimension,
		})
		if err != nil {
			grant.Abort()
			c.logger.Warn("frame encode failed", zap.Error(err))
			return
		}

		msg := protocol.FrameMessage{
			Type:        protocol.TypeFrame,
			ID:          grant.ID,
			TS:          time.Now().UnixMilli(),
			Width:       width,
			Height:      height,
			Flags:       c.flags,
			ImageFormat: c.cfg.ImageFormat,
			Image:       base64.StdEncoding.EncodeToString(payload),
		}

		c.writeMu.Lock()
		err = conn.WriteJSON(msg)
		c.writeMu.Unlock()
		if err != nil {
			grant.Abort()
			c.logger.Warn("frame send failed", zap.Error(err))
			return
		}
		grant.Sent(time.Now())
	}()
}

// connectLoop dials the relay with exponential backoff and services each
// connection until it drops. All in-flight state is abandoned on disconnect
// and rebuilt from scratch after reconnecting.
func (c *Client) connectLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectMin
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.RelayURL, nil)
		if err != nil {
			c.logger.Warn("relay dial failed", zap.String("url", c.cfg.RelayURL), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > c.cfg.ReconnectMax {
				backoff = c.cfg.ReconnectMax
			}
			continue
		}
		backoff = c.cfg.ReconnectMin

		c.logger.Info("connected to relay", zap.String("url", c.cfg.RelayURL))
		c.setConn(conn)
		c.smp.Start()

		c.readLoop(ctx, conn)

		c.setConn(nil)
		c.smp.Stop()
		c.smp.ConnectionLost()
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	table := protocol.NewDispatcher()
	table.Register(protocol.TypeInference, c.handleInference)
	table.Register(protocol.TypeHello, func(data []byte) error {
		var msg protocol.HelloMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		c.logger.Info("relay hello", zap.String("server", msg.Server))
		return nil
	})
	table.Register(protocol.TypeError, func(data []byte) error {
		var msg protocol.ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		c.logger.Warn("relay reported error", zap.String("reason", msg.Reason))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}
		if err := table.Dispatch(data); err != nil {
			// Malformed or unknown messages are dropped, never fatal.
			c.logger.Warn("message dropped", zap.Error(err))
		}
	}
}

// handleInference updates the annotation state the renderer reads. The id
// leaves the in-flight set even when the payload turns out stale or
// unusable; only the mask decode outcome decides whether the surface is
// replaced or the previous one stays.
func (c *Client) handleInference(data []byte) error {
	var msg protocol.InferenceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	latency, known := c.smp.HandleResponse(msg.ID, time.Now())
	opLogger := logging.WithOperation(c.logger, "client.inference", msg.ID)
	if known {
		opLogger.Debug("response matched", zap.Duration("round_trip", latency))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Responses may arrive out of order; an older result never overwrites a
	// newer one.
	if msg.ID < c.state.ResponseID {
		return nil
	}
	c.state.ResponseID = msg.ID
	c.state.Faces = msg.Faces
	c.state.Texts = msg.Texts

	if msg.Seg != nil {
		if surface := c.buildSurface(msg.Seg, opLogger); surface != nil {
			c.state.Surface = surface
		}
	}
	return nil
}

// buildSurface decodes a mask descriptor into a frame-sized surface. Any
// failure keeps the previous surface: stale beats broken.
func (c *Client) buildSurface(seg *protocol.MaskDescriptor, opLogger *zap.Logger) *render.MaskSurface {
	if seg.Format != protocol.MaskFormatPackbits {
		opLogger.Warn("unsupported mask format", zap.String("format", seg.Format))
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(seg.DataB64)
	if err != nil {
		opLogger.Warn("mask base64 invalid", zap.Error(err))
		return nil
	}
	mask, err := maskcodec.Decode(raw)
	if err != nil {
		opLogger.Warn("mask undecodable", zap.Error(err))
		return nil
	}
	return render.NewMaskSurface(mask, seg.IsBackgroundMask, c.frameW, c.frameH, c.comp.FeatherSigma)
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}
