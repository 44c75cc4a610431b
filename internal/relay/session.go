package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/fanout"
	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/protocol"
	"github.com/example/vision-relay/internal/resultcache"
)

// session owns one client connection. The read loop keeps draining while
// frames resolve on their own goroutines, so a slow backend never blocks
// incoming messages. Writes are serialized through writeMu because gorilla
// permits only one concurrent writer.
type session struct {
	id   string
	conn *websocket.Conn

	dispatcher *fanout.Dispatcher
	cache      *resultcache.Cache
	jitterMax  time.Duration

	writeMu sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	logger *zap.Logger
}

func newSession(conn *websocket.Conn, dispatcher *fanout.Dispatcher, cache *resultcache.Cache, jitterMax time.Duration, logger *zap.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &session{
		id:         id,
		conn:       conn,
		dispatcher: dispatcher,
		cache:      cache,
		jitterMax:  jitterMax,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logging.WithConnection(logger, id),
	}
}

// run services the connection until the peer goes away. Malformed input is
// answered with an error message and never tears the connection down; all
// per-connection state is discarded when the read loop exits.
func (s *session) run() {
	defer s.conn.Close()

	s.logger.Info("session started")
	s.writeJSON(protocol.HelloMessage{
		Type:   protocol.TypeHello,
		TS:     time.Now().UnixMilli(),
		Server: "vision-relay",
	})

	table := protocol.NewDispatcher()
	table.Register(protocol.TypeFrame, s.handleFrame)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("connection lost", zap.Error(err))
			} else {
				s.logger.Info("connection closed")
			}
			break
		}

		if err := table.Dispatch(data); err != nil {
			var unknown *protocol.UnknownTypeError
			switch {
			case errors.As(err, &unknown):
				s.writeError("unknown message type " + unknown.Type)
			default:
				s.writeError("malformed message: " + err.Error())
			}
			s.logger.Warn("message rejected", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()
	s.logger.Info("session finished")
}

func (s *session) handleFrame(data []byte) error {
	var frame protocol.FrameMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}

	image, err := base64.StdEncoding.DecodeString(frame.Image)
	if err != nil {
		return errors.New("image is not valid base64")
	}

	received := time.Now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resolve(frame, image, received)
	}()
	return nil
}

// resolve answers one frame: cache lookup, fan-out on miss, optional jitter,
// then the merged response with end-to-end latency stamped in.
func (s *session) resolve(frame protocol.FrameMessage, image []byte, received time.Time) {
	opLogger := logging.WithOperation(s.logger, "relay.resolve", frame.ID)

	var resp protocol.InferenceMessage
	hit := false
	key := ""
	if s.cache != nil {
		key = resultcache.Key(image, frame.Flags)
		if cached, ok := s.cache.Lookup(s.ctx, key); ok {
			resp = *cached
			hit = true
		}
	}

	if !hit {
		var err error
		resp, err = s.dispatcher.Dispatch(s.ctx, frame)
		if err != nil {
			if s.ctx.Err() == nil {
				opLogger.Warn("dispatch failed", zap.Error(err))
				s.writeError("frame could not be processed")
			}
			return
		}
		if s.cache != nil {
			s.cache.Save(s.ctx, key, resp)
		}
	}

	if s.jitterMax > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(s.jitterMax)))):
		case <-s.ctx.Done():
			return
		}
	}

	resp.ID = frame.ID
	resp.TS = time.Now().UnixMilli()
	resp.LatencyMs = time.Since(received).Milliseconds()
	s.writeJSON(resp)
}

func (s *session) writeError(reason string) {
	s.writeJSON(protocol.ErrorMessage{Type: protocol.TypeError, Reason: reason})
}

func (s *session) writeJSON(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Warn("write failed", zap.Error(err))
	}
}
