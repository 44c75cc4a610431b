// Package fanout dispatches one incoming frame to the subset of configured
// inference backends implied by its capability flags. Calls run concurrently
// under a process-wide concurrency limiter, settle independently, and their
// heterogeneous responses are normalized into one merged result.
package fanout

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/protocol"
)

// Dispatcher fans one frame out to up to three capability endpoints and
// merges the results. A nil backend (mock mode) answers from the generator
// without touching the network.
type Dispatcher struct {
	limiter *Limiter
	backend *Backend
	mock    *MockGenerator

	facePath string
	segPath  string
	textPath string
	timeout  time.Duration

	logger *zap.Logger
}

// NewDispatcher wires a dispatcher from the relay configuration. The limiter
// is owned by the caller so every connection shares the same instance.
func NewDispatcher(cfg config.Relay, limiter *Limiter, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		limiter:  limiter,
		facePath: cfg.FacePath,
		segPath:  cfg.SegPath,
		textPath: cfg.TextPath,
		timeout:  cfg.CallTimeout,
		logger:   logger.Named("fanout"),
	}
	if cfg.MockMode {
		d.mock = NewMockGenerator()
	} else {
		d.backend = NewBackend(cfg, nil, logger)
	}
	return d
}

// Dispatch resolves one frame into a merged inference message. Individual
// call failures degrade that capability to empty data; the only hard error
// is an undecodable image or an already-dead context.
func (d *Dispatcher) Dispatch(ctx context.Context, frame protocol.FrameMessage) (protocol.InferenceMessage, error) {
	merged := protocol.NewInference(frame.ID, time.Now().UnixMilli())

	if d.mock != nil {
		if frame.Flags.RunFace {
			merged.Faces = d.mock.Faces(frame.ID)
		}
		if frame.Flags.RunText {
			merged.Texts = d.mock.Texts(frame.ID)
		}
		if frame.Flags.RunSeg {
			merged.Seg = d.mock.Seg(frame.ID)
		}
		return merged, nil
	}

	image, err := base64.StdEncoding.DecodeString(frame.Image)
	if err != nil {
		return merged, logging.NewOperationError("fanout.decode_image", frame.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return merged, logging.NewOperationError("fanout.dispatch", frame.ID, err)
	}

	var wg sync.WaitGroup
	var faceRes, segRes, textRes *Result

	if frame.Flags.RunFace {
		wg.Add(1)
		go func() {
			defer wg.Done()
			faceRes = d.call(ctx, "fanout.call_face", d.facePath, frame.ID, image, frame.ImageFormat)
		}()
	}
	if frame.Flags.RunSeg {
		wg.Add(1)
		go func() {
			defer wg.Done()
			segRes = d.call(ctx, "fanout.call_seg", d.segPath, frame.ID, image, frame.ImageFormat)
		}()
	}
	if frame.Flags.RunText {
		wg.Add(1)
		go func() {
			defer wg.Done()
			textRes = d.call(ctx, "fanout.call_text", d.textPath, frame.ID, image, frame.ImageFormat)
		}()
	}
	wg.Wait()

	if faceRes != nil {
		merged.Faces = NormalizeBoxes(faceRes.JSON, faceKeys)
	}
	if textRes != nil {
		merged.Texts = NormalizeBoxes(textRes.JSON, textKeys)
	}
	if segRes != nil {
		if segRes.Mask != nil {
			merged.Seg = segRes.Mask
		} else {
			merged.Seg = NormalizeMask(segRes.JSON)
		}
	}
	return merged, nil
}

// call runs one backend call under its own timeout context so an abort here
// cannot cancel sibling calls for the same frame. Failures are logged and
// reported as nil: the capability degrades, the request does not fail.
func (d *Dispatcher) call(ctx context.Context, operation, path string, frameID uint64, image []byte, imageFormat string) *Result {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Acquire(callCtx); err != nil {
		logging.WithOperation(d.logger, operation, frameID).Warn("limiter wait aborted", zap.Error(err))
		return nil
	}
	defer d.limiter.Release()

	res, err := d.backend.Call(callCtx, path, image, imageFormat)
	if err != nil {
		logging.WithOperation(d.logger, operation, frameID).Warn("backend call failed", zap.Error(err))
		return nil
	}
	return res
}
