package client

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

const streamBoundary = "visionrelayframe"

// Broadcaster fans rendered frames out to any number of MJPEG viewers. A
// slow viewer drops frames instead of backpressuring the render loop.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan []byte]struct{})}
}

// Publish JPEG-encodes the frame and offers it to every subscriber.
func (b *Broadcaster) Publish(frame *image.NRGBA) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 80}); err != nil {
		return
	}
	payload := buf.Bytes()

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe registers a frame channel; cancel removes it.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Handler serves the stream as multipart/x-mixed-replace, the plain-HTTP
// way to show live frames in a browser.
func (b *Broadcaster) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		frames, cancel := b.Subscribe()
		defer cancel()

		c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
		c.Status(http.StatusOK)

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			return
		}

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case frame := <-frames:
				if _, err := fmt.Fprintf(c.Writer,
					"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
					streamBoundary, len(frame)); err != nil {
					return
				}
				if _, err := c.Writer.Write(frame); err != nil {
					return
				}
				if _, err := fmt.Fprint(c.Writer, "\r\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
