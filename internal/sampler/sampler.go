// Package sampler implements the client-side frame sampling gate: frames go
// out at a bounded rate, under an in-flight-request ceiling, with at most
// one encode-and-send in progress at a time. A send attempt that cannot
// proceed is dropped outright; there is no outbound queue and no retry. The
// next tick re-evaluates the gate from scratch.
package sampler

import (
	"sync"
	"time"

	"github.com/example/vision-relay/internal/protocol"
)

// SkipReason says why a capture attempt was dropped.
type SkipReason string

// Skip reasons reported by TryCapture.
const (
	SkipNone         SkipReason = ""
	SkipNotCapturing SkipReason = "not_capturing"
	SkipNoFlags      SkipReason = "no_flags"
	SkipEncodeBusy   SkipReason = "encode_busy"
	SkipTooSoon      SkipReason = "too_soon"
	SkipCeiling      SkipReason = "in_flight_ceiling"
)

// Config bounds the sampler.
type Config struct {
	Interval    time.Duration
	MaxInFlight int
}

// Metrics is a point-in-time snapshot of sampler counters.
type Metrics struct {
	Sent        uint64
	Received    uint64
	Dropped     map[SkipReason]uint64
	InFlight    int
	LastLatency time.Duration
}

// Sampler owns all sampling state under one mutex: the capture flag, the
// monotonic id counter, the in-flight set, the last send timestamp, and the
// encoding guard. |in-flight| never exceeds MaxInFlight.
type Sampler struct {
	mu sync.Mutex

	cfg       Config
	capturing bool
	encoding  bool
	nextID    uint64
	inFlight  map[uint64]time.Time
	lastSend  time.Time

	sent        uint64
	received    uint64
	dropped     map[SkipReason]uint64
	lastLatency time.Duration
}

// New creates a stopped sampler.
func New(cfg Config) *Sampler {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	return &Sampler{
		cfg:      cfg,
		inFlight: make(map[uint64]time.Time),
		dropped:  make(map[SkipReason]uint64),
	}
}

// Start enables capturing.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = true
}

// Stop disables capturing. In-flight requests stay tracked until their
// responses arrive or the connection drops.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
}

// Grant is permission for exactly one encode-and-send. The holder must call
// Sent or Abort; until then no other grant is issued.
type Grant struct {
	s    *Sampler
	ID   uint64
	done bool
}

// TryCapture evaluates the send gate. A nil grant with a reason is a drop,
// not an error; the caller simply tries again on a later tick.
func (s *Sampler) TryCapture(now time.Time, flags protocol.Flags) (*Grant, SkipReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reason := SkipNone
	switch {
	case !s.capturing:
		reason = SkipNotCapturing
	case !flags.Any():
		reason = SkipNoFlags
	case s.encoding:
		reason = SkipEncodeBusy
	case !s.lastSend.IsZero() && now.Sub(s.lastSend) < s.cfg.Interval:
		reason = SkipTooSoon
	case len(s.inFlight) >= s.cfg.MaxInFlight:
		reason = SkipCeiling
	}
	if reason != SkipNone {
		s.dropped[reason]++
		return nil, reason
	}

	s.nextID++
	id := s.nextID
	s.inFlight[id] = now
	s.encoding = true
	return &Grant{s: s, ID: id}, SkipNone
}

// Sent commits the grant after a successful transmit.
func (g *Grant) Sent(now time.Time) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	g.s.encoding = false
	g.s.lastSend = now
	g.s.sent++
}

// Abort rolls the grant back after an encode or transmit failure; the id
// leaves the in-flight set and is never reused.
func (g *Grant) Abort() {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	g.s.encoding = false
	delete(g.s.inFlight, g.ID)
}

// HandleResponse removes id from the in-flight set. Unknown ids are ignored,
// not errors: a response may race a connection teardown. The returned
// latency is only meaningful when known is true.
func (s *Sampler) HandleResponse(id uint64, now time.Time) (latency time.Duration, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	sentAt, ok := s.inFlight[id]
	if !ok {
		return 0, false
	}
	delete(s.inFlight, id)
	s.lastLatency = now.Sub(sentAt)
	return s.lastLatency, true
}

// ConnectionLost abandons every outstanding request. Nothing is retried; the
// sampler resumes sending under the same gates once reconnected.
func (s *Sampler) ConnectionLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = make(map[uint64]time.Time)
	s.encoding = false
}

// InFlight reports the current number of outstanding requests.
func (s *Sampler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Metrics returns a snapshot of the counters.
func (s *Sampler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := make(map[SkipReason]uint64, len(s.dropped))
	for k, v := range s.dropped {
		dropped[k] = v
	}
	return Metrics{
		Sent:        s.sent,
		Received:    s.received,
		Dropped:     dropped,
		InFlight:    len(s.inFlight),
		LastLatency: s.lastLatency,
	}
}
