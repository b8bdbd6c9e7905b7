package httpgate

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/vnykmshr/gateflow/pkg/metrics"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/leakybucket"
)

const (
	ticketWaiting int32 = iota
	ticketReleased
	ticketRejected
	ticketAbandoned
)

// ticket is a parked request. Exactly one of release, reject or abandon
// wins; ready is closed by the first two.
type ticket struct {
	state atomic.Int32
	ready chan struct{}
}

func newTicket() *ticket {
	return &ticket{ready: make(chan struct{})}
}

func (t *ticket) settle(state int32) bool {
	if !t.state.CompareAndSwap(ticketWaiting, state) {
		return false
	}
	close(t.ready)
	return true
}

func (t *ticket) abandon() bool {
	return t.state.CompareAndSwap(ticketWaiting, ticketAbandoned)
}

// QueueGateConfig configures a QueueGate.
type QueueGateConfig struct {
	// Name labels the gate in logs and metrics. Defaults to "queue_gate".
	Name string

	// Capacity is the number of requests that may wait at once.
	Capacity int

	// LeakRate is the number of requests released per second.
	LeakRate float64

	// MaxWait bounds how long a request may wait before it is answered with
	// 503. Zero waits until released or the client goes away.
	MaxWait time.Duration

	Clock   bucket.Clock
	Logger  hclog.Logger
	Metrics *metrics.Registry
}

// QueueGate smooths traffic: requests wait in a leaky bucket and proceed in
// arrival order at the leak rate. Requests that find the queue full are
// answered with 503 Service Unavailable.
//
// Nothing is released until Drain runs, so a scheduler must call it on a
// cadence.
type QueueGate struct {
	name       string
	queue      leakybucket.Queue[leakybucket.Request[*ticket]]
	maxWait    time.Duration
	clock      bucket.Clock
	logger     hclog.Logger
	retryAfter string
	closing    atomic.Bool
}

// NewQueueGate creates a QueueGate.
func NewQueueGate(config QueueGateConfig) (*QueueGate, error) {
	if config.Name == "" {
		config.Name = "queue_gate"
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	g := &QueueGate{
		name:    config.Name,
		maxWait: config.MaxWait,
		clock:   config.Clock,
		logger:  config.Logger.Named(config.Name),
	}

	b, err := leakybucket.NewWithConfig(leakybucket.Config[leakybucket.Request[*ticket]]{
		Capacity: config.Capacity,
		LeakRate: config.LeakRate,
		Process:  g.release,
		Clock:    config.Clock,
	})
	if err != nil {
		return nil, err
	}

	g.queue = b
	if config.Metrics != nil {
		g.queue = leakybucket.Instrument[leakybucket.Request[*ticket]](b, config.Name, config.Metrics)
	}
	g.retryAfter = retryAfterSeconds(config.LeakRate)

	return g, nil
}

// Middleware parks each request in the queue until it is released.
func (g *QueueGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.closing.Load() {
			writeRejection(w, http.StatusServiceUnavailable, "", "shutting down")
			return
		}

		t := newTicket()
		if !g.queue.Admit(leakybucket.NewRequest(t, g.clock)) {
			g.logger.Debug("queue full", "path", r.URL.Path)
			writeRejection(w, http.StatusServiceUnavailable, g.retryAfter, "queue full")
			return
		}

		// Close may have flushed just before this request landed.
		if g.closing.Load() {
			g.queue.Flush()
		}

		var timeout <-chan time.Time
		if g.maxWait > 0 {
			timer := time.NewTimer(g.maxWait)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-t.ready:
		case <-r.Context().Done():
			if t.abandon() {
				g.logger.Debug("client left the queue", "path", r.URL.Path)
				return
			}
			<-t.ready
		case <-timeout:
			if t.abandon() {
				writeRejection(w, http.StatusServiceUnavailable, g.retryAfter, "queue wait exceeded")
				return
			}
			<-t.ready
		}

		if t.state.Load() == ticketRejected {
			writeRejection(w, http.StatusServiceUnavailable, "", "shutting down")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Drain releases the requests due since the previous drain.
func (g *QueueGate) Drain() int {
	return g.queue.Drain()
}

// Len returns the number of parked requests.
func (g *QueueGate) Len() int {
	return g.queue.Len()
}

// Capacity returns the number of requests that may wait at once.
func (g *QueueGate) Capacity() int {
	return g.queue.Capacity()
}

// LeakRate returns the number of requests released per second.
func (g *QueueGate) LeakRate() float64 {
	return g.queue.LeakRate()
}

// Close stops admitting requests and answers every parked one with 503.
// It returns how many were rejected.
func (g *QueueGate) Close() int {
	g.closing.Store(true)
	return g.queue.Flush()
}

func (g *QueueGate) release(req leakybucket.Request[*ticket]) {
	state := ticketReleased
	if g.closing.Load() {
		state = ticketRejected
	}

	if !req.Payload.settle(state) {
		// Abandoned tickets still use the slot they were drained into.
		return
	}

	if state == ticketReleased {
		g.logger.Trace("request released", "waited", req.Waited(g.clock.Now()))
	}
}
