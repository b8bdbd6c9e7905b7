package leakybucket

import (
	"sync"
	"time"

	"github.com/vnykmshr/gateflow/pkg/common/validation"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
)

// Queue is the behaviour shared by Bucket and its instrumented wrapper.
type Queue[T any] interface {
	// Admit appends req at the tail if there is room. It never blocks and
	// never triggers a drain.
	Admit(req T) bool

	// Drain hands the items that leaked since the previous drain to the
	// process callback, oldest first, and returns how many were processed.
	Drain() int

	// Flush hands every queued item to the process callback regardless of
	// the leak rate. It is meant for shutdown.
	Flush() int

	// Len returns the number of queued items.
	Len() int

	// Capacity returns the maximum number of queued items.
	Capacity() int

	// LeakRate returns the number of items drained per second.
	LeakRate() float64

	// Available returns the free space in the queue.
	Available() int
}

// Request wraps a payload with the time it was admitted.
type Request[P any] struct {
	Payload    P
	AdmittedAt time.Time
}

// NewRequest stamps payload with the current time of clock.
// A nil clock uses the system time.
func NewRequest[P any](payload P, clock bucket.Clock) Request[P] {
	if clock == nil {
		clock = bucket.SystemClock{}
	}
	return Request[P]{Payload: payload, AdmittedAt: clock.Now()}
}

// Waited returns how long the request has been queued as of now.
func (r Request[P]) Waited(now time.Time) time.Duration {
	return now.Sub(r.AdmittedAt)
}

// Config holds configuration options for creating a new Bucket.
type Config[T any] struct {
	// Capacity is the maximum number of requests the bucket can hold.
	Capacity int

	// LeakRate is the number of requests drained per second.
	LeakRate float64

	// Process receives every drained request, in admission order.
	Process func(T)

	// OnPanic, if set, is called when Process panics on an item. The drain
	// continues with the next item either way.
	OnPanic func(item T, recovered interface{})

	// Clock provides the current time. If nil, bucket.SystemClock is used.
	Clock bucket.Clock
}

// Bucket is a bounded FIFO queue drained at a fixed rate.
type Bucket[T any] struct {
	queue    chan T
	capacity int
	leakRate float64
	process  func(T)
	onPanic  func(T, interface{})
	clock    bucket.Clock

	// drainMu serializes drains and guards lastLeak. Admit never takes it.
	drainMu  sync.Mutex
	lastLeak time.Time
}

var _ Queue[int] = (*Bucket[int])(nil)

// New creates an empty leaky bucket that hands drained items to process.
func New[T any](capacity int, leakRate float64, process func(T)) (*Bucket[T], error) {
	return NewWithConfig(Config[T]{
		Capacity: capacity,
		LeakRate: leakRate,
		Process:  process,
		Clock:    bucket.SystemClock{},
	})
}

// NewWithConfig creates an empty leaky bucket from config.
func NewWithConfig[T any](config Config[T]) (*Bucket[T], error) {
	if err := validation.ValidatePositive("leakybucket", "capacity", config.Capacity); err != nil {
		return nil, err
	}
	if err := validation.ValidateFiniteRate("leakybucket", "leakRate", config.LeakRate); err != nil {
		return nil, err
	}
	if config.Process == nil {
		return nil, errNilProcess
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}

	return &Bucket[T]{
		queue:    make(chan T, config.Capacity),
		capacity: config.Capacity,
		leakRate: config.LeakRate,
		process:  config.Process,
		onPanic:  config.OnPanic,
		clock:    config.Clock,
		lastLeak: config.Clock.Now(),
	}, nil
}
