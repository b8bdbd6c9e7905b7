// Package bucket implements a token bucket admission limiter.
package bucket

import (
	"sync"
	"time"

	"github.com/vnykmshr/gateflow/pkg/common/validation"
)

// RefillMode selects when credits are replenished. It is fixed per instance.
type RefillMode int

const (
	// Lazy refills at the top of every admission call. No background
	// actor is needed.
	Lazy RefillMode = iota

	// Scheduled leaves replenishment to an external actor calling Refill
	// on a cadence. Admission only consumes.
	Scheduled
)

// String returns the mode name.
func (m RefillMode) String() string {
	switch m {
	case Lazy:
		return "lazy"
	case Scheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// ParseRefillMode converts "lazy" or "scheduled" into a RefillMode.
func ParseRefillMode(s string) (RefillMode, bool) {
	switch s {
	case "", "lazy":
		return Lazy, true
	case "scheduled":
		return Scheduled, true
	default:
		return Lazy, false
	}
}

// Limiter admits events against a token bucket. Every admission consumes
// whole tokens; tokens regenerate continuously at the fill rate up to the
// capacity.
type Limiter interface {
	// TryAdmit reports whether one event may happen now, consuming a token
	// if so. It never blocks.
	TryAdmit() bool

	// TryAdmitN reports whether n events may happen now, consuming n tokens
	// if so. It is all or nothing.
	TryAdmitN(n int) bool

	// Refill credits the tokens accumulated since the previous refill.
	// It is the hook a background scheduler calls in Scheduled mode.
	Refill()

	// Tokens returns the number of tokens currently available.
	Tokens() float64

	// Capacity returns the maximum number of tokens.
	Capacity() int

	// FillRate returns the number of tokens added per second.
	FillRate() float64

	// Mode returns the replenishment mode.
	Mode() RefillMode

	// Snapshot captures the current state so it can be persisted.
	Snapshot() State

	// Restore replaces the current state with a previously captured one.
	Restore(s State)
}

// State is a point-in-time copy of a token bucket.
type State struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds configuration options for creating a new Limiter.
type Config struct {
	// Capacity is the maximum number of tokens that can be stored.
	Capacity int

	// FillRate is the number of tokens added per second.
	FillRate float64

	// Mode selects lazy or scheduled replenishment. Defaults to Lazy.
	Mode RefillMode

	// Clock provides the current time. If nil, SystemClock is used.
	Clock Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int
}

// tokenBucket implements the Limiter interface using a token bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   int
	fillRate   float64
	mode       RefillMode
	tokens     float64
	lastRefill time.Time
	clock      Clock
}

// New creates a full token bucket using lazy replenishment.
func New(capacity int, fillRate float64) (Limiter, error) {
	return NewWithConfig(Config{
		Capacity:      capacity,
		FillRate:      fillRate,
		Mode:          Lazy,
		Clock:         SystemClock{},
		InitialTokens: -1, // Start with full capacity
	})
}

// NewWithConfig creates a token bucket from config. It returns a
// ValidationError when capacity or fill rate are not positive, or the fill
// rate is not finite.
func NewWithConfig(config Config) (Limiter, error) {
	if err := validation.ValidatePositive("bucket", "capacity", config.Capacity); err != nil {
		return nil, err
	}
	if err := validation.ValidateFiniteRate("bucket", "fillRate", config.FillRate); err != nil {
		return nil, err
	}
	if config.Mode != Lazy && config.Mode != Scheduled {
		config.Mode = Lazy
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}

	initialTokens := float64(config.InitialTokens)
	if config.InitialTokens < 0 || config.InitialTokens > config.Capacity {
		initialTokens = float64(config.Capacity)
	}

	return &tokenBucket{
		capacity:   config.Capacity,
		fillRate:   config.FillRate,
		mode:       config.Mode,
		tokens:     initialTokens,
		lastRefill: config.Clock.Now(),
		clock:      config.Clock,
	}, nil
}
