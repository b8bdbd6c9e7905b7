// Package keyed keeps one independent limiter per client key.
package keyed

import (
	"errors"
	"sync"
	"time"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
)

var errFactoryPanicked = errors.New("factory panicked")

// Factory builds the limiter for a key the first time it is seen.
type Factory[K comparable, L any] func(key K) (L, error)

// Config holds configuration options for creating a Group.
type Config[K comparable, L any] struct {
	// Factory creates a limiter for a new key. Required.
	Factory Factory[K, L]

	// MaxKeys caps the number of live keys. Zero means no cap.
	MaxKeys int

	// Clock provides the current time for idle tracking. If nil,
	// bucket.SystemClock is used.
	Clock bucket.Clock
}

type entry[L any] struct {
	limiter  L
	lastSeen time.Time
}

// pending is a limiter being built for a key. Callers asking for the same
// key wait on done instead of building a second one.
type pending[L any] struct {
	done    chan struct{}
	limiter L
	err     error
}

// Group lazily creates and tracks one limiter per key. Limiters of
// different keys share no state.
type Group[K comparable, L any] struct {
	mu      sync.Mutex
	entries map[K]*entry[L]
	pending map[K]*pending[L]
	factory Factory[K, L]
	maxKeys int
	clock   bucket.Clock
}

// New creates a Group whose limiters are built by factory.
func New[K comparable, L any](factory func(key K) (L, error)) (*Group[K, L], error) {
	return NewWithConfig(Config[K, L]{Factory: factory})
}

// NewWithConfig creates a Group from config.
func NewWithConfig[K comparable, L any](config Config[K, L]) (*Group[K, L], error) {
	if config.Factory == nil {
		return nil, gferrors.NewValidationError("keyed", "factory", nil, "cannot be nil")
	}
	if config.MaxKeys < 0 {
		return nil, gferrors.NewValidationError("keyed", "maxKeys", config.MaxKeys, "cannot be negative").
			WithHint("use 0 for no limit")
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}

	return &Group[K, L]{
		entries: make(map[K]*entry[L]),
		pending: make(map[K]*pending[L]),
		factory: config.Factory,
		maxKeys: config.MaxKeys,
		clock:   config.Clock,
	}, nil
}

// Get returns the limiter for key, creating it on first use. It fails when
// the factory fails or the group already holds MaxKeys keys.
//
// The factory runs without the group lock held, so a slow factory only
// delays callers asking for the same key.
func (g *Group[K, L]) Get(key K) (L, error) {
	var zero L
	now := g.clock.Now()

	g.mu.Lock()
	if e, ok := g.entries[key]; ok {
		e.lastSeen = now
		g.mu.Unlock()
		return e.limiter, nil
	}

	if p, ok := g.pending[key]; ok {
		g.mu.Unlock()
		<-p.done
		if p.err != nil {
			return zero, p.err
		}
		return p.limiter, nil
	}

	// Keys being built count against the cap so concurrent first requests
	// cannot overshoot it.
	if g.maxKeys > 0 && len(g.entries)+len(g.pending) >= g.maxKeys {
		g.mu.Unlock()
		return zero, gferrors.NewOperationError("keyed", "get", gferrors.ErrCapacityExceeded).
			WithContext("group is full")
	}

	p := &pending[L]{done: make(chan struct{})}
	g.pending[key] = p
	g.mu.Unlock()

	g.build(key, p, now)

	if p.err != nil {
		return zero, p.err
	}
	return p.limiter, nil
}

// build runs the factory for key and publishes the outcome to waiters. A
// panicking factory is reported to waiters as an error and then re-raised.
func (g *Group[K, L]) build(key K, p *pending[L], now time.Time) {
	completed := false
	defer func() {
		if !completed {
			p.err = gferrors.NewOperationError("keyed", "get", errFactoryPanicked)
		}

		g.mu.Lock()
		delete(g.pending, key)
		if p.err == nil {
			g.entries[key] = &entry[L]{limiter: p.limiter, lastSeen: now}
		}
		g.mu.Unlock()
		close(p.done)
	}()

	p.limiter, p.err = g.factory(key)
	completed = true
}

// Delete drops the limiter for key and reports whether it existed.
func (g *Group[K, L]) Delete(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entries[key]; !ok {
		return false
	}
	delete(g.entries, key)
	return true
}

// Len returns the number of live keys.
func (g *Group[K, L]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Range calls fn for each key and limiter until fn returns false. It works
// on a copy, so fn may call back into the group.
func (g *Group[K, L]) Range(fn func(key K, limiter L) bool) {
	type pair struct {
		key     K
		limiter L
	}

	g.mu.Lock()
	pairs := make([]pair, 0, len(g.entries))
	for k, e := range g.entries {
		pairs = append(pairs, pair{key: k, limiter: e.limiter})
	}
	g.mu.Unlock()

	for _, p := range pairs {
		if !fn(p.key, p.limiter) {
			return
		}
	}
}

// EvictIdle drops every key not requested within olderThan and returns how
// many were dropped.
func (g *Group[K, L]) EvictIdle(olderThan time.Duration) int {
	cutoff := g.clock.Now().Add(-olderThan)

	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for k, e := range g.entries {
		if e.lastSeen.Before(cutoff) {
			delete(g.entries, k)
			evicted++
		}
	}
	return evicted
}
