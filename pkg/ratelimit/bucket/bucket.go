package bucket

import (
	"math"
	"time"
)

// wholeTokenEpsilon absorbs binary rounding when fractional refills add up
// to a whole token (ten 0.1 increments sum to 0.9999999999999999).
const wholeTokenEpsilon = 1e-9

// TryAdmit reports whether an event may happen now.
func (tb *tokenBucket) TryAdmit() bool {
	return tb.TryAdmitN(1)
}

// TryAdmitN reports whether n events may happen now.
func (tb *tokenBucket) TryAdmitN(n int) bool {
	if n <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.mode == Lazy {
		tb.refillLocked(tb.clock.Now())
	}

	need := float64(n)
	if tb.tokens+wholeTokenEpsilon < need {
		return false
	}

	tb.tokens = math.Max(0, tb.tokens-need)
	return true
}

// Refill adds the tokens accrued since the last refill.
func (tb *tokenBucket) Refill() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(tb.clock.Now())
}

// Tokens returns the number of tokens currently available.
func (tb *tokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.mode == Lazy {
		tb.refillLocked(tb.clock.Now())
	}
	return tb.tokens
}

// Capacity returns the maximum number of tokens.
func (tb *tokenBucket) Capacity() int {
	return tb.capacity
}

// FillRate returns the number of tokens added per second.
func (tb *tokenBucket) FillRate() float64 {
	return tb.fillRate
}

// Mode returns the replenishment mode.
func (tb *tokenBucket) Mode() RefillMode {
	return tb.mode
}

// Snapshot returns the current tokens and refill timestamp.
func (tb *tokenBucket) Snapshot() State {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	return State{
		Tokens:     tb.tokens,
		LastRefill: tb.lastRefill,
	}
}

// Restore loads s into the bucket. Tokens are clamped into [0, capacity]
// and the refill timestamp never moves backwards.
func (tb *tokenBucket) Restore(s State) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tokens := s.Tokens
	if math.IsNaN(tokens) {
		tokens = 0
	}
	tb.tokens = math.Min(math.Max(tokens, 0), float64(tb.capacity))

	if s.LastRefill.After(tb.lastRefill) {
		tb.lastRefill = s.LastRefill
	}
}

// refillLocked credits elapsed time since lastRefill. Must be called with
// tb.mu held.
func (tb *tokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		// Clock went backwards or no time passed; keep lastRefill so the
		// interval is credited once the clock catches up.
		return
	}

	tokensToAdd := elapsed.Seconds() * tb.fillRate
	tb.tokens = math.Min(tb.tokens+tokensToAdd, float64(tb.capacity))
	tb.lastRefill = now
}
