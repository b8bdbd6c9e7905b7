package bucket

import (
	stderrors "errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/gateflow/internal/testutil"
	"github.com/vnykmshr/gateflow/pkg/common/errors"
)

func newTestLimiter(t *testing.T, clock Clock, capacity int, fillRate float64, mode RefillMode) Limiter {
	t.Helper()
	limiter, err := NewWithConfig(Config{
		Capacity:      capacity,
		FillRate:      fillRate,
		Mode:          mode,
		Clock:         clock,
		InitialTokens: -1,
	})
	testutil.AssertNoError(t, err)
	return limiter
}

func drain(l Limiter) int {
	n := 0
	for l.TryAdmit() {
		n++
	}
	return n
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		fillRate float64
		wantErr  bool
	}{
		{"valid parameters", 5, 10, false},
		{"fractional rate", 1, 0.25, false},
		{"zero rate", 5, 0, true},
		{"negative rate", 5, -1, true},
		{"NaN rate", 5, math.NaN(), true},
		{"infinite rate", 5, math.Inf(1), true},
		{"zero capacity", 0, 10, true},
		{"negative capacity", -1, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := New(tt.capacity, tt.fillRate)
			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrInvalidConfiguration) {
					t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
				}
				if limiter != nil {
					t.Error("expected nil limiter on error")
				}
				return
			}

			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, limiter.Capacity(), tt.capacity)
			testutil.AssertEqual(t, limiter.FillRate(), tt.fillRate)
			testutil.AssertEqual(t, limiter.Mode(), Lazy)
			testutil.AssertInDelta(t, limiter.Tokens(), float64(tt.capacity), 1e-6)
		})
	}
}

func TestInitialTokens(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())

	tests := []struct {
		initial int
		want    float64
	}{
		{-1, 4},
		{0, 0},
		{2, 2},
		{9, 4}, // above capacity starts full
	}

	for _, tt := range tests {
		limiter, err := NewWithConfig(Config{Capacity: 4, FillRate: 1, Clock: clock, InitialTokens: tt.initial})
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, limiter.Tokens(), tt.want)
	}
}

func TestSaturation(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	limiter := newTestLimiter(t, clock, 5, 1, Lazy)

	for i := 0; i < 5; i++ {
		if !limiter.TryAdmit() {
			t.Fatalf("admit %d should succeed on a full bucket", i+1)
		}
	}

	if limiter.TryAdmit() {
		t.Error("6th admit should be denied")
	}
	testutil.AssertEqual(t, limiter.Tokens(), 0.0)
}

func TestReplenishmentArithmetic(t *testing.T) {
	for _, mode := range []RefillMode{Lazy, Scheduled} {
		t.Run(mode.String(), func(t *testing.T) {
			clock := testutil.NewMockClock(time.Now())
			limiter := newTestLimiter(t, clock, 10, 2.0, mode)

			testutil.AssertEqual(t, drain(limiter), 10)

			clock.Advance(1500 * time.Millisecond)
			if mode == Scheduled {
				limiter.Refill()
			}

			testutil.AssertEqual(t, drain(limiter), 3)
		})
	}
}

func TestCapCeiling(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	limiter := newTestLimiter(t, clock, 5, 100, Lazy)

	drain(limiter)
	clock.Advance(10 * time.Second)

	testutil.AssertEqual(t, limiter.Tokens(), 5.0)
	testutil.AssertEqual(t, drain(limiter), 5)
}

func TestFractionalAccumulation(t *testing.T) {
	t.Run("lazy admits", func(t *testing.T) {
		clock := testutil.NewMockClock(time.Now())
		limiter := newTestLimiter(t, clock, 1, 1, Lazy)
		drain(limiter)

		admitted := 0
		for i := 0; i < 10; i++ {
			clock.Advance(100 * time.Millisecond)
			if limiter.TryAdmit() {
				admitted++
			}
		}
		testutil.AssertEqual(t, admitted, 1)
	})

	t.Run("scheduled refills", func(t *testing.T) {
		clock := testutil.NewMockClock(time.Now())
		limiter := newTestLimiter(t, clock, 1, 1, Scheduled)
		drain(limiter)

		for i := 0; i < 10; i++ {
			clock.Advance(100 * time.Millisecond)
			limiter.Refill()
		}
		if !limiter.TryAdmit() {
			t.Fatal("ten 100ms refills at 1 token/s should yield one token")
		}
		if limiter.TryAdmit() {
			t.Error("only one token should have accumulated")
		}
	})

	t.Run("slow rate over many calls", func(t *testing.T) {
		clock := testutil.NewMockClock(time.Now())
		limiter := newTestLimiter(t, clock, 100, 0.3, Lazy)
		drain(limiter)

		admitted := 0
		for i := 0; i < 1000; i++ {
			clock.Advance(10 * time.Millisecond)
			if limiter.TryAdmit() {
				admitted++
			}
		}
		// 10s at 0.3/s
		if admitted < 2 || admitted > 3 {
			t.Errorf("admitted = %d, want 3 (±1)", admitted)
		}
	})
}

func TestScheduledModeDoesNotRefillOnAdmit(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	limiter := newTestLimiter(t, clock, 3, 10, Scheduled)

	drain(limiter)
	clock.Advance(time.Second)

	if limiter.TryAdmit() {
		t.Fatal("scheduled mode must not refill inside TryAdmit")
	}
	testutil.AssertEqual(t, limiter.Tokens(), 0.0)

	limiter.Refill()
	testutil.AssertEqual(t, limiter.Tokens(), 3.0)
}

func TestRefillUsesTimeSinceLastRefill(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	limiter := newTestLimiter(t, clock, 100, 1, Scheduled)
	for i := 0; i < 100; i++ {
		limiter.TryAdmit()
	}

	clock.Advance(2 * time.Second)
	limiter.Refill()
	limiter.Refill() // no elapsed time, nothing added
	clock.Advance(time.Second)
	limiter.Refill()

	testutil.AssertInDelta(t, limiter.Tokens(), 3, 1e-9)
}

func TestClockGoingBackwards(t *testing.T) {
	start := time.Now()
	clock := testutil.NewMockClock(start)
	limiter := newTestLimiter(t, clock, 10, 1, Scheduled)
	drain(limiter)

	clock.Set(start.Add(-time.Minute))
	limiter.Refill()
	testutil.AssertEqual(t, limiter.Tokens(), 0.0)

	clock.Set(start.Add(2 * time.Second))
	limiter.Refill()
	testutil.AssertInDelta(t, limiter.Tokens(), 2, 1e-9)
}

func TestTryAdmitN(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	limiter := newTestLimiter(t, clock, 10, 10, Lazy)

	if !limiter.TryAdmitN(3) {
		t.Error("TryAdmitN(3) should succeed with 10 tokens available")
	}
	testutil.AssertEqual(t, limiter.Tokens(), 7.0)

	if limiter.TryAdmitN(8) {
		t.Error("TryAdmitN(8) should fail with 7 tokens available")
	}
	testutil.AssertEqual(t, limiter.Tokens(), 7.0)

	if !limiter.TryAdmitN(0) {
		t.Error("TryAdmitN(0) should always succeed")
	}
	if !limiter.TryAdmitN(-2) {
		t.Error("TryAdmitN(-2) should always succeed")
	}
	testutil.AssertEqual(t, limiter.Tokens(), 7.0)
}

func TestSnapshotRestore(t *testing.T) {
	start := time.Now()
	clock := testutil.NewMockClock(start)
	limiter := newTestLimiter(t, clock, 5, 1, Scheduled)

	limiter.TryAdmitN(3)
	snap := limiter.Snapshot()
	testutil.AssertEqual(t, snap.Tokens, 2.0)
	testutil.AssertEqual(t, snap.LastRefill, start)

	clock.Advance(time.Second)
	other := newTestLimiter(t, clock, 5, 1, Scheduled)
	other.Restore(snap)
	testutil.AssertEqual(t, other.Snapshot().Tokens, 2.0)
	// An older timestamp never rewinds lastRefill.
	testutil.AssertEqual(t, other.Snapshot().LastRefill, start.Add(time.Second))

	other.Restore(State{Tokens: 50, LastRefill: start.Add(time.Minute)})
	testutil.AssertEqual(t, other.Snapshot().Tokens, 5.0)
	testutil.AssertEqual(t, other.Snapshot().LastRefill, start.Add(time.Minute))

	other.Restore(State{Tokens: -3})
	testutil.AssertEqual(t, other.Snapshot().Tokens, 0.0)

	other.Restore(State{Tokens: math.NaN()})
	testutil.AssertEqual(t, other.Snapshot().Tokens, 0.0)
}

func TestParseRefillMode(t *testing.T) {
	tests := []struct {
		in   string
		want RefillMode
		ok   bool
	}{
		{"", Lazy, true},
		{"lazy", Lazy, true},
		{"scheduled", Scheduled, true},
		{"eager", Lazy, false},
	}
	for _, tt := range tests {
		got, ok := ParseRefillMode(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRefillMode(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	testutil.AssertEqual(t, RefillMode(7).String(), "unknown")
}

func TestConcurrentAdmitsAreExact(t *testing.T) {
	const n = 200

	for _, mode := range []RefillMode{Lazy, Scheduled} {
		t.Run(mode.String(), func(t *testing.T) {
			clock := testutil.NewMockClock(time.Now())
			limiter := newTestLimiter(t, clock, n, 1, mode)

			var admitted int64
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < n*2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if limiter.TryAdmit() {
						atomic.AddInt64(&admitted, 1)
					}
				}()
			}
			close(start)
			wg.Wait()

			testutil.AssertEqual(t, atomic.LoadInt64(&admitted), int64(n))
			testutil.AssertEqual(t, limiter.Tokens(), 0.0)
		})
	}
}

func TestConcurrentAdmitAndRefill(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	limiter := newTestLimiter(t, clock, 50, 1000, Scheduled)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				clock.Advance(time.Millisecond)
				limiter.Refill()
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				limiter.TryAdmit()
				tokens := limiter.Tokens()
				if tokens < 0 || tokens > 50 {
					t.Errorf("tokens out of bounds: %v", tokens)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}
