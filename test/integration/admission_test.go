// Package integration contains integration tests that verify cross-package functionality.
// These tests ensure that different components work together correctly in realistic scenarios.
package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/gateflow/internal/testutil"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/keyed"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/leakybucket"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/snapshot"
	"github.com/vnykmshr/gateflow/pkg/scheduling/scheduler"
)

func startScheduler(t *testing.T) scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.NewWithConfig(scheduler.Config{TickInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	t.Cleanup(func() {
		select {
		case <-s.Stop():
		case <-time.After(testutil.TestTimeout):
			t.Error("scheduler did not stop")
		}
	})
	return s
}

// TestScheduledRefillNeverOverAdmits hammers a scheduled token bucket from
// several goroutines while the scheduler refills it, and checks the total
// never exceeds the burst plus what the elapsed time pays for.
func TestScheduledRefillNeverOverAdmits(t *testing.T) {
	const (
		capacity = 5
		fillRate = 100.0
	)

	limiter, err := bucket.NewWithConfig(bucket.Config{
		Capacity:      capacity,
		FillRate:      fillRate,
		Mode:          bucket.Scheduled,
		InitialTokens: -1,
	})
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	start := time.Now()
	s := startScheduler(t)
	err = s.ScheduleRepeating("refill", scheduler.Hook(limiter.Refill),
		scheduler.IntervalFor(fillRate, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to schedule refill: %v", err)
	}

	var admitted int64
	var wg sync.WaitGroup
	deadline := start.Add(300 * time.Millisecond)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				if limiter.TryAdmit() {
					atomic.AddInt64(&admitted, 1)
				}
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	got := atomic.LoadInt64(&admitted)
	ceiling := int64(capacity + fillRate*elapsed.Seconds() + 1)
	if got > ceiling {
		t.Errorf("admitted %d events in %v, ceiling is %d", got, elapsed, ceiling)
	}
	if got < capacity+5 {
		t.Errorf("admitted only %d events in %v; refills are not reaching the bucket", got, elapsed)
	}
	t.Logf("admitted %d events in %v (ceiling %d)", got, elapsed, ceiling)
}

// TestScheduledDrainPreservesOrder fills a leaky bucket and lets the
// scheduler drain it, checking every item comes out once and in order.
func TestScheduledDrainPreservesOrder(t *testing.T) {
	const items = 40

	processed := &testutil.Recorder[int]{}
	queue, err := leakybucket.New(items, 400, processed.Record)
	if err != nil {
		t.Fatalf("failed to create leaky bucket: %v", err)
	}

	for i := 0; i < items; i++ {
		if !queue.Admit(i) {
			t.Fatalf("admit %d rejected with %d queued", i, queue.Len())
		}
	}
	if queue.Admit(items) {
		t.Fatal("admit beyond capacity should be rejected")
	}

	s := startScheduler(t)
	err = s.ScheduleRepeating("drain", scheduler.Hook(func() { queue.Drain() }),
		scheduler.IntervalFor(queue.LeakRate(), 10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to schedule drain: %v", err)
	}

	testutil.Eventually(t, func() bool { return processed.Len() == items }, testutil.TestTimeout, 5*time.Millisecond)

	for i, v := range processed.Values() {
		if v != i {
			t.Fatalf("item %d drained out of order: got %d", i, v)
		}
	}
}

// TestKeyedBucketsSurviveRestart checkpoints a group of per-client buckets
// and resumes them into a fresh group.
func TestKeyedBucketsSurviveRestart(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	newGroup := func() *keyed.Group[string, bucket.Limiter] {
		g, err := keyed.New(func(key string) (bucket.Limiter, error) {
			l, err := bucket.NewWithConfig(bucket.Config{Capacity: 4, FillRate: 1, Clock: clock, InitialTokens: -1})
			if err != nil {
				return nil, err
			}
			if _, err := snapshot.Resume(ctx, store, key, l); err != nil {
				return nil, err
			}
			return l, nil
		})
		if err != nil {
			t.Fatalf("failed to create group: %v", err)
		}
		return g
	}

	before := newGroup()
	for key, spend := range map[string]int{"alice": 3, "bob": 1} {
		l, err := before.Get(key)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if !l.TryAdmitN(spend) {
			t.Fatalf("%s could not spend %d tokens", key, spend)
		}
	}

	before.Range(func(key string, l bucket.Limiter) bool {
		if err := snapshot.Checkpoint(ctx, store, key, l); err != nil {
			t.Errorf("checkpoint %q: %v", key, err)
		}
		return true
	})

	after := newGroup()
	alice, _ := after.Get("alice")
	bob, _ := after.Get("bob")
	carol, _ := after.Get("carol")

	testutil.AssertInDelta(t, alice.Tokens(), 1, 1e-9)
	testutil.AssertInDelta(t, bob.Tokens(), 3, 1e-9)
	testutil.AssertInDelta(t, carol.Tokens(), 4, 1e-9)
}
