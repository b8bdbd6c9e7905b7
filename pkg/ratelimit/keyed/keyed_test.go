package keyed

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/gateflow/internal/testutil"
	"github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
)

func newBucketGroup(t *testing.T, clock *testutil.MockClock, maxKeys int) *Group[string, bucket.Limiter] {
	t.Helper()
	g, err := NewWithConfig(Config[string, bucket.Limiter]{
		Factory: func(string) (bucket.Limiter, error) {
			return bucket.NewWithConfig(bucket.Config{
				Capacity:      2,
				FillRate:      1,
				Clock:         clock,
				InitialTokens: -1,
			})
		},
		MaxKeys: maxKeys,
		Clock:   clock,
	})
	testutil.AssertNoError(t, err)
	return g
}

func TestNewValidation(t *testing.T) {
	if _, err := New[string, int](nil); !errors.IsValidationError(err) {
		t.Errorf("nil factory should fail validation, got %v", err)
	}

	_, err := NewWithConfig(Config[string, int]{
		Factory: func(string) (int, error) { return 0, nil },
		MaxKeys: -1,
	})
	if !errors.IsValidationError(err) {
		t.Errorf("negative MaxKeys should fail validation, got %v", err)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	g := newBucketGroup(t, clock, 0)

	a, err := g.Get("a")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, a.TryAdmit(), true)
	testutil.AssertEqual(t, a.TryAdmit(), true)
	testutil.AssertEqual(t, a.TryAdmit(), false)

	b, err := g.Get("b")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b.TryAdmit(), true)

	again, err := g.Get("a")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, again.TryAdmit(), false)
	testutil.AssertEqual(t, g.Len(), 2)
}

func TestMaxKeys(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	g := newBucketGroup(t, clock, 1)

	_, err := g.Get("a")
	testutil.AssertNoError(t, err)

	_, err = g.Get("b")
	if !stderrors.Is(err, errors.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	_, err = g.Get("a")
	testutil.AssertNoError(t, err)
}

func TestFactoryError(t *testing.T) {
	boom := stderrors.New("boom")
	g, err := New(func(string) (int, error) { return 0, boom })
	testutil.AssertNoError(t, err)

	if _, err := g.Get("x"); !stderrors.Is(err, boom) {
		t.Errorf("expected factory error, got %v", err)
	}
	testutil.AssertEqual(t, g.Len(), 0)
}

func TestDelete(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	g := newBucketGroup(t, clock, 0)

	_, _ = g.Get("a")
	testutil.AssertEqual(t, g.Delete("a"), true)
	testutil.AssertEqual(t, g.Delete("a"), false)
	testutil.AssertEqual(t, g.Len(), 0)
}

func TestEvictIdle(t *testing.T) {
	clock := testutil.NewMockClock(time.Now())
	g := newBucketGroup(t, clock, 0)

	_, _ = g.Get("stale")
	clock.Advance(time.Minute)
	_, _ = g.Get("fresh")
	clock.Advance(30 * time.Second)

	testutil.AssertEqual(t, g.EvictIdle(45*time.Second), 1)
	testutil.AssertEqual(t, g.Len(), 1)

	seen := map[string]bool{}
	g.Range(func(key string, _ bucket.Limiter) bool {
		seen[key] = true
		return true
	})
	testutil.AssertEqual(t, seen["fresh"], true)
	testutil.AssertEqual(t, seen["stale"], false)
}

func TestRangeStopsEarly(t *testing.T) {
	g, err := New(func(k int) (int, error) { return k * 10, nil })
	testutil.AssertNoError(t, err)
	for i := 0; i < 5; i++ {
		_, _ = g.Get(i)
	}

	visits := 0
	g.Range(func(int, int) bool {
		visits++
		return false
	})
	testutil.AssertEqual(t, visits, 1)
}

func TestConcurrentGetCreatesOnce(t *testing.T) {
	calls := 0
	var mu sync.Mutex

	g, err := New(func(string) (*int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		v := new(int)
		return v, nil
	})
	testutil.AssertNoError(t, err)

	var wg sync.WaitGroup
	results := make([]*int, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = g.Get("shared")
		}(i)
	}
	wg.Wait()

	testutil.AssertEqual(t, calls, 1)
	for _, r := range results {
		if r != results[0] {
			t.Fatal("all callers should receive the same limiter")
		}
	}
}

func TestSlowFactoryDoesNotBlockKnownKeys(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	g, err := New(func(key string) (int, error) {
		if key == "slow" {
			close(entered)
			<-release
		}
		return len(key), nil
	})
	testutil.AssertNoError(t, err)

	_, err = g.Get("known")
	testutil.AssertNoError(t, err)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		v, err := g.Get("slow")
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, v, 4)
	}()
	<-entered

	got := make(chan int, 1)
	go func() {
		v, _ := g.Get("known")
		got <- v
	}()

	select {
	case v := <-got:
		testutil.AssertEqual(t, v, 5)
	case <-time.After(time.Second):
		t.Fatal("known key waited on another key's factory")
	}

	close(release)
	<-slowDone
	testutil.AssertEqual(t, g.Len(), 2)
}

func TestKeysBeingBuiltCountTowardMaxKeys(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	g, err := NewWithConfig(Config[string, int]{
		Factory: func(key string) (int, error) {
			if key == "first" {
				close(entered)
				<-release
			}
			return 1, nil
		},
		MaxKeys: 1,
	})
	testutil.AssertNoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Get("first")
	}()
	<-entered

	if _, err := g.Get("second"); !stderrors.Is(err, errors.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded while first key is built, got %v", err)
	}

	close(release)
	<-done
	testutil.AssertEqual(t, g.Len(), 1)
}

func TestFactoryPanicReleasesWaiters(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var builds atomic.Int32
	g, err := New(func(string) (int, error) {
		if builds.Add(1) > 1 {
			return 0, stderrors.New("factory failed")
		}
		close(entered)
		<-release
		panic("boom")
	})
	testutil.AssertNoError(t, err)

	go func() {
		defer func() { _ = recover() }()
		_, _ = g.Get("k")
	}()
	<-entered

	waiterErr := make(chan error, 1)
	go func() {
		_, err := g.Get("k")
		waiterErr <- err
	}()

	// Let the waiter park on the pending build before the factory panics.
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case err := <-waiterErr:
		if err == nil {
			t.Fatal("waiter should see an error when the factory panics")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released after the factory panicked")
	}
	testutil.AssertEqual(t, g.Len(), 0)
}
