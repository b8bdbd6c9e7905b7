package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/vnykmshr/gateflow/pkg/scheduling/workerpool"
)

// Hook adapts a no-argument function, such as a bucket's Refill, into a
// task.
func Hook(fn func()) workerpool.Task {
	return workerpool.TaskFunc(func(ctx context.Context) error {
		fn()
		return nil
	})
}

// IntervalFor returns the cadence at which a hook should run for a bucket
// operating at rate events per second: one event's worth of time, never
// shorter than floor. Non-positive or non-finite rates yield floor.
func IntervalFor(rate float64, floor time.Duration) time.Duration {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return floor
	}

	nanos := float64(time.Second) / rate
	if nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	interval := time.Duration(nanos)
	if interval < floor {
		return floor
	}
	return interval
}

// BackoffTask wraps a task with retry logic.
type BackoffTask struct {
	Task         workerpool.Task
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Execute implements workerpool.Task with exponential backoff.
func (bt BackoffTask) Execute(ctx context.Context) error {
	var lastErr error
	delay := bt.InitialDelay

	for attempt := 0; attempt <= bt.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = bt.Task.Execute(ctx)
		if lastErr == nil {
			return nil
		}

		delay *= 2
		if bt.MaxDelay > 0 && delay > bt.MaxDelay {
			delay = bt.MaxDelay
		}
	}

	return lastErr
}
