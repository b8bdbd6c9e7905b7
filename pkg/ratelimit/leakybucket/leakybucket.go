package leakybucket

import (
	"math"
	"time"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
)

// wholeItemEpsilon lets elapsed*leakRate products such as 0.3*10 count as
// the whole number they represent.
const wholeItemEpsilon = 1e-9

var errNilProcess = gferrors.NewValidationError("leakybucket", "process", nil, "cannot be nil").
	WithHint("provide a callback that receives drained requests")

// Admit appends req to the queue if it is not full.
func (b *Bucket[T]) Admit(req T) bool {
	select {
	case b.queue <- req:
		return true
	default:
		return false
	}
}

// Drain removes floor(elapsed*leakRate) items from the head of the queue and
// passes each to the process callback outside of any lock Admit uses.
//
// Fractional progress carries over: when nothing leaked, lastLeak stays put;
// when the queue supplied every leaked slot, lastLeak moves forward by exactly
// the time those items account for. When the queue ran dry, lastLeak jumps to
// now so idle periods do not bank credit.
func (b *Bucket[T]) Drain() int {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	now := b.clock.Now()
	elapsed := now.Sub(b.lastLeak)
	if elapsed <= 0 {
		return 0
	}

	due := math.Floor(elapsed.Seconds()*b.leakRate + wholeItemEpsilon)
	if due < 1 {
		return 0
	}

	leaked := b.capacity
	capped := due > float64(b.capacity)
	if !capped {
		leaked = int(due)
	}

	batch := b.take(leaked)

	if capped || len(batch) < leaked {
		b.lastLeak = now
	} else {
		b.lastLeak = b.lastLeak.Add(time.Duration(float64(leaked) / b.leakRate * float64(time.Second)))
	}

	for _, item := range batch {
		b.invoke(item)
	}
	return len(batch)
}

// Flush drains every queued item immediately and resets the leak clock.
func (b *Bucket[T]) Flush() int {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	batch := b.take(b.capacity)
	b.lastLeak = b.clock.Now()

	for _, item := range batch {
		b.invoke(item)
	}
	return len(batch)
}

// Len returns the number of queued items.
func (b *Bucket[T]) Len() int {
	return len(b.queue)
}

// Capacity returns the maximum number of queued items.
func (b *Bucket[T]) Capacity() int {
	return b.capacity
}

// LeakRate returns the number of items drained per second.
func (b *Bucket[T]) LeakRate() float64 {
	return b.leakRate
}

// Available returns the free space in the queue.
func (b *Bucket[T]) Available() int {
	return b.capacity - len(b.queue)
}

// take removes up to n items from the head. Must be called with drainMu held.
func (b *Bucket[T]) take(n int) []T {
	batch := make([]T, 0, min(n, len(b.queue)))
	for len(batch) < n {
		select {
		case item := <-b.queue:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

func (b *Bucket[T]) invoke(item T) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(item, r)
		}
	}()
	b.process(item)
}
