/*
Package ratelimit groups the admission-control primitives of gateflow.

  - bucket: token bucket; admission spends whole tokens that regenerate at a
    fixed rate up to a capacity
  - leakybucket: bounded FIFO queue drained at a fixed rate into a callback
  - keyed: one independent limiter per client key
  - snapshot: persistence of token bucket state across restarts

Token Bucket vs Leaky Bucket:

A token bucket rejects immediately once its credit is spent and tolerates
bursts up to its capacity:

	limiter, _ := bucket.New(5, 10) // capacity 5, 10 tokens/sec
	if limiter.TryAdmit() {
		// handle request
	}

A leaky bucket queues bursts and releases them at a steady pace:

	q, _ := leakybucket.New(5, 10, handle) // capacity 5, 10 requests/sec
	if !q.Admit(req) {
		// queue full
	}

Neither primitive blocks. Replenishment is either folded into TryAdmit
(bucket.Lazy) or driven by a background actor calling Refill or Drain, see
the scheduler package. All types are safe for concurrent use.
*/
package ratelimit
