/*
Package gateflow provides admission control for Go services: token buckets
that reject bursts and leaky buckets that smooth traffic into a steady flow.

Rate Limiting (pkg/ratelimit):
  - bucket: Token bucket with lazy or scheduled replenishment
  - leakybucket: FIFO queue drained at a fixed rate
  - keyed: One independent limiter per client key
  - snapshot: Persist token bucket state in memory or Redis

Task Scheduling (pkg/scheduling):
  - workerpool: Background task processing
  - scheduler: Interval and cron scheduling, used to drive refills and drains

The gateflow command (cmd/gateflow) puts both gates in front of an HTTP
upstream.

Example usage:

	import (
		"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
		"github.com/vnykmshr/gateflow/pkg/ratelimit/leakybucket"
	)

	limiter, _ := bucket.New(20, 10) // burst 20, 10 per second
	if limiter.TryAdmit() {
		handle(req)
	}

	queue, _ := leakybucket.New(100, 50, handle) // 100 waiting, 50 per second
	queue.Admit(req)
	queue.Drain() // call on a cadence
*/
package gateflow
