/*
Package scheduling provides the background actor for gateflow's buckets.

  - workerpool: bounded pool that executes tasks with panic recovery
  - scheduler: interval, one-shot and cron scheduling on top of a pool

A token bucket in bucket.Scheduled mode, or any leaky bucket, needs someone
to call Refill or Drain on a cadence:

	s.ScheduleRepeating("refill", scheduler.Hook(limiter.Refill),
		scheduler.IntervalFor(limiter.FillRate(), 10*time.Millisecond))

	s.ScheduleRepeating("drain", scheduler.Hook(func() { queue.Drain() }),
		scheduler.IntervalFor(queue.LeakRate(), 10*time.Millisecond))

All components are safe for concurrent use.
*/
package scheduling
