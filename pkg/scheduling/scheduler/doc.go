/*
Package scheduler runs tasks at fixed times, at fixed intervals, or on cron
schedules, and is the background actor that keeps scheduled token buckets
refilled and leaky buckets draining.

Basic usage:

	s, err := scheduler.New()
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	defer func() { <-s.Stop() }()

	limiter, _ := bucket.NewWithConfig(bucket.Config{
		Capacity: 100,
		FillRate: 50,
		Mode:     bucket.Scheduled,
	})

	s.ScheduleRepeating("refill", scheduler.Hook(limiter.Refill),
		scheduler.IntervalFor(limiter.FillRate(), 10*time.Millisecond))

Scheduling Methods:

	s.Schedule("once", task, time.Now().Add(time.Minute))
	s.ScheduleAfter("later", task, 5*time.Second)
	s.ScheduleRepeating("every", task, 100*time.Millisecond)
	s.ScheduleCron("nightly", "0 0 3 * * *", task)

Cron expressions take five fields, or six with a leading seconds field, and
descriptors such as "@hourly" or "@every 30s". ParseCron validates an
expression without scheduling it.

Execution:

A tick loop collects due tasks every TickInterval and submits them to a
worker pool, so a slow task never delays the others. Repeating tasks are
rescheduled relative to the tick that ran them; a task that fails is logged
and counted, and keeps its schedule. BackoffTask retries a task with
exponential delay.

Lifecycle:

Start launches the tick loop. Stop returns a channel that closes once the loop
has exited and, when the scheduler created its own pool, that pool has
drained. A scheduler can be started again after it stops if it was given an
external pool.
*/
package scheduler
