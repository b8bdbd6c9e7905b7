/*
Package workerpool provides a bounded worker pool that executes Task values.

It is the executor behind the scheduler package: refill and drain hooks are
submitted here so a slow hook never stalls the scheduler's tick loop.

Basic usage:

	pool, err := workerpool.New(4, 100) // 4 workers, queue size 100
	if err != nil {
		return err
	}
	defer func() { <-pool.Shutdown() }()

	err = pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		limiter.Refill()
		return nil
	}))

Results:

Each execution produces a Result on the Results channel. Delivery never
blocks a worker; results nobody is waiting for are dropped. Set
BufferedResults to absorb short bursts.

Panics:

A panicking task is recovered. Its Result carries the panic and stack trace,
the optional PanicHandler is called, and the worker moves on.

Shutdown:

Shutdown stops accepting work, runs everything already queued, and closes the
returned channel once every worker has exited. Submit after shutdown returns
an error wrapping errors.ErrClosed.
*/
package workerpool
