/*
Package leakybucket provides a bounded FIFO queue drained at a fixed rate.

Where a token bucket rejects immediately once its credit is spent, a leaky
bucket accepts bursts up to its capacity and releases them downstream at a
steady pace. Each drained request is handed to a caller-supplied callback.

Basic usage:

	b, err := leakybucket.New(100, 10, func(job Job) {
		job.Run()
	})
	if err != nil {
		return err
	}

	if !b.Admit(job) {
		// queue is full
	}

Draining:

Admit never drains. A background actor calls Drain on a cadence, typically
through the scheduler package:

	s.ScheduleRepeating("drain", scheduler.Hook(func() { b.Drain() }),
		scheduler.IntervalFor(b.LeakRate(), 10*time.Millisecond))

Each Drain removes floor(elapsed*leakRate) requests and processes them in
admission order. Progress below one whole request is carried to the next
call, so frequent drains at a low leak rate still converge on the configured
rate. Time during which the queue sat empty is not banked.

Request timestamps:

Payloads are opaque. Callers that want the admission time can use Request:

	b, _ := leakybucket.New(10, 2, func(r leakybucket.Request[Job]) {
		log.Printf("waited %v", r.Waited(time.Now()))
	})
	b.Admit(leakybucket.NewRequest(job, nil))

Thread Safety:

Admit is a non-blocking channel send and can be called from any number of
goroutines. Drain and Flush are serialized among themselves, and the process
callback runs without blocking admitters. A panic in the callback is
recovered and reported to Config.OnPanic.
*/
package leakybucket
