package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
)

// Submit adds a task to the pool for execution.
// The task will be executed with context.Background().
// Use SubmitWithContext to provide a custom context.
func (p *workerPool) Submit(task Task) error {
	return p.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext adds a task to the pool for execution with the given context.
// If the pool has a TaskTimeout configured, the effective timeout is the
// minimum of the context deadline and TaskTimeout.
func (p *workerPool) SubmitWithContext(ctx context.Context, task Task) error {
	if task == nil {
		return gferrors.NewValidationError("workerpool", "task", nil, "cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	if p.isShutdown {
		p.mu.RUnlock()
		return gferrors.NewOperationError("workerpool", "submit", gferrors.ErrClosed)
	}
	p.submitWg.Add(1)
	p.mu.RUnlock()
	defer p.submitWg.Done()

	// Pre-canceled contexts are rejected deterministically.
	if err := ctx.Err(); err != nil {
		return gferrors.NewOperationError("workerpool", "submit", err)
	}

	select {
	case p.taskQueue <- queuedTask{task: task, ctx: ctx}:
		p.totalSubmitted.Add(1)
		return nil
	case <-p.shutdownCh:
		return gferrors.NewOperationError("workerpool", "submit", gferrors.ErrClosed)
	case <-ctx.Done():
		return gferrors.NewOperationError("workerpool", "submit", ctx.Err())
	}
}

// Results returns a channel of task results.
func (p *workerPool) Results() <-chan Result {
	return p.resultQueue
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *workerPool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.isShutdown = true
		p.mu.Unlock()

		close(p.shutdownCh)

		go func() {
			// No submitter can be mid-send once submitWg drains.
			p.submitWg.Wait()
			close(p.taskQueue)
			p.workerWg.Wait()
			close(p.resultQueue)
			close(p.done)
		}()
	})

	return p.done
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	return len(p.taskQueue)
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *workerPool) ActiveWorkers() int {
	return int(p.activeWorkers.Load())
}

// TotalSubmitted returns the total number of tasks submitted to the pool.
func (p *workerPool) TotalSubmitted() int64 {
	return p.totalSubmitted.Load()
}

// TotalCompleted returns the total number of tasks completed by the pool.
func (p *workerPool) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// run is the main loop for a worker. It exits once the task queue is closed
// and drained.
func (p *workerPool) run(id int) {
	defer p.workerWg.Done()

	for qt := range p.taskQueue {
		p.sendResult(p.execute(id, qt))
	}
}

// sendResult delivers a result without blocking the worker.
func (p *workerPool) sendResult(result Result) {
	select {
	case p.resultQueue <- result:
	default:
		if result.Error != nil {
			p.logger.Debug("dropping task result", "worker", result.WorkerID, "error", result.Error)
		}
	}
}

// execute runs a single task, converting a panic into the result error.
func (p *workerPool) execute(id int, qt queuedTask) (result Result) {
	start := time.Now()
	p.activeWorkers.Add(1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker", id, "panic", r)
			if p.config.PanicHandler != nil {
				p.config.PanicHandler(qt.task, r)
			}
			result.Error = fmt.Errorf("task panicked: %v\nStack trace:\n%s", r, debug.Stack())
		}
		result.Task = qt.task
		result.WorkerID = id
		result.Duration = time.Since(start)

		p.activeWorkers.Add(-1)
		p.totalCompleted.Add(1)
	}()

	ctx := qt.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	result.Error = qt.task.Execute(ctx)
	return result
}
