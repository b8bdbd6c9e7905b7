package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/common/validation"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is any error that occurred during task execution
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Pool represents a worker pool that can execute tasks concurrently.
type Pool interface {
	// Submit adds a task to the pool for execution.
	// Returns an error if the pool is shut down or the task is nil.
	Submit(task Task) error

	// SubmitWithContext submits a task with a context. The context bounds
	// the wait for a queue slot and is passed to the task's Execute.
	SubmitWithContext(ctx context.Context, task Task) error

	// Results returns a channel of task results. Results are delivered
	// without blocking workers and are dropped when nobody is receiving.
	// The channel is closed once shutdown completes.
	Results() <-chan Result

	// Shutdown stops accepting tasks, runs everything already queued, and
	// returns a channel that closes when all workers have exited.
	Shutdown() <-chan struct{}

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks submitted to the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks completed by the pool.
	TotalCompleted() int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the maximum number of tasks that can be queued.
	// Zero means Submit waits until a worker is free.
	QueueSize int

	// TaskTimeout bounds each task execution. Zero means no timeout.
	TaskTimeout time.Duration

	// BufferedResults gives the results channel room for WorkerCount
	// results so short bursts are not dropped.
	BufferedResults bool

	// PanicHandler is called when a task panics. The panic is converted to
	// the task's Result error either way.
	PanicHandler func(task Task, recovered interface{})

	// Logger receives worker diagnostics. Defaults to a null logger.
	Logger hclog.Logger
}

type queuedTask struct {
	task Task
	ctx  context.Context
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config
	logger hclog.Logger

	taskQueue   chan queuedTask
	resultQueue chan Result

	mu           sync.RWMutex
	isShutdown   bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	submitWg sync.WaitGroup
	workerWg sync.WaitGroup

	activeWorkers  atomic.Int32
	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64
}

// New creates a new worker pool with the specified number of workers and queue size.
func New(workerCount, queueSize int) (Pool, error) {
	return NewWithConfig(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	})
}

// NewWithConfig creates a new worker pool with the specified configuration.
func NewWithConfig(config Config) (Pool, error) {
	if err := validation.ValidatePositive("workerpool", "workerCount", config.WorkerCount); err != nil {
		return nil, err
	}
	if config.QueueSize < 0 {
		return nil, gferrors.NewValidationError("workerpool", "queueSize", config.QueueSize, "cannot be negative").
			WithHint("use 0 for an unbuffered queue")
	}
	if err := validation.ValidateNonNegativeDuration("workerpool", "taskTimeout", config.TaskTimeout); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	resultSize := 0
	if config.BufferedResults {
		resultSize = config.WorkerCount
	}

	pool := &workerPool{
		config:      config,
		logger:      config.Logger.Named("workerpool"),
		taskQueue:   make(chan queuedTask, config.QueueSize),
		resultQueue: make(chan Result, resultSize),
		shutdownCh:  make(chan struct{}),
		done:        make(chan struct{}),
	}

	for i := 0; i < config.WorkerCount; i++ {
		pool.workerWg.Add(1)
		go pool.run(i)
	}

	return pool, nil
}
