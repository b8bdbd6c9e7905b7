package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/metrics"
	"github.com/vnykmshr/gateflow/pkg/scheduling/workerpool"
)

// maxIDLength bounds task identifiers.
const maxIDLength = 255

// Task describes a scheduled task.
type Task struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration // Zero for one-time and cron tasks
	Cron     string        // Empty unless scheduled with ScheduleCron
	Created  time.Time
}

// Scheduler runs tasks at fixed times, fixed intervals, or on a cron
// schedule. Due tasks are handed to a worker pool.
type Scheduler interface {
	// Basic scheduling
	Schedule(id string, task workerpool.Task, runAt time.Time) error
	ScheduleAfter(id string, task workerpool.Task, delay time.Duration) error
	ScheduleRepeating(id string, task workerpool.Task, interval time.Duration) error

	// Cron scheduling
	ScheduleCron(id string, cronExpr string, task workerpool.Task) error

	// Task management
	Cancel(id string) bool
	CancelAll()
	List() []Task

	// Lifecycle
	Start() error
	Stop() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	// Name labels the scheduler in logs and metrics. Defaults to "default".
	Name string

	// WorkerPool executes due tasks. If nil, the scheduler owns a pool of
	// 4 workers and shuts it down on Stop.
	WorkerPool workerpool.Pool

	// Location is the time zone for cron expressions. Defaults to time.Local.
	Location *time.Location

	// TickInterval is how often due tasks are collected. Defaults to 10ms.
	TickInterval time.Duration

	// MaxTasks caps the number of scheduled tasks. Defaults to 10000.
	MaxTasks int

	// Logger receives scheduling diagnostics. Defaults to a null logger.
	Logger hclog.Logger

	// Metrics, if set, records task executions, failures and durations.
	Metrics *metrics.Registry
}

type scheduledTask struct {
	id           string
	task         workerpool.Task
	runAt        time.Time
	interval     time.Duration
	cronExpr     string
	cronSchedule cron.Schedule
	created      time.Time
}

type scheduler struct {
	name         string
	pool         workerpool.Pool
	ownPool      bool
	location     *time.Location
	tickInterval time.Duration
	maxTasks     int
	logger       hclog.Logger
	metrics      *metrics.Registry

	mu      sync.RWMutex
	tasks   map[string]*scheduledTask
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// New creates a scheduler with default configuration.
func New() (Scheduler, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) (Scheduler, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	pool := cfg.WorkerPool
	ownPool := false
	if pool == nil {
		var err error
		pool, err = workerpool.NewWithConfig(workerpool.Config{
			WorkerCount: 4,
			QueueSize:   100,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		ownPool = true
	}

	name := cfg.Name
	if name == "" {
		name = "default"
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = 10 * time.Millisecond
	}

	maxTasks := cfg.MaxTasks
	if maxTasks == 0 {
		maxTasks = 10000
	}

	return &scheduler{
		name:         name,
		pool:         pool,
		ownPool:      ownPool,
		location:     location,
		tickInterval: tickInterval,
		maxTasks:     maxTasks,
		logger:       logger.Named("scheduler").With("scheduler", name),
		metrics:      cfg.Metrics,
		tasks:        make(map[string]*scheduledTask),
	}, nil
}

func validateConfig(cfg Config) error {
	if cfg.TickInterval < 0 {
		return gferrors.NewValidationError("scheduler", "tickInterval", cfg.TickInterval, "cannot be negative")
	}
	if cfg.MaxTasks < 0 {
		return gferrors.NewValidationError("scheduler", "maxTasks", cfg.MaxTasks, "cannot be negative")
	}
	return nil
}

func (s *scheduler) Schedule(id string, task workerpool.Task, runAt time.Time) error {
	if err := checkTask(id, task); err != nil {
		return err
	}
	if runAt.IsZero() {
		return gferrors.NewValidationError("scheduler", "runAt", runAt, "cannot be zero")
	}

	return s.add(&scheduledTask{
		id:      id,
		task:    task,
		runAt:   runAt,
		created: time.Now(),
	})
}

func (s *scheduler) ScheduleAfter(id string, task workerpool.Task, delay time.Duration) error {
	return s.Schedule(id, task, time.Now().Add(delay))
}

func (s *scheduler) ScheduleRepeating(id string, task workerpool.Task, interval time.Duration) error {
	if err := checkTask(id, task); err != nil {
		return err
	}
	if interval <= 0 {
		return gferrors.NewValidationError("scheduler", "interval", interval, "must be positive")
	}

	now := time.Now()
	return s.add(&scheduledTask{
		id:       id,
		task:     task,
		runAt:    now,
		interval: interval,
		created:  now,
	})
}

func (s *scheduler) ScheduleCron(id string, cronExpr string, task workerpool.Task) error {
	if err := checkTask(id, task); err != nil {
		return err
	}

	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}

	return s.add(&scheduledTask{
		id:           id,
		task:         task,
		runAt:        schedule.Next(time.Now().In(s.location)),
		cronExpr:     cronExpr,
		cronSchedule: schedule,
		created:      time.Now(),
	})
}

func (s *scheduler) add(t *scheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.id]; exists {
		return fmt.Errorf("task with ID %q already exists, use a different ID or cancel the existing task first", t.id)
	}
	if len(s.tasks) >= s.maxTasks {
		return fmt.Errorf("cannot schedule task: maximum number of tasks (%d) reached: %w", s.maxTasks, gferrors.ErrCapacityExceeded)
	}

	s.tasks[t.id] = t
	s.logger.Debug("task scheduled", "id", t.id, "run_at", t.runAt, "interval", t.interval, "cron", t.cronExpr)
	return nil
}

func checkTask(id string, task workerpool.Task) error {
	if id == "" {
		return gferrors.NewValidationError("scheduler", "id", id, "cannot be empty")
	}
	if len(id) > maxIDLength {
		return gferrors.NewValidationError("scheduler", "id", len(id), "too long").
			WithHint(fmt.Sprintf("use at most %d characters", maxIDLength))
	}
	if task == nil {
		return gferrors.NewValidationError("scheduler", "task", nil, "cannot be nil")
	}
	return nil
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		delete(s.tasks, id)
		return true
	}
	return false
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*scheduledTask)
}

func (s *scheduler) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, Task{
			ID:       t.id,
			RunAt:    t.runAt,
			Interval: t.interval,
			Cron:     t.cronExpr,
			Created:  t.created,
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].RunAt.Equal(tasks[j].RunAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})

	return tasks
}

func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running, call Stop() first")
	}

	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(s.done, s.stopped)
	s.logger.Info("scheduler started", "tick", s.tickInterval)
	return nil
}

func (s *scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	loopStopped := s.stopped
	if s.running {
		s.running = false
		close(s.done)
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if loopStopped != nil {
			<-loopStopped
		}
		if s.ownPool {
			<-s.pool.Shutdown()
		}
		s.logger.Info("scheduler stopped")
	}()

	return stopped
}

func (s *scheduler) run(done <-chan struct{}, stopped chan<- struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer func() {
		ticker.Stop()
		close(stopped)
	}()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s.processReadyTasks(now)
		}
	}
}

func (s *scheduler) processReadyTasks(now time.Time) {
	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return
	}

	readyTasks := make([]*scheduledTask, 0, len(s.tasks))
	for id, task := range s.tasks {
		if task.runAt.After(now) {
			continue
		}
		readyTasks = append(readyTasks, task)

		switch {
		case task.interval > 0:
			task.runAt = now.Add(task.interval)
		case task.cronSchedule != nil:
			task.runAt = task.cronSchedule.Next(now.In(s.location))
		default:
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	for _, task := range readyTasks {
		if err := s.pool.Submit(s.instrument(task)); err != nil {
			s.logger.Warn("task submission failed", "id", task.id, "error", err)
		}
	}
}

// instrument wraps a due task with failure logging and, when configured,
// execution metrics.
func (s *scheduler) instrument(t *scheduledTask) workerpool.Task {
	return workerpool.TaskFunc(func(ctx context.Context) error {
		start := time.Now()
		err := t.task.Execute(ctx)

		if err != nil {
			s.logger.Warn("task failed", "id", t.id, "error", err)
		}
		if s.metrics != nil {
			s.metrics.TasksExecuted.WithLabelValues(s.name).Inc()
			s.metrics.TaskExecutionDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
			if err != nil {
				s.metrics.TasksFailed.WithLabelValues(s.name).Inc()
			}
		}
		return err
	})
}
