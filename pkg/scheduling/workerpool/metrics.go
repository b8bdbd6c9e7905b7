package workerpool

import (
	"context"
	"sync/atomic"

	"github.com/vnykmshr/gateflow/pkg/metrics"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
type MetricsPool struct {
	pool     Pool
	name     string
	registry atomic.Pointer[metrics.Registry]
	enabled  atomic.Bool
}

var _ metrics.Instrumentable = (*MetricsPool)(nil)

// NewWithConfigAndMetrics creates a new worker pool with custom config and
// metrics. When metricsConfig is disabled the bare pool is returned.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) (Pool, error) {
	basePool, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}

	if !metricsConfig.Enabled {
		return basePool, nil
	}

	return Instrument(basePool, name, metrics.Resolve(metricsConfig)), nil
}

// Instrument decorates an existing pool, recording into registry.
func Instrument(pool Pool, name string, registry *metrics.Registry) *MetricsPool {
	mp := &MetricsPool{
		pool: pool,
		name: name,
	}
	mp.registry.Store(registry)
	mp.enabled.Store(true)
	mp.updateMetrics()
	return mp
}

// updateMetrics updates the current state gauges.
func (mp *MetricsPool) updateMetrics() {
	reg := mp.active()
	if reg == nil {
		return
	}

	reg.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.pool.Size()))
	reg.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.pool.ActiveWorkers()))
	reg.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.pool.QueueSize()))
}

// Submit adds a task to the pool for execution.
func (mp *MetricsPool) Submit(task Task) error {
	return mp.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext submits a task with a context for cancellation.
func (mp *MetricsPool) SubmitWithContext(ctx context.Context, task Task) error {
	if task == nil {
		return mp.pool.SubmitWithContext(ctx, task)
	}

	err := mp.pool.SubmitWithContext(ctx, &metricsTask{original: task, pool: mp})
	mp.updateMetrics()
	return err
}

// metricsTask refreshes the pool gauges around the original task.
type metricsTask struct {
	original Task
	pool     *MetricsPool
}

// Execute runs the original task and records metrics.
func (mt *metricsTask) Execute(ctx context.Context) error {
	mt.pool.updateMetrics()
	err := mt.original.Execute(ctx)
	mt.pool.updateMetrics()
	return err
}

// Results returns a channel of task results.
func (mp *MetricsPool) Results() <-chan Result {
	return mp.pool.Results()
}

// Shutdown initiates graceful shutdown of the pool.
func (mp *MetricsPool) Shutdown() <-chan struct{} {
	return mp.pool.Shutdown()
}

// Size returns the current number of workers.
func (mp *MetricsPool) Size() int {
	return mp.pool.Size()
}

// QueueSize returns the current number of queued tasks.
func (mp *MetricsPool) QueueSize() int {
	return mp.pool.QueueSize()
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (mp *MetricsPool) ActiveWorkers() int {
	return mp.pool.ActiveWorkers()
}

// TotalSubmitted returns the total number of tasks submitted.
func (mp *MetricsPool) TotalSubmitted() int64 {
	return mp.pool.TotalSubmitted()
}

// TotalCompleted returns the total number of tasks completed.
func (mp *MetricsPool) TotalCompleted() int64 {
	return mp.pool.TotalCompleted()
}

// EnableMetrics enables metrics collection.
func (mp *MetricsPool) EnableMetrics(config metrics.Config) error {
	if config.Registry != nil {
		mp.registry.Store(metrics.NewRegistryWithConfig(config))
	}
	mp.enabled.Store(config.Enabled)
	mp.updateMetrics()
	return nil
}

// DisableMetrics disables metrics collection.
func (mp *MetricsPool) DisableMetrics() {
	mp.enabled.Store(false)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (mp *MetricsPool) MetricsEnabled() bool {
	return mp.enabled.Load()
}

func (mp *MetricsPool) active() *metrics.Registry {
	if !mp.enabled.Load() {
		return nil
	}
	return mp.registry.Load()
}
