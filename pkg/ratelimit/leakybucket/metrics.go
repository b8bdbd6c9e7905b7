package leakybucket

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vnykmshr/gateflow/pkg/metrics"
)

// MetricsBucket wraps a Queue with Prometheus metrics collection.
type MetricsBucket[T any] struct {
	queue    Queue[T]
	name     string
	registry atomic.Pointer[metrics.Registry]
	enabled  atomic.Bool
}

var _ metrics.Instrumentable = (*MetricsBucket[int])(nil)

// NewWithMetrics creates a leaky bucket recording into its own Prometheus
// registry.
func NewWithMetrics[T any](capacity int, leakRate float64, process func(T), name string) (Queue[T], error) {
	return NewWithConfigAndMetrics(Config[T]{
		Capacity: capacity,
		LeakRate: leakRate,
		Process:  process,
	}, name, metrics.Config{
		Enabled:  true,
		Registry: prometheus.NewRegistry(),
	})
}

// NewWithConfigAndMetrics creates a leaky bucket with custom config and
// metrics. When metricsConfig is disabled the bare bucket is returned.
func NewWithConfigAndMetrics[T any](config Config[T], name string, metricsConfig metrics.Config) (Queue[T], error) {
	b, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}

	if !metricsConfig.Enabled {
		return b, nil
	}

	return Instrument[T](b, name, metrics.Resolve(metricsConfig)), nil
}

// Instrument decorates an existing queue, recording into registry.
func Instrument[T any](queue Queue[T], name string, registry *metrics.Registry) *MetricsBucket[T] {
	mb := &MetricsBucket[T]{
		queue: queue,
		name:  name,
	}
	mb.registry.Store(registry)
	mb.enabled.Store(true)
	mb.observeLength()
	return mb
}

// Admit appends req to the queue if it is not full.
func (mb *MetricsBucket[T]) Admit(req T) bool {
	admitted := mb.queue.Admit(req)

	if reg := mb.active(); reg != nil {
		reg.AdmissionRequests.WithLabelValues(metrics.TypeLeakyBucket, mb.name).Inc()
		if admitted {
			reg.AdmissionAllowed.WithLabelValues(metrics.TypeLeakyBucket, mb.name).Inc()
		} else {
			reg.AdmissionDenied.WithLabelValues(metrics.TypeLeakyBucket, mb.name).Inc()
		}
		mb.observeLength()
	}

	return admitted
}

// Drain processes leaked items and records the batch.
func (mb *MetricsBucket[T]) Drain() int {
	return mb.recordDrain(mb.queue.Drain())
}

// Flush processes every queued item and records the batch.
func (mb *MetricsBucket[T]) Flush() int {
	return mb.recordDrain(mb.queue.Flush())
}

// Len returns the number of queued items.
func (mb *MetricsBucket[T]) Len() int {
	return mb.queue.Len()
}

// Capacity returns the maximum number of queued items.
func (mb *MetricsBucket[T]) Capacity() int {
	return mb.queue.Capacity()
}

// LeakRate returns the number of items drained per second.
func (mb *MetricsBucket[T]) LeakRate() float64 {
	return mb.queue.LeakRate()
}

// Available returns the free space in the queue.
func (mb *MetricsBucket[T]) Available() int {
	return mb.queue.Available()
}

// EnableMetrics enables metrics collection.
func (mb *MetricsBucket[T]) EnableMetrics(config metrics.Config) error {
	if config.Registry != nil {
		mb.registry.Store(metrics.NewRegistryWithConfig(config))
	}
	mb.enabled.Store(config.Enabled)
	return nil
}

// DisableMetrics disables metrics collection.
func (mb *MetricsBucket[T]) DisableMetrics() {
	mb.enabled.Store(false)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (mb *MetricsBucket[T]) MetricsEnabled() bool {
	return mb.enabled.Load()
}

func (mb *MetricsBucket[T]) recordDrain(n int) int {
	if reg := mb.active(); reg != nil {
		reg.Drained.WithLabelValues(metrics.TypeLeakyBucket, mb.name).Add(float64(n))
		reg.DrainBatchSize.WithLabelValues(metrics.TypeLeakyBucket, mb.name).Observe(float64(n))
		mb.observeLength()
	}
	return n
}

func (mb *MetricsBucket[T]) active() *metrics.Registry {
	if !mb.enabled.Load() {
		return nil
	}
	return mb.registry.Load()
}

func (mb *MetricsBucket[T]) observeLength() {
	if reg := mb.active(); reg != nil {
		reg.QueueLength.WithLabelValues(metrics.TypeLeakyBucket, mb.name).Set(float64(mb.queue.Len()))
	}
}
