// Package metrics provides Prometheus instrumentation for gateflow components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Limiter type label values.
const (
	TypeTokenBucket = "token_bucket"
	TypeLeakyBucket = "leaky_bucket"
)

// Registry holds all metric instances for gateflow components.
type Registry struct {
	// Admission Metrics
	AdmissionRequests *prometheus.CounterVec
	AdmissionAllowed  *prometheus.CounterVec
	AdmissionDenied   *prometheus.CounterVec
	TokensAvailable   *prometheus.GaugeVec
	Refills           *prometheus.CounterVec
	QueueLength       *prometheus.GaugeVec
	Drained           *prometheus.CounterVec
	DrainBatchSize    *prometheus.HistogramVec

	// Task Scheduling Metrics
	TasksExecuted         *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec
}

// DefaultRegistry is the default metrics registry used by gateflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring the namespace and constant
// labels in config.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(config.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(config.Labels, reg)
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	factory := promauto.With(reg)
	limiterLabels := []string{"limiter_type", "limiter_name"}

	return &Registry{
		AdmissionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "requests_total",
				Help:      "Total number of admission attempts",
			},
			limiterLabels,
		),

		AdmissionAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "allowed_total",
				Help:      "Total number of admitted requests",
			},
			limiterLabels,
		),

		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "denied_total",
				Help:      "Total number of denied requests",
			},
			limiterLabels,
		),

		TokensAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "tokens_available",
				Help:      "Number of tokens currently available",
			},
			limiterLabels,
		),

		Refills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "refills_total",
				Help:      "Total number of refill hook invocations",
			},
			limiterLabels,
		),

		QueueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "queue_length",
				Help:      "Number of requests waiting in the leaky bucket",
			},
			limiterLabels,
		),

		Drained: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "drained_total",
				Help:      "Total number of requests handed to the processor",
			},
			limiterLabels,
		),

		DrainBatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "drain_batch_size",
				Help:      "Number of requests removed per drain",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			limiterLabels,
		),

		// Task Scheduling Metrics
		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed",
			},
			[]string{"scheduler_name"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that failed",
			},
			[]string{"scheduler_name"},
		),

		TaskExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scheduler_name"},
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Current worker pool size",
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of active workers",
			},
			[]string{"pool_name"},
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of queued tasks",
			},
			[]string{"pool_name"},
		),
	}
}
