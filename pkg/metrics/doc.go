// Package metrics provides Prometheus instrumentation for gateflow components.
//
// # Quick Start
//
// Wrap a limiter with its metrics decorator and expose the registry:
//
//	reg := prometheus.NewRegistry()
//	cfg := metrics.Config{Enabled: true, Registry: reg}
//
//	limiter, _ := bucket.NewWithConfigAndMetrics(bucket.Config{Capacity: 20, FillRate: 10}, "api", cfg)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
// ## Admission Metrics
//
//   - gateflow_admission_requests_total: Total number of admission attempts
//   - gateflow_admission_allowed_total: Total number of admitted requests
//   - gateflow_admission_denied_total: Total number of denied requests
//   - gateflow_admission_tokens_available: Tokens left in a token bucket
//   - gateflow_admission_refills_total: Refill hook invocations
//   - gateflow_admission_queue_length: Requests waiting in a leaky bucket
//   - gateflow_admission_drained_total: Requests handed to the processor
//   - gateflow_admission_drain_batch_size: Requests removed per drain
//
// ## Task Scheduling Metrics
//
//   - gateflow_scheduler_tasks_executed_total
//   - gateflow_scheduler_tasks_failed_total
//   - gateflow_scheduler_task_duration_seconds
//   - gateflow_workerpool_size, gateflow_workerpool_active_workers, gateflow_workerpool_queued_tasks
//
// # Labels
//
//   - limiter_type: "token_bucket" or "leaky_bucket"
//   - limiter_name: User-provided name for the limiter instance
//   - scheduler_name: User-provided name for the scheduler instance
//   - pool_name: User-provided name for the worker pool instance
//
// # Runtime Control
//
// Decorators implement Instrumentable:
//
//	ml.DisableMetrics()
//	ml.EnableMetrics(cfg)
//	enabled := ml.MetricsEnabled()
package metrics
