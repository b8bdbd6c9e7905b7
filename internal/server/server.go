// Package server assembles the gateflow daemon: HTTP gates, the scheduler
// that drives them, and snapshot persistence.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnykmshr/gateflow/internal/config"
	"github.com/vnykmshr/gateflow/internal/httpgate"
	"github.com/vnykmshr/gateflow/pkg/metrics"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/snapshot"
	"github.com/vnykmshr/gateflow/pkg/scheduling/scheduler"
	"github.com/vnykmshr/gateflow/pkg/scheduling/workerpool"
)

const (
	// evictFloor is the shortest idle eviction cadence.
	evictFloor = time.Second

	checkpointRetries = 3
)

// Server is a running gateflow daemon.
type Server struct {
	cfg    *config.Config
	logger hclog.Logger
	clock  bucket.Clock

	promRegistry *prometheus.Registry
	metrics      *metrics.Registry

	tokens *httpgate.TokenGate
	queue  *httpgate.QueueGate
	store  snapshot.Store

	pool  workerpool.Pool
	sched scheduler.Scheduler

	handler http.Handler
	http    *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces the system clock used by the gates.
func WithClock(clock bucket.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithStore replaces the snapshot store selected by the configuration.
func WithStore(store snapshot.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New builds every component described by cfg. Nothing runs until Start.
func New(cfg *config.Config, logger hclog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	upstream, err := newUpstream(cfg.Upstream, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		clock:  bucket.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Metrics.Enabled {
		s.promRegistry = prometheus.NewRegistry()
		s.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metrics.NewRegistryWithConfig(metrics.Config{
			Enabled:   true,
			Registry:  s.promRegistry,
			Namespace: cfg.Metrics.Namespace,
		})
	}

	if s.store == nil {
		store, err := openStore(cfg.Snapshot)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if err := s.buildGates(); err != nil {
		_ = s.closeStore()
		return nil, err
	}

	if err := s.buildScheduler(); err != nil {
		_ = s.closeStore()
		return nil, err
	}

	var metricsHandler http.Handler
	if s.promRegistry != nil {
		metricsHandler = promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})
	}

	s.handler = httpgate.NewRouter(httpgate.RouterConfig{
		Upstream:    upstream,
		TokenGate:   s.tokens,
		QueueGate:   s.queue,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger.Named("http"),
	})

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// TokenGate returns the per-client token gate, or nil when disabled.
func (s *Server) TokenGate() *httpgate.TokenGate {
	return s.tokens
}

// QueueGate returns the request queue, or nil when disabled.
func (s *Server) QueueGate() *httpgate.QueueGate {
	return s.queue
}

// Scheduler returns the scheduler driving the gates.
func (s *Server) Scheduler() scheduler.Scheduler {
	return s.sched
}

// Start schedules the maintenance hooks and starts the scheduler.
func (s *Server) Start() error {
	if err := s.scheduleHooks(); err != nil {
		return err
	}
	return s.sched.Start()
}

// Run starts the daemon and serves HTTP until ctx is done, then shuts down
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Listen)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	timeout := s.cfg.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Shutdown rejects queued requests, stops the HTTP server, writes a final
// checkpoint and stops the scheduler.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.queue != nil {
		if n := s.queue.Close(); n > 0 {
			s.logger.Info("rejected queued requests", "count", n)
		}
	}

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if s.tokens != nil {
		if err := s.tokens.Checkpoint(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
		}
	}

	select {
	case <-s.sched.Stop():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("scheduler stop: %w", ctx.Err()))
	}

	select {
	case <-s.pool.Shutdown():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("worker pool shutdown: %w", ctx.Err()))
	}

	if err := s.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
	}

	s.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (s *Server) buildGates() error {
	if s.cfg.TokenGate.Enabled {
		mode, _ := bucket.ParseRefillMode(s.cfg.TokenGate.Mode)
		tokens, err := httpgate.NewTokenGate(httpgate.TokenGateConfig{
			Capacity:   s.cfg.TokenGate.Capacity,
			FillRate:   s.cfg.TokenGate.FillRate,
			Mode:       mode,
			MaxClients: s.cfg.TokenGate.MaxClients,
			Store:      s.store,
			Clock:      s.clock,
			Logger:     s.logger,
			Metrics:    s.metrics,
		})
		if err != nil {
			return fmt.Errorf("token gate: %w", err)
		}
		s.tokens = tokens
	}

	if s.cfg.QueueGate.Enabled {
		queue, err := httpgate.NewQueueGate(httpgate.QueueGateConfig{
			Capacity: s.cfg.QueueGate.Capacity,
			LeakRate: s.cfg.QueueGate.LeakRate,
			MaxWait:  s.cfg.QueueGate.MaxWait.Duration(),
			Clock:    s.clock,
			Logger:   s.logger,
			Metrics:  s.metrics,
		})
		if err != nil {
			return fmt.Errorf("queue gate: %w", err)
		}
		s.queue = queue
	}

	return nil
}

func (s *Server) buildScheduler() error {
	pool, err := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: s.cfg.Scheduler.Workers,
		QueueSize:   s.cfg.Scheduler.Workers * 16,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	if s.metrics != nil {
		pool = workerpool.Instrument(pool, "scheduler", s.metrics)
	}
	s.pool = pool

	sched, err := scheduler.NewWithConfig(scheduler.Config{
		Name:         "gateflow",
		WorkerPool:   pool,
		TickInterval: s.cfg.Scheduler.TickInterval.Duration(),
		Logger:       s.logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		<-pool.Shutdown()
		return fmt.Errorf("scheduler: %w", err)
	}
	s.sched = sched
	return nil
}

// scheduleHooks registers the refill, drain, eviction and checkpoint tasks.
func (s *Server) scheduleHooks() error {
	floor := s.cfg.Scheduler.MinInterval.Duration()

	if s.tokens != nil && s.tokens.Mode() == bucket.Scheduled {
		task := scheduler.Hook(func() { s.tokens.RefillAll() })
		if err := s.every("token-refill", task, s.cfg.TokenGate.RefillCron,
			scheduler.IntervalFor(s.cfg.TokenGate.FillRate, floor)); err != nil {
			return err
		}
	}

	if s.tokens != nil && s.cfg.TokenGate.IdleTTL > 0 {
		interval := s.cfg.TokenGate.IdleTTL.Duration() / 2
		if interval < evictFloor {
			interval = evictFloor
		}
		ttl := s.cfg.TokenGate.IdleTTL.Duration()
		task := scheduler.Hook(func() { s.tokens.EvictIdle(ttl) })
		if err := s.sched.ScheduleRepeating("token-evict", task, interval); err != nil {
			return err
		}
	}

	if s.queue != nil {
		task := scheduler.Hook(func() { s.queue.Drain() })
		if err := s.every("queue-drain", task, s.cfg.QueueGate.DrainCron,
			scheduler.IntervalFor(s.cfg.QueueGate.LeakRate, floor)); err != nil {
			return err
		}
	}

	if s.tokens != nil && s.store != nil && s.cfg.Snapshot.Interval > 0 {
		interval := s.cfg.Snapshot.Interval.Duration()
		task := scheduler.BackoffTask{
			Task: workerpool.TaskFunc(func(ctx context.Context) error {
				return s.tokens.Checkpoint(ctx)
			}),
			MaxRetries:   checkpointRetries,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     interval / 2,
		}
		if err := s.sched.ScheduleRepeating("snapshot-checkpoint", task, interval); err != nil {
			return err
		}
	}

	return nil
}

// every schedules task on cronExpr when set, otherwise at interval.
func (s *Server) every(id string, task workerpool.Task, cronExpr string, interval time.Duration) error {
	if cronExpr != "" {
		return s.sched.ScheduleCron(id, cronExpr, task)
	}
	s.logger.Debug("scheduling hook", "id", id, "interval", interval)
	return s.sched.ScheduleRepeating(id, task, interval)
}

func (s *Server) closeStore() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func openStore(cfg config.Snapshot) (snapshot.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return snapshot.NewMemoryStore(), nil
	case config.BackendRedis:
		store, err := snapshot.NewRedisStore(snapshot.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       cfg.Redis.TTL.Duration(),
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func newUpstream(target string, logger hclog.Logger) (http.Handler, error) {
	if target == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "admitted"})
		}), nil
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorLog = logger.Named("proxy").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
	return proxy, nil
}
