package httpgate

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
)

// RouterConfig assembles the daemon's HTTP surface.
type RouterConfig struct {
	// Upstream serves every gated request. Required.
	Upstream http.Handler

	// TokenGate and QueueGate are applied in that order when set.
	TokenGate *TokenGate
	QueueGate *QueueGate

	// Metrics, if set, is mounted at MetricsPath outside the gates.
	Metrics     http.Handler
	MetricsPath string

	Logger hclog.Logger
}

// Health is the body served on /healthz.
type Health struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	Queued        int    `json:"queued"`
	QueueCapacity int    `json:"queue_capacity"`
}

// NewRouter returns a chi router with /healthz and the metrics endpoint
// served directly and everything else passed through the configured gates.
func NewRouter(config RouterConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h := Health{Status: "ok"}
		if config.TokenGate != nil {
			h.Clients = config.TokenGate.Clients()
		}
		if config.QueueGate != nil {
			h.Queued = config.QueueGate.Len()
			h.QueueCapacity = config.QueueGate.Capacity()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h)
	})

	if config.Metrics != nil {
		path := config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, config.Metrics)
	}

	r.Group(func(r chi.Router) {
		if config.TokenGate != nil {
			r.Use(config.TokenGate.Middleware)
		}
		if config.QueueGate != nil {
			r.Use(config.QueueGate.Middleware)
		}
		r.Handle("/*", config.Upstream)
	})

	return r
}

func requestLogger(logger hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
