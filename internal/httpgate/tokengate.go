package httpgate

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/metrics"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/keyed"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/snapshot"
)

// resumeTimeout bounds the snapshot lookup made for a client seen for the
// first time.
const resumeTimeout = 500 * time.Millisecond

// TokenGateConfig configures a TokenGate.
type TokenGateConfig struct {
	// Name labels the gate in logs and metrics. Defaults to "token_gate".
	Name string

	// Capacity and FillRate configure every client's bucket.
	Capacity int
	FillRate float64

	// Mode selects lazy or scheduled replenishment. In Scheduled mode
	// something must call RefillAll on a cadence.
	Mode bucket.RefillMode

	// MaxClients caps the number of tracked clients. Zero means no cap.
	MaxClients int

	// KeyFunc derives the client key. Defaults to ClientIP.
	KeyFunc KeyFunc

	// Store, if set, seeds new clients from their last checkpoint and
	// receives checkpoints from Checkpoint.
	Store snapshot.Store

	Clock   bucket.Clock
	Logger  hclog.Logger
	Metrics *metrics.Registry
}

// TokenGate rejects requests from clients that have exhausted their token
// bucket with 429 Too Many Requests.
type TokenGate struct {
	name       string
	mode       bucket.RefillMode
	clients    *keyed.Group[string, bucket.Limiter]
	keyFunc    KeyFunc
	store      snapshot.Store
	logger     hclog.Logger
	retryAfter string
	refillSpan time.Duration
}

// NewTokenGate creates a TokenGate. Bucket parameters are validated up front
// so a bad configuration fails here rather than on the first request.
func NewTokenGate(config TokenGateConfig) (*TokenGate, error) {
	if config.Name == "" {
		config.Name = "token_gate"
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIP
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	bucketConfig := bucket.Config{
		Capacity:      config.Capacity,
		FillRate:      config.FillRate,
		Mode:          config.Mode,
		Clock:         config.Clock,
		InitialTokens: -1,
	}
	sample, err := bucket.NewWithConfig(bucketConfig)
	if err != nil {
		return nil, err
	}

	g := &TokenGate{
		name:       config.Name,
		mode:       sample.Mode(),
		keyFunc:    config.KeyFunc,
		store:      config.Store,
		logger:     config.Logger.Named(config.Name),
		retryAfter: retryAfterSeconds(config.FillRate),
		refillSpan: RefillSpan(config.Capacity, config.FillRate),
	}

	factory := func(key string) (bucket.Limiter, error) {
		limiter, err := bucket.NewWithConfig(bucketConfig)
		if err != nil {
			return nil, err
		}
		g.resume(key, limiter)
		if config.Metrics != nil {
			return bucket.Instrument(limiter, config.Name, config.Metrics), nil
		}
		return limiter, nil
	}

	clients, err := keyed.NewWithConfig(keyed.Config[string, bucket.Limiter]{
		Factory: factory,
		MaxKeys: config.MaxClients,
		Clock:   config.Clock,
	})
	if err != nil {
		return nil, err
	}
	g.clients = clients

	return g, nil
}

// Middleware admits each request against its client's bucket.
func (g *TokenGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := g.keyFunc(r)

		limiter, err := g.clients.Get(key)
		if err != nil {
			if errors.Is(err, gferrors.ErrCapacityExceeded) {
				g.logger.Warn("client table full", "client", key)
				writeRejection(w, http.StatusServiceUnavailable, g.retryAfter, "too many clients")
				return
			}
			g.logger.Error("failed to create client limiter", "client", key, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if !limiter.TryAdmit() {
			g.logger.Debug("request rate limited", "client", key)
			writeRejection(w, http.StatusTooManyRequests, g.retryAfter, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RefillAll refills every tracked client's bucket and returns how many were
// refilled.
func (g *TokenGate) RefillAll() int {
	n := 0
	g.clients.Range(func(_ string, limiter bucket.Limiter) bool {
		limiter.Refill()
		n++
		return true
	})
	return n
}

// EvictIdle forgets clients not seen within idle. Clients are kept at least
// as long as a drained bucket takes to refill, so an evicted client never
// comes back with more tokens than it would have had.
func (g *TokenGate) EvictIdle(idle time.Duration) int {
	if idle < g.refillSpan {
		idle = g.refillSpan
	}
	n := g.clients.EvictIdle(idle)
	if n > 0 {
		g.logger.Debug("evicted idle clients", "count", n)
	}
	return n
}

// RefillSpan returns how long a bucket of capacity tokens takes to refill
// from empty at fillRate tokens per second.
func RefillSpan(capacity int, fillRate float64) time.Duration {
	nanos := float64(capacity) / fillRate * float64(time.Second)
	if math.IsNaN(nanos) || nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Ceil(nanos))
}

// Mode returns the replenishment mode shared by every client bucket.
func (g *TokenGate) Mode() bucket.RefillMode {
	return g.mode
}

// Clients returns the number of tracked clients.
func (g *TokenGate) Clients() int {
	return g.clients.Len()
}

// Limiter returns the bucket tracked for key, creating it if needed.
func (g *TokenGate) Limiter(key string) (bucket.Limiter, error) {
	return g.clients.Get(key)
}

// Checkpoint saves every tracked client's bucket to the store. It keeps
// going past individual failures and returns them joined.
func (g *TokenGate) Checkpoint(ctx context.Context) error {
	if g.store == nil {
		return nil
	}

	var errs []error
	saved := 0
	g.clients.Range(func(key string, limiter bucket.Limiter) bool {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return false
		}
		if err := snapshot.Checkpoint(ctx, g.store, key, limiter); err != nil {
			errs = append(errs, err)
			return true
		}
		saved++
		return true
	})

	g.logger.Debug("checkpoint complete", "saved", saved, "failed", len(errs))
	return errors.Join(errs...)
}

func (g *TokenGate) resume(key string, limiter bucket.Limiter) {
	if g.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()

	ok, err := snapshot.Resume(ctx, g.store, key, limiter)
	switch {
	case err != nil:
		g.logger.Warn("failed to resume client bucket", "client", key, "error", err)
	case ok:
		g.logger.Trace("resumed client bucket", "client", key, "tokens", limiter.Tokens())
	}
}
