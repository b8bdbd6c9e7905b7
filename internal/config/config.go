// Package config loads the gateflow daemon configuration from YAML, .env
// files and GATEFLOW_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vnykmshr/gateflow/pkg/common/validation"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/gateflow/pkg/scheduling/scheduler"
	"gopkg.in/yaml.v3"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
)

// Snapshot backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete daemon configuration.
type Config struct {
	Listen          string    `yaml:"listen"`
	Upstream        string    `yaml:"upstream"`
	ShutdownTimeout Duration  `yaml:"shutdown_timeout"`
	Log             Log       `yaml:"log"`
	Metrics         Metrics   `yaml:"metrics"`
	Scheduler       Scheduler `yaml:"scheduler"`
	TokenGate       TokenGate `yaml:"token_gate"`
	QueueGate       QueueGate `yaml:"queue_gate"`
	Snapshot        Snapshot  `yaml:"snapshot"`
}

// Log configures the hclog logger.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Metrics configures Prometheus exposition.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Scheduler configures the background actor driving refills and drains.
type Scheduler struct {
	TickInterval Duration `yaml:"tick_interval"`
	Workers      int      `yaml:"workers"`
	MinInterval  Duration `yaml:"min_interval"`
}

// TokenGate configures per-client token buckets.
type TokenGate struct {
	Enabled    bool     `yaml:"enabled"`
	Capacity   int      `yaml:"capacity"`
	FillRate   float64  `yaml:"fill_rate"`
	Mode       string   `yaml:"mode"`
	RefillCron string   `yaml:"refill_cron"`
	IdleTTL    Duration `yaml:"idle_ttl"`
	MaxClients int      `yaml:"max_clients"`
}

// QueueGate configures the shared leaky bucket of pending requests.
type QueueGate struct {
	Enabled   bool     `yaml:"enabled"`
	Capacity  int      `yaml:"capacity"`
	LeakRate  float64  `yaml:"leak_rate"`
	DrainCron string   `yaml:"drain_cron"`
	MaxWait   Duration `yaml:"max_wait"`
}

// Snapshot configures token state persistence across restarts.
type Snapshot struct {
	Backend  string   `yaml:"backend"`
	Interval Duration `yaml:"interval"`
	Redis    Redis    `yaml:"redis"`
}

// Redis configures the Redis snapshot backend.
type Redis struct {
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	TTL       Duration `yaml:"ttl"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		ShutdownTimeout: Duration(10 * time.Second),
		Log: Log{
			Level: "info",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "gateflow",
			Path:      "/metrics",
		},
		Scheduler: Scheduler{
			TickInterval: Duration(10 * time.Millisecond),
			Workers:      4,
			MinInterval:  Duration(10 * time.Millisecond),
		},
		TokenGate: TokenGate{
			Enabled:    true,
			Capacity:   20,
			FillRate:   10,
			Mode:       "lazy",
			IdleTTL:    Duration(10 * time.Minute),
			MaxClients: 10000,
		},
		QueueGate: QueueGate{
			Enabled:  true,
			Capacity: 100,
			LeakRate: 50,
			MaxWait:  Duration(30 * time.Second),
		},
		Snapshot: Snapshot{
			Backend:  BackendNone,
			Interval: Duration(30 * time.Second),
			Redis: Redis{
				Addr: "localhost:6379",
				TTL:  Duration(24 * time.Hour),
			},
		},
	}
}

// Load builds a configuration from the defaults, the YAML file at path (if
// not empty) and GATEFLOW_* environment variables, in that order, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode reads YAML from r over the current values. ${VAR} and
// ${VAR:-default} references are expanded first; unknown keys are rejected.
func (c *Config) decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(validation.ValidateNotEmpty("config", "listen", c.Listen))
	check(validation.ValidateNonNegativeDuration("config", "shutdown_timeout", c.ShutdownTimeout.Duration()))

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		check(gferrors.NewValidationError("config", "log.level", c.Log.Level, "unknown level").
			WithHint("use trace, debug, info, warn, error or off"))
	}

	check(validation.ValidatePositive("config", "scheduler.workers", c.Scheduler.Workers))
	if c.Scheduler.TickInterval <= 0 {
		check(gferrors.NewValidationError("config", "scheduler.tick_interval", c.Scheduler.TickInterval, "must be positive"))
	}
	check(validation.ValidateNonNegativeDuration("config", "scheduler.min_interval", c.Scheduler.MinInterval.Duration()))

	if c.TokenGate.Enabled {
		check(validation.ValidatePositive("config", "token_gate.capacity", c.TokenGate.Capacity))
		check(validation.ValidateFiniteRate("config", "token_gate.fill_rate", c.TokenGate.FillRate))
		if _, ok := bucket.ParseRefillMode(c.TokenGate.Mode); !ok {
			check(gferrors.NewValidationError("config", "token_gate.mode", c.TokenGate.Mode, "unknown mode").
				WithHint("use lazy or scheduled"))
		}
		if c.TokenGate.RefillCron != "" {
			if _, err := scheduler.ParseCron(c.TokenGate.RefillCron); err != nil {
				check(err)
			}
		}
		check(validation.ValidateNonNegativeDuration("config", "token_gate.idle_ttl", c.TokenGate.IdleTTL.Duration()))
		if c.TokenGate.IdleTTL > 0 && c.TokenGate.Capacity > 0 && c.TokenGate.FillRate > 0 {
			refill := float64(c.TokenGate.Capacity) / c.TokenGate.FillRate
			if c.TokenGate.IdleTTL.Duration().Seconds() < refill {
				check(gferrors.NewValidationError("config", "token_gate.idle_ttl", c.TokenGate.IdleTTL,
					"shorter than the time a drained bucket takes to refill").
					WithHint(fmt.Sprintf("use 0 to disable eviction or at least %s (capacity / fill_rate)",
						time.Duration(refill*float64(time.Second)))))
			}
		}
		if c.TokenGate.MaxClients < 0 {
			check(gferrors.NewValidationError("config", "token_gate.max_clients", c.TokenGate.MaxClients, "cannot be negative"))
		}
	}

	if c.QueueGate.Enabled {
		check(validation.ValidatePositive("config", "queue_gate.capacity", c.QueueGate.Capacity))
		check(validation.ValidateFiniteRate("config", "queue_gate.leak_rate", c.QueueGate.LeakRate))
		if c.QueueGate.DrainCron != "" {
			if _, err := scheduler.ParseCron(c.QueueGate.DrainCron); err != nil {
				check(err)
			}
		}
		check(validation.ValidateNonNegativeDuration("config", "queue_gate.max_wait", c.QueueGate.MaxWait.Duration()))
	}

	switch c.Snapshot.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		check(validation.ValidateNotEmpty("config", "snapshot.redis.addr", c.Snapshot.Redis.Addr))
		check(validation.ValidateNonNegativeDuration("config", "snapshot.redis.ttl", c.Snapshot.Redis.TTL.Duration()))
	default:
		check(gferrors.NewValidationError("config", "snapshot.backend", c.Snapshot.Backend, "unknown backend").
			WithHint("use none, memory or redis"))
	}
	check(validation.ValidateNonNegativeDuration("config", "snapshot.interval", c.Snapshot.Interval.Duration()))

	return errors.Join(errs...)
}
