package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEFLOW_"

// LoadEnvFiles loads .env.local and then .env from the working directory.
// Variables already set in the environment win, and missing files are
// ignored.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ExpandEnv replaces ${VAR}, ${VAR:-default} and $VAR in s with values from
// the environment.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	return os.Expand(s, func(name string) string {
		if key, def, ok := strings.Cut(name, ":-"); ok {
			if val := os.Getenv(key); val != "" {
				return val
			}
			return def
		}
		return os.Getenv(name)
	})
}

// applyEnv overlays GATEFLOW_* variables found through lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("LISTEN", &c.Listen)
	str("UPSTREAM", &c.Upstream)
	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_JSON", &c.Log.JSON)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	boolean("TOKEN_ENABLED", &c.TokenGate.Enabled)
	integer("TOKEN_CAPACITY", &c.TokenGate.Capacity)
	float("TOKEN_FILL_RATE", &c.TokenGate.FillRate)
	str("TOKEN_MODE", &c.TokenGate.Mode)

	boolean("QUEUE_ENABLED", &c.QueueGate.Enabled)
	integer("QUEUE_CAPACITY", &c.QueueGate.Capacity)
	float("QUEUE_LEAK_RATE", &c.QueueGate.LeakRate)
	duration("QUEUE_MAX_WAIT", &c.QueueGate.MaxWait)

	str("SNAPSHOT_BACKEND", &c.Snapshot.Backend)
	str("REDIS_ADDR", &c.Snapshot.Redis.Addr)
	str("REDIS_PASSWORD", &c.Snapshot.Redis.Password)
	integer("REDIS_DB", &c.Snapshot.Redis.DB)

	return errors.Join(errs...)
}
