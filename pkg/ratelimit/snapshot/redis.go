package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
)

// DefaultKeyPrefix namespaces snapshot keys in Redis.
const DefaultKeyPrefix = "gateflow:snapshot:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string        // Redis address, e.g. "localhost:6379"
	Password string        // Empty for no auth
	DB       int           // Redis database number
	TTL      time.Duration // Expiry of saved states; 0 keeps them forever
	Timeout  time.Duration // Per-call timeout; defaults to 2s

	// KeyPrefix is prepended to every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Client, if set, is used instead of dialing Addr.
	Client redis.UniversalClient
}

// RedisStore keeps states in Redis as JSON strings.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore from config. It does not contact Redis;
// call Ping to verify connectivity.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.TTL < 0 {
		return nil, gferrors.NewValidationError("snapshot", "ttl", config.TTL, "cannot be negative").
			WithHint("use 0 to keep states forever")
	}

	client := config.Client
	if client == nil {
		if config.Addr == "" {
			return nil, gferrors.NewValidationError("snapshot", "addr", config.Addr, "cannot be empty").
				WithHint("set the Redis address or pass a Client")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &RedisStore{
		client:  client,
		prefix:  prefix,
		ttl:     config.TTL,
		timeout: timeout,
	}, nil
}

// Save stores s under key with the configured TTL.
func (r *RedisStore) Save(ctx context.Context, key string, s bucket.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return gferrors.NewOperationError("snapshot", "save", err).WithContext(key)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return gferrors.NewOperationError("snapshot", "save", wrapTimeout(err)).WithContext(key)
	}
	return nil
}

// Load returns the state stored under key.
func (r *RedisStore) Load(ctx context.Context, key string) (bucket.State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return bucket.State{}, gferrors.NewOperationError("snapshot", "load", gferrors.ErrNotFound).WithContext(key)
	}
	if err != nil {
		return bucket.State{}, gferrors.NewOperationError("snapshot", "load", wrapTimeout(err)).WithContext(key)
	}

	var s bucket.State
	if err := json.Unmarshal(data, &s); err != nil {
		return bucket.State{}, gferrors.NewOperationError("snapshot", "load", err).WithContext(key)
	}
	return s, nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return gferrors.NewOperationError("snapshot", "delete", wrapTimeout(err)).WithContext(key)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return gferrors.NewOperationError("snapshot", "ping", wrapTimeout(err))
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// wrapTimeout maps context deadlines onto errors.ErrTimeout so callers can
// treat them as retryable.
func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(gferrors.ErrTimeout, err)
	}
	return err
}
