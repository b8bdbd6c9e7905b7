// Package snapshot persists token bucket state so a restarted process resumes
// with the credit it had instead of a full bucket.
package snapshot

import (
	"context"
	"errors"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
)

// Store saves and loads bucket state by key.
type Store interface {
	// Save writes s under key, replacing any previous value.
	Save(ctx context.Context, key string, s bucket.State) error

	// Load returns the state saved under key. It returns an error wrapping
	// errors.ErrNotFound when nothing is stored.
	Load(ctx context.Context, key string) (bucket.State, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}

// Checkpoint saves the current state of limiter under key.
func Checkpoint(ctx context.Context, store Store, key string, limiter bucket.Limiter) error {
	return store.Save(ctx, key, limiter.Snapshot())
}

// Resume restores limiter from the state saved under key. It reports false
// without error when nothing was saved.
func Resume(ctx context.Context, store Store, key string, limiter bucket.Limiter) (bool, error) {
	s, err := store.Load(ctx, key)
	if errors.Is(err, gferrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	limiter.Restore(s)
	return true, nil
}
