package snapshot

import (
	"context"
	"sync"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
	"github.com/vnykmshr/gateflow/pkg/ratelimit/bucket"
)

// MemoryStore keeps states in process memory. It survives limiter
// replacement but not process restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]bucket.State
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]bucket.State)}
}

// Save stores s under key.
func (m *MemoryStore) Save(_ context.Context, key string, s bucket.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = s
	return nil
}

// Load returns the state stored under key.
func (m *MemoryStore) Load(_ context.Context, key string) (bucket.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[key]
	if !ok {
		return bucket.State{}, gferrors.NewOperationError("snapshot", "load", gferrors.ErrNotFound).WithContext(key)
	}
	return s, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
