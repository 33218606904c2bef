// Package store persists the user's threshold configuration in a local
// key-value store so it survives restarts. Nothing else is persisted.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sweeney/coldwatch/internal/logic"
)

// Key is the key under which thresholds are stored.
const Key = "sensorThresholds"

// Store loads and saves thresholds.
type Store interface {
	// Load returns the saved thresholds. found is false if nothing was saved yet.
	Load(ctx context.Context) (t logic.Thresholds, found bool, err error)
	// Save replaces the saved thresholds.
	Save(ctx context.Context, t logic.Thresholds) error
}

// LoadOrDefault returns the saved thresholds, or the defaults when nothing
// was saved or the stored value cannot be read.
func LoadOrDefault(ctx context.Context, s Store) logic.Thresholds {
	t, found, err := s.Load(ctx)
	if err != nil || !found {
		return logic.DefaultThresholds
	}
	return t
}

func decode(data []byte) (logic.Thresholds, error) {
	var t logic.Thresholds
	if err := json.Unmarshal(data, &t); err != nil {
		return logic.Thresholds{}, fmt.Errorf("decode thresholds: %w", err)
	}
	return t, nil
}

// MemoryStore keeps thresholds in memory. Used in tests and when no
// backend is configured.
type MemoryStore struct {
	mu    sync.Mutex
	t     logic.Thresholds
	found bool
	// SaveError, if set, is returned by Save.
	SaveError error
	saves     int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved thresholds.
func (m *MemoryStore) Load(ctx context.Context) (logic.Thresholds, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, m.found, nil
}

// Save records t.
func (m *MemoryStore) Save(ctx context.Context, t logic.Thresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return m.SaveError
	}
	m.t = t
	m.found = true
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
