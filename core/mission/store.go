package mission

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rt-technologie/freightd/core/model"
)

// Store is the opaque persistence boundary for missions. Put performs a
// compare-and-swap on the version: writers pass the version they read and the
// write fails with ErrConflict when another writer got there first.
type Store interface {
	Get(ctx context.Context, id string) (model.Mission, error)
	// Put persists m when the stored version still equals expectedVersion.
	// Creating a mission uses expectedVersion 0 with m.Version >= 1.
	Put(ctx context.Context, m model.Mission, expectedVersion int64) error
	List(ctx context.Context) ([]model.Mission, error)
}

// MemoryStore is an in-memory Store used by tests and single-node setups.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Mission
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]model.Mission{}}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[id]
	if !ok {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, nil
}

func (s *MemoryStore) Put(ctx context.Context, m model.Mission, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[m.ID]
	if !ok {
		if expectedVersion != 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, m.ID)
		}
	} else if cur.Version != expectedVersion {
		return fmt.Errorf("%w: mission %s at version %d, expected %d", ErrConflict, m.ID, cur.Version, expectedVersion)
	}
	s.data[m.ID] = m
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]model.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Mission, 0, len(s.data))
	for _, m := range s.data {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
