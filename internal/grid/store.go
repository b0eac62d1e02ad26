package grid

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store persists RegionData. Get returns ErrRegionNotFound for unknown ids.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (RegionData, error)
	List(ctx context.Context, scope uuid.UUID) ([]RegionData, error)
	Put(ctx context.Context, r RegionData) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	regions map[uuid.UUID]RegionData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{regions: map[uuid.UUID]RegionData{}}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (RegionData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[id]
	if !ok {
		return RegionData{}, ErrRegionNotFound
	}
	return r, nil
}

func (m *MemoryStore) List(_ context.Context, scope uuid.UUID) ([]RegionData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegionData, 0, len(m.regions))
	for _, r := range m.regions {
		if r.ScopeID == scope {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, r RegionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[r.ID] = r
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[id]; !ok {
		return ErrRegionNotFound
	}
	delete(m.regions, id)
	return nil
}
