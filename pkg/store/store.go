// Package store persists result bundles so they can be fetched after a run.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/systemstart/showrunner/pkg/api"
)

// Store keeps result bundles by run id.
type Store interface {
	Save(ctx context.Context, bundle *api.ResultBundle) error
	// Load returns api.ErrRunNotFound for unknown ids.
	Load(ctx context.Context, runID string) (*api.ResultBundle, error)
	// List returns the stored run ids.
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, runID string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	bundles map[string]*api.ResultBundle
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{bundles: make(map[string]*api.ResultBundle)}
}

func (m *Memory) Save(_ context.Context, bundle *api.ResultBundle) error {
	cp := *bundle
	m.mu.Lock()
	m.bundles[bundle.RunID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context, runID string) (*api.ResultBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[runID]
	if !ok {
		return nil, api.ErrRunNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.bundles))
	for id := range m.bundles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		bi, bj := m.bundles[ids[i]], m.bundles[ids[j]]
		if !bi.StartedAt.Equal(bj.StartedAt) {
			return bi.StartedAt.Before(bj.StartedAt)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

func (m *Memory) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	delete(m.bundles, runID)
	m.mu.Unlock()
	return nil
}
