package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

// StrategyStore is an in-memory implementation of storage.StrategyStore.
type StrategyStore struct {
	mu      sync.RWMutex
	sources map[string]*domain.StrategySource // keyed by path
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		sources: make(map[string]*domain.StrategySource),
	}
}

// Upsert inserts or replaces the source at the given path.
func (s *StrategyStore) Upsert(_ context.Context, src *domain.StrategySource) error {
	if src == nil || src.Path == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	srcCopy := *src
	s.sources[src.Path] = &srcCopy
	return nil
}

// GetByPath retrieves a source by path. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByPath(_ context.Context, path string) (*domain.StrategySource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, exists := s.sources[path]
	if !exists {
		return nil, storage.ErrNotFound
	}

	srcCopy := *src
	return &srcCopy, nil
}

// List retrieves all saved paths ordered lexically.
func (s *StrategyStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.sources))
	for p := range s.sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return paths, nil
}

var _ storage.StrategyStore = (*StrategyStore)(nil)
