package postgres

import (
	"context"
	"fmt"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

// StrategyStore implements storage.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a new StrategyStore.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrategyStore = (*StrategyStore)(nil)

// Upsert inserts or replaces the source at the given path.
func (s *StrategyStore) Upsert(ctx context.Context, src *domain.StrategySource) error {
	if src == nil || src.Path == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO strategies (path, source, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, src.Path, src.Source, src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert strategy: %w", err)
	}
	return nil
}

// GetByPath retrieves a source by path. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByPath(ctx context.Context, path string) (*domain.StrategySource, error) {
	query := `
		SELECT path, source, updated_at
		FROM strategies
		WHERE path = $1
	`

	var src domain.StrategySource
	err := s.pool.QueryRow(ctx, query, path).Scan(&src.Path, &src.Source, &src.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy by path: %w", err)
	}
	return &src, nil
}

// List retrieves all saved paths ordered lexically.
func (s *StrategyStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT path FROM strategies ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan strategy path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategies: %w", err)
	}
	return paths, nil
}
