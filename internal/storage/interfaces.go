package storage

import (
	"context"

	"backtest-console/internal/domain"
)

// TaskStore provides access to task storage.
type TaskStore interface {
	// Upsert inserts the task or replaces the existing record with the same
	// task_id. UpdatedAt is set by the caller.
	Upsert(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, taskID string) (*domain.Task, error)

	// List retrieves all tasks ordered by created_at ASC.
	List(ctx context.Context) ([]*domain.Task, error)

	// Delete removes a task. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, taskID string) error
}

// StrategyStore provides access to strategy source storage.
type StrategyStore interface {
	// Upsert inserts or replaces the source at the given path.
	Upsert(ctx context.Context, s *domain.StrategySource) error

	// GetByPath retrieves a source by path. Returns ErrNotFound if not exists.
	GetByPath(ctx context.Context, path string) (*domain.StrategySource, error)

	// List retrieves all saved paths ordered lexically.
	List(ctx context.Context) ([]string, error)
}

// RunArchiveStore provides access to finished-run archive storage.
type RunArchiveStore interface {
	// Insert archives a finished run. Returns ErrDuplicateKey if result_id
	// was already archived.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByResultID retrieves one archived run. Returns ErrNotFound if not exists.
	GetByResultID(ctx context.Context, resultID string) (*domain.RunRecord, error)

	// GetByTaskID retrieves all archived runs for a task, ordered by
	// finished_at ASC.
	GetByTaskID(ctx context.Context, taskID string) ([]*domain.RunRecord, error)

	// InsertTrades archives the trade batch of a finished run.
	InsertTrades(ctx context.Context, resultID string, trades []domain.Trade) error

	// InsertDeals archives the deal batch of a finished run.
	InsertDeals(ctx context.Context, resultID string, deals []domain.Deal) error

	// InsertOrders archives the order batch of a finished run.
	InsertOrders(ctx context.Context, resultID string, orders []domain.Order) error
}
