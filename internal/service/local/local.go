// Package local implements the task and strategy service contracts directly
// on a storage backend, for running the console without a remote service.
// The run computation itself has no local implementation; only persistence
// concerns are served here.
package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backtest-console/internal/domain"
	"backtest-console/internal/idhash"
	"backtest-console/internal/service"
	"backtest-console/internal/storage"
)

// TaskService implements service.Tasks on a storage.TaskStore.
type TaskService struct {
	store storage.TaskStore
	now   func() int64
}

// NewTaskService creates a store-backed task service.
func NewTaskService(store storage.TaskStore) *TaskService {
	return &TaskService{
		store: store,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

var _ service.Tasks = (*TaskService)(nil)

// SaveTask persists the record and returns the updated copy. A task without
// an ID is treated as new: it gets a deterministic ID from its name and
// creation time.
func (s *TaskService) SaveTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if task == nil {
		return nil, storage.ErrInvalidInput
	}

	saved := task.Clone()
	now := s.now()

	if saved.CreatedAt == 0 {
		saved.CreatedAt = now
	}
	if saved.TaskID == "" {
		saved.TaskID = idhash.ComputeTaskID(saved.Name, saved.CreatedAt)
	}
	saved.UpdatedAt = now

	if err := s.store.Upsert(ctx, saved); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	return saved, nil
}

// GetTask loads a task record by ID.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// StrategyService implements service.Strategy on a storage.StrategyStore.
type StrategyService struct {
	store storage.StrategyStore
	now   func() int64
}

// NewStrategyService creates a store-backed strategy service.
func NewStrategyService(store storage.StrategyStore) *StrategyService {
	return &StrategyService{
		store: store,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

var _ service.Strategy = (*StrategyService)(nil)

// SaveStrategy writes the source. The local backend does not parse strategy
// code, so it never returns diagnostics; syntax checking happens on the
// computation service.
func (s *StrategyService) SaveStrategy(ctx context.Context, path, source string) ([]service.SyntaxError, error) {
	if path == "" {
		return nil, storage.ErrInvalidInput
	}

	src := &domain.StrategySource{
		Path:      path,
		Source:    source,
		UpdatedAt: s.now(),
	}
	if err := s.store.Upsert(ctx, src); err != nil {
		return nil, fmt.Errorf("save strategy: %w", err)
	}
	return nil, nil
}
