package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

// TaskStore is an in-memory implementation of storage.TaskStore.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task // keyed by task_id
}

// NewTaskStore creates a new in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*domain.Task),
	}
}

// Upsert inserts the task or replaces the existing record with the same task_id.
func (s *TaskStore) Upsert(_ context.Context, task *domain.Task) error {
	if task == nil || task.TaskID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.TaskID] = task.Clone()
	return nil
}

// GetByID retrieves a task by its ID. Returns ErrNotFound if not exists.
func (s *TaskStore) GetByID(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return t.Clone(), nil
}

// List retrieves all tasks ordered by created_at ASC.
func (s *TaskStore) List(_ context.Context) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].TaskID < out[j].TaskID
	})

	return out, nil
}

// Delete removes a task. Returns ErrNotFound if not exists.
func (s *TaskStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; !exists {
		return storage.ErrNotFound
	}

	delete(s.tasks, taskID)
	return nil
}

var _ storage.TaskStore = (*TaskStore)(nil)
