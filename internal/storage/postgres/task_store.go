package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

// TaskStore implements storage.TaskStore using PostgreSQL.
type TaskStore struct {
	pool *Pool
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(pool *Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TaskStore = (*TaskStore)(nil)

// Upsert inserts the task or replaces the existing record with the same task_id.
func (s *TaskStore) Upsert(ctx context.Context, task *domain.Task) error {
	if task == nil || task.TaskID == "" {
		return storage.ErrInvalidInput
	}

	params, err := json.Marshal(task.Config.CustomParams)
	if err != nil {
		return fmt.Errorf("marshal custom params: %w", err)
	}

	query := `
		INSERT INTO tasks (
			task_id, name, strategy_path,
			venue, symbol, timeframe, from_time, to_time,
			initial_balance, fee_rate, slippage_bps, custom_params,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (task_id) DO UPDATE SET
			name = EXCLUDED.name,
			strategy_path = EXCLUDED.strategy_path,
			venue = EXCLUDED.venue,
			symbol = EXCLUDED.symbol,
			timeframe = EXCLUDED.timeframe,
			from_time = EXCLUDED.from_time,
			to_time = EXCLUDED.to_time,
			initial_balance = EXCLUDED.initial_balance,
			fee_rate = EXCLUDED.fee_rate,
			slippage_bps = EXCLUDED.slippage_bps,
			custom_params = EXCLUDED.custom_params,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		task.TaskID,
		task.Name,
		task.StrategyPath,
		task.Config.Venue,
		task.Config.Symbol,
		task.Config.Timeframe,
		task.Config.FromTime,
		task.Config.ToTime,
		task.Config.InitialBalance,
		task.Config.FeeRate,
		task.Config.SlippageBps,
		params,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its ID. Returns ErrNotFound if not exists.
func (s *TaskStore) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `
		SELECT task_id, name, strategy_path,
			venue, symbol, timeframe, from_time, to_time,
			initial_balance, fee_rate, slippage_bps, custom_params,
			created_at, updated_at
		FROM tasks
		WHERE task_id = $1
	`

	row := s.pool.QueryRow(ctx, query, taskID)
	task, err := scanTask(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}
	return task, nil
}

// List retrieves all tasks ordered by created_at ASC.
func (s *TaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	query := `
		SELECT task_id, name, strategy_path,
			venue, symbol, timeframe, from_time, to_time,
			initial_balance, fee_rate, slippage_bps, custom_params,
			created_at, updated_at
		FROM tasks
		ORDER BY created_at ASC, task_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// Delete removes a task. Returns ErrNotFound if not exists.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanTask scans a single row into a Task.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var params []byte

	err := row.Scan(
		&t.TaskID,
		&t.Name,
		&t.StrategyPath,
		&t.Config.Venue,
		&t.Config.Symbol,
		&t.Config.Timeframe,
		&t.Config.FromTime,
		&t.Config.ToTime,
		&t.Config.InitialBalance,
		&t.Config.FeeRate,
		&t.Config.SlippageBps,
		&params,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Config.CustomParams); err != nil {
			return nil, fmt.Errorf("unmarshal custom params: %w", err)
		}
	}

	return &t, nil
}
