package clickhouse

import (
	"context"
	"fmt"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

// RunArchiveStore implements storage.RunArchiveStore using ClickHouse.
type RunArchiveStore struct {
	conn *Conn
}

// NewRunArchiveStore creates a new RunArchiveStore.
func NewRunArchiveStore(conn *Conn) *RunArchiveStore {
	return &RunArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RunArchiveStore = (*RunArchiveStore)(nil)

// Insert archives a finished run. Returns ErrDuplicateKey if result_id was
// already archived.
func (s *RunArchiveStore) Insert(ctx context.Context, r *domain.RunRecord) error {
	if r == nil || r.ResultID == "" {
		return storage.ErrInvalidInput
	}

	// MergeTree does not enforce uniqueness, so check before insert.
	exists, err := s.exists(ctx, r.ResultID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO run_archive (
			result_id, task_id, task_name,
			outcome, error_class, message,
			progress, watermark,
			trade_count, deal_count,
			complete, incomplete_reason,
			net_profit, win_rate, max_drawdown_pct, final_balance,
			started_at, finished_at
		) VALUES (
			?, ?, ?,
			?, ?, ?,
			?, ?,
			?, ?,
			?, ?,
			?, ?, ?, ?,
			?, ?
		)
	`

	err = s.conn.Exec(ctx, query,
		r.ResultID, r.TaskID, r.TaskName,
		r.Outcome, r.ErrorClass, r.Message,
		r.Progress, r.Watermark,
		int32(r.TradeCount), int32(r.DealCount),
		boolToUInt8(r.Complete), r.IncompleteReason,
		r.NetProfit, r.WinRate, r.MaxDrawdownPct, r.FinalBalance,
		r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// GetByResultID retrieves one archived run. Returns ErrNotFound if not exists.
func (s *RunArchiveStore) GetByResultID(ctx context.Context, resultID string) (*domain.RunRecord, error) {
	query := selectRunRecord + ` WHERE result_id = ? LIMIT 1`

	rows, err := s.conn.Query(ctx, query, resultID)
	if err != nil {
		return nil, fmt.Errorf("get run record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get run record: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	r, err := scanRunRecord(rows)
	if err != nil {
		return nil, fmt.Errorf("scan run record: %w", err)
	}
	return r, nil
}

// GetByTaskID retrieves all archived runs for a task, ordered by finished_at ASC.
func (s *RunArchiveStore) GetByTaskID(ctx context.Context, taskID string) ([]*domain.RunRecord, error) {
	query := selectRunRecord + ` WHERE task_id = ? ORDER BY finished_at ASC, result_id ASC`

	rows, err := s.conn.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("get run records by task: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunRecord
	for rows.Next() {
		r, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run records: %w", err)
	}
	return out, nil
}

const selectRunRecord = `
	SELECT result_id, task_id, task_name,
		outcome, error_class, message,
		progress, watermark,
		trade_count, deal_count,
		complete, incomplete_reason,
		net_profit, win_rate, max_drawdown_pct, final_balance,
		started_at, finished_at
	FROM run_archive
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(row rowScanner) (*domain.RunRecord, error) {
	var r domain.RunRecord
	var tradeCount, dealCount int32
	var complete uint8

	err := row.Scan(
		&r.ResultID, &r.TaskID, &r.TaskName,
		&r.Outcome, &r.ErrorClass, &r.Message,
		&r.Progress, &r.Watermark,
		&tradeCount, &dealCount,
		&complete, &r.IncompleteReason,
		&r.NetProfit, &r.WinRate, &r.MaxDrawdownPct, &r.FinalBalance,
		&r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	r.TradeCount = int(tradeCount)
	r.DealCount = int(dealCount)
	r.Complete = complete != 0
	return &r, nil
}

func (s *RunArchiveStore) exists(ctx context.Context, resultID string) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM run_archive WHERE result_id = ?`, resultID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
