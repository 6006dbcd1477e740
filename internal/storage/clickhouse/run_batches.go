package clickhouse

import (
	"context"
	"fmt"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

// InsertTrades archives the trade batch of a finished run. Empty batches are
// a no-op.
func (s *RunArchiveStore) InsertTrades(ctx context.Context, resultID string, trades []domain.Trade) error {
	if resultID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO run_trades (
			result_id, trade_id, deal_id, order_id,
			symbol, side, price, volume, commission, profit,
			time
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			resultID, t.TradeID, t.DealID, t.OrderID,
			t.Symbol, t.Side, t.Price, t.Volume, t.Commission, t.Profit,
			t.Time,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertDeals archives the deal batch of a finished run.
func (s *RunArchiveStore) InsertDeals(ctx context.Context, resultID string, deals []domain.Deal) error {
	if resultID == "" {
		return storage.ErrInvalidInput
	}
	if len(deals) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO run_deals (
			result_id, deal_id,
			symbol, direction,
			volume_open, volume_closed, avg_entry_price, avg_exit_price,
			commission, profit,
			open_time, close_time, closed
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, d := range deals {
		err = batch.Append(
			resultID, d.DealID,
			d.Symbol, d.Direction,
			d.VolumeOpen, d.VolumeClosed, d.AvgEntryPrice, d.AvgExitPrice,
			d.Commission, d.Profit,
			d.OpenTime, d.CloseTime, boolToUInt8(d.Closed),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertOrders archives the order batch of a finished run.
func (s *RunArchiveStore) InsertOrders(ctx context.Context, resultID string, orders []domain.Order) error {
	if resultID == "" {
		return storage.ErrInvalidInput
	}
	if len(orders) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO run_orders (
			result_id, order_id, deal_id,
			symbol, side, type, status,
			price, volume, volume_filled,
			setup_time, done_time
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range orders {
		err = batch.Append(
			resultID, o.OrderID, o.DealID,
			o.Symbol, o.Side, o.Type, o.Status,
			o.Price, o.Volume, o.VolumeFilled,
			o.SetupTime, o.DoneTime,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetTradesByResultID retrieves the archived trades of a run, ordered by
// execution time.
func (s *RunArchiveStore) GetTradesByResultID(ctx context.Context, resultID string) ([]domain.Trade, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT trade_id, deal_id, order_id,
			symbol, side, price, volume, commission, profit,
			time
		FROM run_trades
		WHERE result_id = ?
		ORDER BY time ASC, trade_id ASC
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("get archived trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		err := rows.Scan(
			&t.TradeID, &t.DealID, &t.OrderID,
			&t.Symbol, &t.Side, &t.Price, &t.Volume, &t.Commission, &t.Profit,
			&t.Time,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archived trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived trades: %w", err)
	}
	return out, nil
}

// GetDealsByResultID retrieves the archived deals of a run, ordered by open
// time.
func (s *RunArchiveStore) GetDealsByResultID(ctx context.Context, resultID string) ([]domain.Deal, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT deal_id,
			symbol, direction,
			volume_open, volume_closed, avg_entry_price, avg_exit_price,
			commission, profit,
			open_time, close_time, closed
		FROM run_deals
		WHERE result_id = ?
		ORDER BY open_time ASC, deal_id ASC
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("get archived deals: %w", err)
	}
	defer rows.Close()

	var out []domain.Deal
	for rows.Next() {
		var d domain.Deal
		var closed uint8
		err := rows.Scan(
			&d.DealID,
			&d.Symbol, &d.Direction,
			&d.VolumeOpen, &d.VolumeClosed, &d.AvgEntryPrice, &d.AvgExitPrice,
			&d.Commission, &d.Profit,
			&d.OpenTime, &d.CloseTime, &closed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archived deal: %w", err)
		}
		d.Closed = closed != 0
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived deals: %w", err)
	}
	return out, nil
}

// GetOrdersByResultID retrieves the archived orders of a run, ordered by
// placement time.
func (s *RunArchiveStore) GetOrdersByResultID(ctx context.Context, resultID string) ([]domain.Order, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT order_id, deal_id,
			symbol, side, type, status,
			price, volume, volume_filled,
			setup_time, done_time
		FROM run_orders
		WHERE result_id = ?
		ORDER BY setup_time ASC, order_id ASC
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("get archived orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		err := rows.Scan(
			&o.OrderID, &o.DealID,
			&o.Symbol, &o.Side, &o.Type, &o.Status,
			&o.Price, &o.Volume, &o.VolumeFilled,
			&o.SetupTime, &o.DoneTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archived order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived orders: %w", err)
	}
	return out, nil
}
