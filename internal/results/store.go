// Package results holds the working result set of one backtest run: trades,
// deals, orders, the latest statistics snapshot, and the watermark through
// which results are confirmed merged.
package results

import (
	"sync"

	"backtest-console/internal/domain"
)

// Store owns the trade/deal/order/statistics state for the current run.
// Trades are a dedup-append set keyed by trade_id; deals and orders are
// last-write-wins upserts keyed by their IDs. Starting a new run or switching
// tasks discards everything via Reset.
type Store struct {
	mu sync.RWMutex

	trades     map[string]domain.Trade
	tradeOrder []string // trade IDs in arrival order
	deals      map[string]domain.Deal
	orders     map[string]domain.Order
	stats      *domain.StatisticsSnapshot

	watermark int64
}

// NewStore creates an empty results store with a zero watermark.
func NewStore() *Store {
	s := &Store{}
	s.resetLocked(0)
	return s
}

// Reset discards all state and rebases the watermark to the run's configured
// start time.
func (s *Store) Reset(startTime int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(startTime)
}

func (s *Store) resetLocked(startTime int64) {
	s.trades = make(map[string]domain.Trade)
	s.tradeOrder = s.tradeOrder[:0]
	s.deals = make(map[string]domain.Deal)
	s.orders = make(map[string]domain.Order)
	s.stats = nil
	s.watermark = startTime
}

// AddTrades appends trades, skipping keys already present, and returns only
// the trades actually inserted. Re-fetch overlap is therefore harmless.
func (s *Store) AddTrades(batch []domain.Trade) []domain.Trade {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added []domain.Trade
	for _, t := range batch {
		if t.TradeID == "" {
			continue
		}
		if _, exists := s.trades[t.TradeID]; exists {
			continue
		}
		s.trades[t.TradeID] = t
		s.tradeOrder = append(s.tradeOrder, t.TradeID)
		added = append(added, t)
	}
	return added
}

// UpsertDeals inserts or overwrites deals by deal_id. Arrival order wins:
// batches arrive in watermark order, so the last write is the freshest.
func (s *Store) UpsertDeals(batch []domain.Deal) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range batch {
		if d.DealID == "" {
			continue
		}
		s.deals[d.DealID] = d
	}
}

// UpsertOrders inserts or overwrites orders by order_id, same discipline as
// UpsertDeals.
func (s *Store) UpsertOrders(batch []domain.Order) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range batch {
		if o.OrderID == "" {
			continue
		}
		s.orders[o.OrderID] = o
	}
}

// ReplaceStatistics replaces the statistics snapshot wholesale.
func (s *Store) ReplaceStatistics(snap domain.StatisticsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = &snap
}

// AdvanceWatermark moves the watermark forward. Calls with a timestamp at or
// below the current watermark are no-ops, so the watermark is non-decreasing
// for any call order. Returns true if the watermark moved.
func (s *Store) AdvanceWatermark(ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts <= s.watermark {
		return false
	}
	s.watermark = ts
	return true
}

// Watermark returns the timestamp through which results are known merged.
func (s *Store) Watermark() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// Trades returns all stored trades in arrival order.
func (s *Store) Trades() []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Trade, 0, len(s.tradeOrder))
	for _, id := range s.tradeOrder {
		out = append(out, s.trades[id])
	}
	return out
}

// Deals returns a copy of the current deal map.
func (s *Store) Deals() map[string]domain.Deal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Deal, len(s.deals))
	for k, v := range s.deals {
		out[k] = v
	}
	return out
}

// Orders returns a copy of the current order map.
func (s *Store) Orders() map[string]domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Order, len(s.orders))
	for k, v := range s.orders {
		out[k] = v
	}
	return out
}

// Statistics returns a copy of the latest snapshot, or nil if none arrived.
func (s *Store) Statistics() *domain.StatisticsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stats == nil {
		return nil
	}
	cp := *s.stats
	return &cp
}

// TradeCount returns the number of stored trades.
func (s *Store) TradeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// DealCount returns the number of stored deals.
func (s *Store) DealCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deals)
}
