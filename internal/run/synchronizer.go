package run

import (
	"context"
	"log"
	"sync"
	"time"

	"backtest-console/internal/observability"
	"backtest-console/internal/results"
	"backtest-console/internal/service"
)

// Synchronizer keeps the local results store caught up with the server by
// fetching deltas since the watermark. It guarantees at most one outstanding
// fetch per run: a trigger arriving while a fetch is in flight schedules
// exactly one more fetch after the current one resolves, not one per trigger.
type Synchronizer struct {
	svc     service.Backtest
	store   *results.Store
	logger  *log.Logger
	metrics *observability.Metrics
	report  func(error) // sink for reportable fetch failures

	mu       sync.Mutex
	cond     *sync.Cond
	taskID   string
	resultID string
	lastSeen int64 // last distinct currentTime that triggered a sync

	inflight    bool
	pending     bool
	pendingUpTo int64
}

// SynchronizerOptions contains configuration for creating a Synchronizer.
type SynchronizerOptions struct {
	Service service.Backtest
	Store   *results.Store
	Logger  *log.Logger
	Metrics *observability.Metrics

	// Report receives fetch failures. Failures are reportable, never fatal:
	// the watermark stays put and the next trigger retries the same window.
	Report func(error)
}

// NewSynchronizer creates a synchronizer bound to no run.
func NewSynchronizer(opts SynchronizerOptions) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	report := opts.Report
	if report == nil {
		report = func(err error) { logger.Printf("sync: %v", err) }
	}
	s := &Synchronizer{
		svc:     opts.Service,
		store:   opts.Store,
		logger:  logger,
		metrics: opts.Metrics,
		report:  report,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Bind points the synchronizer at a new run and resets the store to the
// run's configured start time. Everything held for the previous run is
// discarded wholesale; an in-flight fetch for the old run will find its
// result ID stale and drop its delta.
func (s *Synchronizer) Bind(taskID, resultID string, startTime int64) {
	s.mu.Lock()
	s.taskID = taskID
	s.resultID = resultID
	s.lastSeen = 0
	s.pending = false
	s.pendingUpTo = 0
	s.mu.Unlock()

	s.store.Reset(startTime)
	if s.metrics != nil {
		s.metrics.WatermarkTimestamp.Set(float64(startTime))
	}
}

// Unbind detaches from the current run (task switch). In-flight completions
// are discarded by the stale result ID check.
func (s *Synchronizer) Unbind() {
	s.mu.Lock()
	s.taskID = ""
	s.resultID = ""
	s.lastSeen = 0
	s.pending = false
	s.pendingUpTo = 0
	s.mu.Unlock()
}

// OnProgress triggers a sync for a progress signal. It is a no-op when the
// result ID does not match the bound run or when currentTime is not distinct
// from the previous trigger. Concurrent triggers coalesce: one in-flight
// fetch plus at most one queued follow-up.
func (s *Synchronizer) OnProgress(ctx context.Context, resultID string, currentTime int64) {
	s.mu.Lock()
	if s.resultID == "" || resultID != s.resultID || currentTime == s.lastSeen {
		s.mu.Unlock()
		return
	}
	s.lastSeen = currentTime

	if s.inflight {
		s.pending = true
		if currentTime > s.pendingUpTo {
			s.pendingUpTo = currentTime
		}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.FetchesCoalesced.Inc()
		}
		return
	}
	s.inflight = true
	s.mu.Unlock()

	go s.drain(ctx, currentTime)
}

// drain runs the in-flight fetch and any single coalesced follow-up.
func (s *Synchronizer) drain(ctx context.Context, upTo int64) {
	for {
		s.syncOnce(ctx, upTo)

		s.mu.Lock()
		if !s.pending {
			s.inflight = false
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		s.pending = false
		upTo = s.pendingUpTo
		s.mu.Unlock()
	}
}

// FinalSync waits out any in-flight fetch, then performs one more
// synchronization pass even if the watermark already looks current, since the
// final statistics snapshot only exists after the terminal notification.
func (s *Synchronizer) FinalSync(ctx context.Context) error {
	s.mu.Lock()
	for s.inflight {
		s.cond.Wait()
	}
	s.inflight = true
	s.pending = false
	upTo := s.lastSeen
	s.mu.Unlock()

	err := s.syncOnce(ctx, upTo)

	s.mu.Lock()
	s.inflight = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}

// syncOnce fetches the delta since the watermark and merges it. The
// watermark advances only to upTo (the notification clock captured at
// trigger time, not anything derived from the delta's own content) and only
// after a successful fetch, so failed windows are retried whole and merges
// stay idempotent under the store's dedup/upsert discipline.
func (s *Synchronizer) syncOnce(ctx context.Context, upTo int64) error {
	s.mu.Lock()
	taskID, resultID := s.taskID, s.resultID
	s.mu.Unlock()
	if resultID == "" {
		return nil
	}
	since := s.store.Watermark()

	started := time.Now()
	delta, err := s.svc.FetchResults(ctx, taskID, resultID, since)
	if s.metrics != nil {
		s.metrics.FetchesTotal.Inc()
		s.metrics.FetchDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.FetchFailures.Inc()
		}
		s.report(service.NewTransportError("fetch results", err))
		return err
	}

	// A rebind while the fetch was in flight makes this delta stale; drop it.
	s.mu.Lock()
	stale := s.resultID != resultID
	s.mu.Unlock()
	if stale {
		return nil
	}

	if !delta.Empty() {
		added := s.store.AddTrades(delta.Trades)
		s.store.UpsertDeals(delta.Deals)
		s.store.UpsertOrders(delta.Orders)
		if delta.Statistics != nil {
			s.store.ReplaceStatistics(*delta.Statistics)
		}
		if s.metrics != nil {
			s.metrics.TradesMerged.Add(float64(len(added)))
			s.metrics.DealsUpserted.Add(float64(len(delta.Deals)))
			s.metrics.OrdersUpserted.Add(float64(len(delta.Orders)))
		}
	}

	if upTo > 0 && s.store.AdvanceWatermark(upTo) && s.metrics != nil {
		s.metrics.WatermarkTimestamp.Set(float64(upTo))
	}
	return nil
}

// Wait blocks until no fetch is in flight. Test helper and teardown aid.
func (s *Synchronizer) Wait() {
	s.mu.Lock()
	for s.inflight {
		s.cond.Wait()
	}
	s.mu.Unlock()
}
