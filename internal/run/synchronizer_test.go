package run

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backtest-console/internal/domain"
	"backtest-console/internal/results"
	"backtest-console/internal/service"
)

// blockingBacktest lets tests hold fetches open to exercise coalescing.
type blockingBacktest struct {
	mu         sync.Mutex
	gate       chan struct{} // fetches block here when set
	fetchCalls []fetchCall
	fetchErr   error
	delta      *domain.ResultsDelta
}

func (f *blockingBacktest) StartRun(context.Context, string) (*service.StartResult, error) {
	panic("not used by synchronizer tests")
}

func (f *blockingBacktest) StopRun(context.Context, string) error { return nil }

func (f *blockingBacktest) FetchResults(_ context.Context, taskID, resultID string, since int64) (*domain.ResultsDelta, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, fetchCall{taskID: taskID, resultID: resultID, since: since})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.delta != nil {
		return f.delta, nil
	}
	return &domain.ResultsDelta{}, nil
}

func (f *blockingBacktest) calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fetchCall, len(f.fetchCalls))
	copy(out, f.fetchCalls)
	return out
}

func TestSynchronizer_ProgressTriggersFetchAndAdvancesWatermark(t *testing.T) {
	store := results.NewStore()
	svc := &fakeBacktest{
		resultID: "r1",
		deltas: []*domain.ResultsDelta{{
			Trades: []domain.Trade{{TradeID: "t1", Time: 1500}},
			Deals:  []domain.Deal{{DealID: "d1"}},
		}},
	}
	s := NewSynchronizer(SynchronizerOptions{Service: svc, Store: store})
	s.Bind("task1", "r1", 1000)

	s.OnProgress(context.Background(), "r1", 2000)
	s.Wait()

	if got := store.TradeCount(); got != 1 {
		t.Errorf("expected 1 trade merged, got %d", got)
	}
	if got := store.Watermark(); got != 2000 {
		t.Errorf("expected watermark 2000, got %d", got)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.fetchCalls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(svc.fetchCalls))
	}
	call := svc.fetchCalls[0]
	if call.taskID != "task1" || call.resultID != "r1" || call.since != 1000 {
		t.Errorf("unexpected fetch call: %+v", call)
	}
}

func TestSynchronizer_StaleResultIDNoFetch(t *testing.T) {
	store := results.NewStore()
	svc := &fakeBacktest{resultID: "Y"}
	s := NewSynchronizer(SynchronizerOptions{Service: svc, Store: store})
	s.Bind("task1", "Y", 0)

	s.OnProgress(context.Background(), "X", 2000)
	s.Wait()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.fetchCalls) != 0 {
		t.Errorf("stale result ID must not trigger a fetch, got %d", len(svc.fetchCalls))
	}
}

func TestSynchronizer_RepeatedCurrentTimeSingleFetch(t *testing.T) {
	store := results.NewStore()
	svc := &fakeBacktest{resultID: "r1"}
	s := NewSynchronizer(SynchronizerOptions{Service: svc, Store: store})
	s.Bind("task1", "r1", 0)

	s.OnProgress(context.Background(), "r1", 2000)
	s.Wait()
	s.OnProgress(context.Background(), "r1", 2000) // same clock position
	s.Wait()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.fetchCalls) != 1 {
		t.Errorf("expected 1 fetch for repeated currentTime, got %d", len(svc.fetchCalls))
	}
}

func TestSynchronizer_FetchFailureKeepsWatermark(t *testing.T) {
	store := results.NewStore()
	svc := &blockingBacktest{fetchErr: errors.New("boom")}
	var reported []error
	var mu sync.Mutex
	s := NewSynchronizer(SynchronizerOptions{
		Service: svc,
		Store:   store,
		Report: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	s.Bind("task1", "r1", 1000)

	s.OnProgress(context.Background(), "r1", 2000)
	s.Wait()

	if got := store.Watermark(); got != 1000 {
		t.Errorf("failed fetch must not advance watermark, got %d", got)
	}
	mu.Lock()
	if len(reported) != 1 {
		t.Errorf("expected 1 reported error, got %d", len(reported))
	}
	mu.Unlock()

	// Next trigger retries the same window
	svc.mu.Lock()
	svc.fetchErr = nil
	svc.mu.Unlock()
	s.OnProgress(context.Background(), "r1", 3000)
	s.Wait()

	calls := svc.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(calls))
	}
	if calls[1].since != 1000 {
		t.Errorf("retry must reuse the unadvanced watermark, got since=%d", calls[1].since)
	}
	if store.Watermark() != 3000 {
		t.Errorf("expected watermark 3000 after successful retry, got %d", store.Watermark())
	}
}

func TestSynchronizer_CoalescesTriggersWhileInFlight(t *testing.T) {
	store := results.NewStore()
	gate := make(chan struct{})
	svc := &blockingBacktest{gate: gate}
	s := NewSynchronizer(SynchronizerOptions{Service: svc, Store: store})
	s.Bind("task1", "r1", 0)

	s.OnProgress(context.Background(), "r1", 1000)

	// Wait for the fetch to be in flight
	deadline := time.After(2 * time.Second)
	for len(svc.calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first fetch never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Three triggers arrive while the fetch is outstanding
	s.OnProgress(context.Background(), "r1", 2000)
	s.OnProgress(context.Background(), "r1", 3000)
	s.OnProgress(context.Background(), "r1", 4000)

	close(gate)
	s.Wait()

	// Exactly one follow-up fetch, not one per trigger
	if got := len(svc.calls()); got != 2 {
		t.Errorf("expected 2 fetches total, got %d", got)
	}
	if store.Watermark() != 4000 {
		t.Errorf("expected watermark at latest trigger 4000, got %d", store.Watermark())
	}
}

func TestSynchronizer_FinalSyncAlwaysFetches(t *testing.T) {
	store := results.NewStore()
	svc := &fakeBacktest{
		resultID: "r1",
		deltas: []*domain.ResultsDelta{
			{Trades: []domain.Trade{{TradeID: "t1"}}},
			{Statistics: &domain.StatisticsSnapshot{Completed: true, TotalTrades: 1}},
		},
	}
	s := NewSynchronizer(SynchronizerOptions{Service: svc, Store: store})
	s.Bind("task1", "r1", 0)

	s.OnProgress(context.Background(), "r1", 5000)
	s.Wait()

	// Watermark already current; the final pass still fetches the statistics.
	if err := s.FinalSync(context.Background()); err != nil {
		t.Fatalf("FinalSync failed: %v", err)
	}

	stats := store.Statistics()
	if stats == nil || !stats.Completed {
		t.Error("final sync did not pick up the final statistics snapshot")
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.fetchCalls) != 2 {
		t.Errorf("expected 2 fetches, got %d", len(svc.fetchCalls))
	}
}

func TestSynchronizer_InFlightDeltaDroppedAfterRebind(t *testing.T) {
	store := results.NewStore()
	gate := make(chan struct{})
	svc := &blockingBacktest{
		gate:  gate,
		delta: &domain.ResultsDelta{Trades: []domain.Trade{{TradeID: "old"}}},
	}
	s := NewSynchronizer(SynchronizerOptions{Service: svc, Store: store})
	s.Bind("task1", "r1", 0)

	s.OnProgress(context.Background(), "r1", 1000)
	deadline := time.After(2 * time.Second)
	for len(svc.calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("fetch never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// New run starts while the old fetch is in flight
	s.Bind("task1", "r2", 0)
	close(gate)
	s.Wait()

	if store.TradeCount() != 0 {
		t.Errorf("stale in-flight delta must be discarded, got %d trades", store.TradeCount())
	}
}
