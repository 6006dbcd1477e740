// Package session orchestrates one open task: it owns the run lifecycle, the
// results synchronizer, the autosave coordinator and the notification feed,
// and runs finalization when a run reaches a terminal state.
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"backtest-console/internal/autosave"
	"backtest-console/internal/domain"
	"backtest-console/internal/observability"
	"backtest-console/internal/results"
	"backtest-console/internal/run"
	"backtest-console/internal/service"
	"backtest-console/internal/storage"
)

// PacketFeed subscribes to the run notification stream.
type PacketFeed interface {
	Subscribe(ctx context.Context) (<-chan domain.Packet, error)
}

// Options contains configuration for creating a Session.
type Options struct {
	Backtest service.Backtest
	Strategy service.Strategy
	Tasks    service.Tasks
	Feed     PacketFeed

	// Archive receives a RunRecord after every finalized run. Optional;
	// archive failures are logged, never fatal.
	Archive storage.RunArchiveStore

	AutosaveDelay time.Duration // default autosave.DefaultDelay

	Logger  *log.Logger
	Metrics *observability.Metrics

	// Report receives reportable, non-fatal errors (fetch failures, save
	// failures, archive failures).
	Report func(error)

	// OnFinalized fires after finalization of each run, with the archived
	// record and the completeness verdict.
	OnFinalized func(rec *domain.RunRecord, verdict results.Verdict)
}

// Session is the orchestration root for one console view. All public methods
// are safe for concurrent use.
type Session struct {
	backtest service.Backtest
	strategy service.Strategy
	tasks    service.Tasks
	feed     PacketFeed
	archive  storage.RunArchiveStore

	store     *results.Store
	lifecycle *run.Lifecycle
	sync      *run.Synchronizer

	autosaveDelay time.Duration
	logger        *log.Logger
	metrics       *observability.Metrics
	report        func(error)
	onFinalized   func(*domain.RunRecord, results.Verdict)

	mu             sync.Mutex
	task           *domain.Task
	strategySource string
	coord          *autosave.Coordinator
	feedCancel     context.CancelFunc
	feedDone       chan struct{}
	startedAt      int64
	closed         bool
}

// New creates a session with no task open.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	report := opts.Report
	if report == nil {
		report = func(err error) { logger.Printf("session: %v", err) }
	}

	s := &Session{
		backtest:      opts.Backtest,
		strategy:      opts.Strategy,
		tasks:         opts.Tasks,
		feed:          opts.Feed,
		archive:       opts.Archive,
		store:         results.NewStore(),
		autosaveDelay: opts.AutosaveDelay,
		logger:        logger,
		metrics:       opts.Metrics,
		report:        report,
		onFinalized:   opts.OnFinalized,
	}

	s.lifecycle = run.NewLifecycle(run.LifecycleOptions{
		Service: opts.Backtest,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	s.sync = run.NewSynchronizer(run.SynchronizerOptions{
		Service: opts.Backtest,
		Store:   s.store,
		Logger:  logger,
		Metrics: opts.Metrics,
		Report:  report,
	})

	s.lifecycle.Subscribe(s.onLifecycleEvent)
	return s
}

// Store exposes the results store for read access.
func (s *Session) Store() *results.Store { return s.store }

// Lifecycle exposes the run state machine for read access and subscriptions.
func (s *Session) Lifecycle() *run.Lifecycle { return s.lifecycle }

// Task returns a copy of the open task, nil when none is open.
func (s *Session) Task() *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Clone()
}

// SwitchTask closes the current task and opens another: pending autosaves are
// flushed first, then a fresh coordinator is created so debounce timers never
// leak across task boundaries. Edits applied while the task record loads do
// not arm timers. Refused while a run is live.
func (s *Session) SwitchTask(ctx context.Context, taskID string) error {
	if s.lifecycle.State() == run.StateRunning {
		return service.ErrRunActive
	}

	s.mu.Lock()
	old := s.coord
	s.mu.Unlock()

	if old != nil {
		if err := old.FlushAll(ctx); err != nil {
			s.report(fmt.Errorf("flush on task switch: %w", err))
		}
		old.Close()
	}

	coord := autosave.New(autosave.Options{
		StrategyService: s.strategy,
		TaskService:     s.tasks,
		StrategySource:  s.currentStrategySource,
		TaskRecord:      s.currentTaskRecord,
		Delay:           s.autosaveDelay,
		Logger:          s.logger,
		Metrics:         s.metrics,
		Report:          s.report,
	})
	coord.SetLoading(true)

	s.mu.Lock()
	s.coord = coord
	s.task = nil
	s.strategySource = ""
	s.mu.Unlock()

	s.sync.Unbind()
	s.store.Reset(0)

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		coord.SetLoading(false)
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	s.mu.Lock()
	s.task = task
	s.mu.Unlock()

	coord.SetLoading(false)
	s.logger.Printf("task opened: %s (%s)", task.TaskID, task.Name)
	return nil
}

// currentStrategySource supplies the autosave coordinator with the latest
// strategy path and text at save time.
func (s *Session) currentStrategySource() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := ""
	if s.task != nil {
		path = s.task.StrategyPath
	}
	return path, s.strategySource
}

// currentTaskRecord supplies the autosave coordinator with the latest task
// record at save time.
func (s *Session) currentTaskRecord() *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Clone()
}

// SetStrategySource replaces the editor's strategy text and marks it for
// autosave.
func (s *Session) SetStrategySource(source string) {
	s.mu.Lock()
	s.strategySource = source
	coord := s.coord
	s.mu.Unlock()

	if coord != nil {
		coord.OnStrategyEdited()
	}
}

// UpdateTaskConfig applies a parameter edit to the open task and marks the
// record for autosave.
func (s *Session) UpdateTaskConfig(mutate func(*domain.RunConfig)) {
	s.mu.Lock()
	if s.task != nil {
		mutate(&s.task.Config)
	}
	coord := s.coord
	s.mu.Unlock()

	if coord != nil {
		coord.OnParametersEdited()
	}
}

// RenameTask changes the open task's display name and marks the record for
// autosave.
func (s *Session) RenameTask(name string) {
	s.mu.Lock()
	if s.task != nil {
		s.task.Name = name
	}
	coord := s.coord
	s.mu.Unlock()

	if coord != nil {
		coord.OnFormFieldsChanged()
	}
}

// HasUnsavedChanges reports whether any autosave is still owed.
func (s *Session) HasUnsavedChanges() bool {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	if coord == nil {
		return false
	}
	return coord.HasUnsavedChanges()
}

// StartRun persists pending edits, starts a run for the open task and begins
// consuming its notification feed. The results store is reset to the task's
// configured range start so the watermark never begins at zero time.
func (s *Session) StartRun(ctx context.Context) (string, error) {
	s.mu.Lock()
	task := s.task.Clone()
	coord := s.coord
	s.mu.Unlock()

	if task == nil {
		return "", fmt.Errorf("no task open")
	}

	// The run must compute against what the user sees, so anything dirty is
	// persisted before start.
	if coord != nil {
		if err := coord.FlushAll(ctx); err != nil {
			return "", fmt.Errorf("flush before start: %w", err)
		}
	}

	resultID, err := s.lifecycle.Start(ctx, task.TaskID)
	if err != nil {
		return "", err
	}

	s.sync.Bind(task.TaskID, resultID, task.Config.FromTime)
	if coord != nil {
		coord.SetRunActive(true)
	}

	s.mu.Lock()
	s.startedAt = time.Now().UnixMilli()
	s.mu.Unlock()

	if err := s.consumeFeed(); err != nil {
		// The run is live but we cannot observe it. Resolve immediately
		// rather than leaving the state machine stuck in running.
		s.report(service.NewTransportError("subscribe feed", err))
		s.lifecycle.HandleFeedClosed()
		return resultID, nil
	}

	return resultID, nil
}

// StopRun requests termination of the live run. Confirmation arrives as a
// terminal packet on the feed.
func (s *Session) StopRun(ctx context.Context) error {
	return s.lifecycle.Stop(ctx)
}

// consumeFeed subscribes to the notification stream and pumps packets into
// the lifecycle and the synchronizer until the channel closes. It owns its
// context: the feed and its fetches outlive the StartRun call.
func (s *Session) consumeFeed() error {
	feedCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.feed.Subscribe(feedCtx)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.feedCancel = cancel
	s.feedDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for p := range ch {
			s.lifecycle.HandlePacket(p)
			if p.Type == domain.PacketData && s.lifecycle.State() == run.StateRunning {
				// Fetches run on the feed's context, not the caller's: the
				// StartRun context ends with the call, the run does not. A
				// packet without a result ID is live by the same rule the
				// lifecycle applies, so the bound ID stands in for it.
				rid := p.ResultID
				if rid == "" {
					rid = s.lifecycle.ResultID()
				}
				s.sync.OnProgress(feedCtx, rid, p.CurrentTime)
			}
		}
		// Channel closed: connection lost unless the run already resolved.
		s.lifecycle.HandleFeedClosed()
	}()
	return nil
}

// onLifecycleEvent reacts to terminal transitions with finalization. It runs
// on the feed consumer goroutine; finalization is synchronous so the terminal
// event, the final sync and the archive write stay ordered.
func (s *Session) onLifecycleEvent(ev run.Event) {
	if ev.Type != run.EventTerminal {
		return
	}
	s.finalize(ev)
}

// finalize settles a terminal run: one final synchronization pass, the
// completeness verdict (with a single retry fetch when incomplete), the
// archive record, and release of the autosave suppression.
func (s *Session) finalize(ev run.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.sync.FinalSync(ctx); err != nil {
		s.report(fmt.Errorf("final sync for run %s: %w", ev.ResultID, err))
	}

	verdict := results.CheckStore(s.store)
	if !verdict.Complete && ev.State == run.StateCompleted {
		// The service may still be flushing its last batch; give it one more
		// fetch before settling the verdict.
		if err := s.sync.FinalSync(ctx); err != nil {
			s.report(fmt.Errorf("completeness retry for run %s: %w", ev.ResultID, err))
		}
		verdict = results.CheckStore(s.store)
	}
	if s.metrics != nil {
		label := "complete"
		if !verdict.Complete {
			label = "incomplete"
		}
		s.metrics.CompletenessChecks.WithLabelValues(label).Inc()
	}
	if !verdict.Complete {
		s.logger.Printf("run %s incomplete: %s", ev.ResultID, verdict.Reason)
	}

	rec := s.buildRecord(ev, verdict)
	if s.archive != nil {
		if err := s.archive.Insert(ctx, rec); err != nil {
			s.report(fmt.Errorf("archive run %s: %w", ev.ResultID, err))
		} else {
			s.archiveBatches(ctx, ev.ResultID)
		}
	}

	s.mu.Lock()
	coord := s.coord
	cancelFeed := s.feedCancel
	s.feedCancel = nil
	s.mu.Unlock()

	if cancelFeed != nil {
		cancelFeed()
	}
	if coord != nil {
		coord.SetRunActive(false)
	}

	if s.onFinalized != nil {
		s.onFinalized(rec, verdict)
	}
}

// archiveBatches writes the run's trades, deals, and orders next to the
// summary record. Batch failures are reported, not fatal; the summary row is
// already in place.
func (s *Session) archiveBatches(ctx context.Context, resultID string) {
	if err := s.archive.InsertTrades(ctx, resultID, s.store.Trades()); err != nil {
		s.report(fmt.Errorf("archive trades for run %s: %w", resultID, err))
	}

	dealMap := s.store.Deals()
	deals := make([]domain.Deal, 0, len(dealMap))
	for _, d := range dealMap {
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool { return deals[i].DealID < deals[j].DealID })
	if err := s.archive.InsertDeals(ctx, resultID, deals); err != nil {
		s.report(fmt.Errorf("archive deals for run %s: %w", resultID, err))
	}

	orderMap := s.store.Orders()
	orders := make([]domain.Order, 0, len(orderMap))
	for _, o := range orderMap {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	if err := s.archive.InsertOrders(ctx, resultID, orders); err != nil {
		s.report(fmt.Errorf("archive orders for run %s: %w", resultID, err))
	}
}

// buildRecord assembles the archive record for a terminal run.
func (s *Session) buildRecord(ev run.Event, verdict results.Verdict) *domain.RunRecord {
	s.mu.Lock()
	task := s.task.Clone()
	startedAt := s.startedAt
	s.mu.Unlock()

	rec := &domain.RunRecord{
		ResultID:         ev.ResultID,
		Outcome:          ev.State.String(),
		Message:          ev.Message,
		Progress:         ev.Progress,
		Watermark:        s.store.Watermark(),
		TradeCount:       s.store.TradeCount(),
		DealCount:        s.store.DealCount(),
		Complete:         verdict.Complete,
		IncompleteReason: verdict.Reason,
		StartedAt:        startedAt,
		FinishedAt:       time.Now().UnixMilli(),
	}
	if ev.Class != run.ErrorClassNone {
		rec.ErrorClass = ev.Class.String()
	}
	if task != nil {
		rec.TaskID = task.TaskID
		rec.TaskName = task.Name
	}
	if stats := s.store.Statistics(); stats != nil {
		rec.NetProfit = stats.NetProfit
		rec.WinRate = stats.WinRate
		rec.MaxDrawdownPct = stats.MaxDrawdownPct
		rec.FinalBalance = stats.FinalBalance
	}
	return rec
}

// Close tears the session down: best-effort persistence of anything dirty,
// bounded rather than guaranteed. The live run, if any, keeps running
// server-side.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	coord := s.coord
	cancelFeed := s.feedCancel
	s.feedCancel = nil
	s.mu.Unlock()

	if cancelFeed != nil {
		cancelFeed()
	}
	if coord != nil {
		coord.FlushAllBestEffort()
		coord.Close()
	}
}
