// Package autosave debounces and serializes persistence of the two pieces of
// user-edited state: strategy source text and the task record. Writes are
// suppressed while a task is loading or a run is active; the run start path
// forces a flush before the service reads task state.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"backtest-console/internal/domain"
	"backtest-console/internal/observability"
	"backtest-console/internal/service"
)

// DefaultDelay is the debounce quiet period before a save fires.
const DefaultDelay = 5 * time.Second

// DefaultBestEffortTimeout bounds the fire-and-forget saves at teardown.
const DefaultBestEffortTimeout = 2 * time.Second

// Coordinator owns the two debounce timers for one open task. Timers are
// cancelled with the coordinator; a session creates a fresh coordinator on
// every task switch so handles never leak across task boundaries.
type Coordinator struct {
	strategySvc service.Strategy
	taskSvc     service.Tasks
	logger      *log.Logger
	metrics     *observability.Metrics
	report      func(error)

	delay             time.Duration
	bestEffortTimeout time.Duration

	// StrategySource and TaskRecord return the latest payloads at save time,
	// so a debounced save always persists the full current state.
	strategySource func() (path, source string)
	taskRecord     func() *domain.Task

	mu            sync.Mutex
	strategyTimer *time.Timer
	taskTimer     *time.Timer
	strategyDirty bool
	taskDirty     bool
	strategyGen   uint64 // bumped per edit; a save only clears its own generation
	taskGen       uint64
	loading       bool
	runActive     bool
	closed        bool
}

// Options contains configuration for creating a Coordinator.
type Options struct {
	StrategyService service.Strategy
	TaskService     service.Tasks

	// StrategySource supplies the current strategy path and text.
	StrategySource func() (path, source string)
	// TaskRecord supplies the current task record.
	TaskRecord func() *domain.Task

	Delay             time.Duration // default DefaultDelay
	BestEffortTimeout time.Duration // default DefaultBestEffortTimeout
	Logger            *log.Logger
	Metrics           *observability.Metrics
	// Report receives save failures; they are reportable, never fatal.
	Report func(error)
}

// New creates a coordinator with both timers disarmed.
func New(opts Options) *Coordinator {
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	timeout := opts.BestEffortTimeout
	if timeout == 0 {
		timeout = DefaultBestEffortTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	report := opts.Report
	if report == nil {
		report = func(err error) { logger.Printf("autosave: %v", err) }
	}

	return &Coordinator{
		strategySvc:       opts.StrategyService,
		taskSvc:           opts.TaskService,
		strategySource:    opts.StrategySource,
		taskRecord:        opts.TaskRecord,
		delay:             delay,
		bestEffortTimeout: timeout,
		logger:            logger,
		metrics:           opts.Metrics,
		report:            report,
	}
}

// OnStrategyEdited marks the strategy source unsaved and (re)arms its
// debounce timer. No-op while a task is loading.
func (c *Coordinator) OnStrategyEdited() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.loading {
		return
	}
	c.strategyDirty = true
	c.strategyGen++

	if c.strategyTimer != nil {
		c.strategyTimer.Stop()
	}
	c.strategyTimer = time.AfterFunc(c.delay, c.fireStrategy)
}

// OnParametersEdited marks the task record unsaved and (re)arms its debounce
// timer. No-op while loading; while a run is active the dirty mark is kept
// but the timer is refused: parameters must not drift mid-run, the next
// forced flush persists them.
func (c *Coordinator) OnParametersEdited() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.loading {
		return
	}
	c.taskDirty = true
	c.taskGen++

	if c.runActive {
		if c.metrics != nil {
			c.metrics.SavesSuppressed.Inc()
		}
		return
	}
	if c.taskTimer != nil {
		c.taskTimer.Stop()
	}
	c.taskTimer = time.AfterFunc(c.delay, c.fireTask)
}

// OnFormFieldsChanged is the form-widget entry point; same discipline as
// OnParametersEdited.
func (c *Coordinator) OnFormFieldsChanged() {
	c.OnParametersEdited()
}

// SetLoading toggles the task-loading suppression flag.
func (c *Coordinator) SetLoading(loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = loading
}

// SetRunActive toggles the run-active suppression flag.
func (c *Coordinator) SetRunActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runActive = active
}

// HasUnsavedChanges reports whether either target has edits not yet
// persisted.
func (c *Coordinator) HasUnsavedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategyDirty || c.taskDirty
}

// fireStrategy is the strategy debounce timer callback. Suppression is
// re-checked at fire time: a run may have started since the timer was armed.
func (c *Coordinator) fireStrategy() {
	c.mu.Lock()
	if c.closed || !c.strategyDirty {
		c.mu.Unlock()
		return
	}
	if c.loading || c.runActive {
		// Intentionally skipped, silent; the dirty mark survives.
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.SavesSuppressed.Inc()
		}
		return
	}
	gen := c.strategyGen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.bestEffortTimeout+c.delay)
	defer cancel()
	if err := c.saveStrategy(ctx, gen); err != nil {
		c.report(err)
	}
}

// fireTask is the task debounce timer callback.
func (c *Coordinator) fireTask() {
	c.mu.Lock()
	if c.closed || !c.taskDirty {
		c.mu.Unlock()
		return
	}
	if c.loading || c.runActive {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.SavesSuppressed.Inc()
		}
		return
	}
	gen := c.taskGen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.bestEffortTimeout+c.delay)
	defer cancel()
	if err := c.saveTask(ctx, gen); err != nil {
		c.report(err)
	}
}

// FlushAll cancels both timers and persists both targets. The two saves run
// concurrently and independently: failure of one is reported but does not
// prevent the other from completing. Returns the joined failures, if any.
func (c *Coordinator) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopTimersLocked()
	strategyDirty, taskDirty := c.strategyDirty, c.taskDirty
	strategyGen, taskGen := c.strategyGen, c.taskGen
	c.mu.Unlock()

	started := time.Now()
	var wg sync.WaitGroup
	var strategyErr, taskErr error

	if strategyDirty {
		wg.Add(1)
		go func() {
			defer wg.Done()
			strategyErr = c.saveStrategy(ctx, strategyGen)
		}()
	}
	if taskDirty {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskErr = c.saveTask(ctx, taskGen)
		}()
	}
	wg.Wait()

	if c.metrics != nil {
		c.metrics.FlushDuration.Observe(time.Since(started).Seconds())
	}
	return errors.Join(strategyErr, taskErr)
}

// FlushAllBestEffort attempts a fire-and-forget persistence of both targets.
// Session-teardown only: it optimizes for not blocking teardown over
// guaranteed durability, and that is the documented contract: best-effort,
// not at-least-once.
func (c *Coordinator) FlushAllBestEffort() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	strategyDirty, taskDirty := c.strategyDirty, c.taskDirty
	strategyGen, taskGen := c.strategyGen, c.taskGen
	c.mu.Unlock()

	if strategyDirty {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.bestEffortTimeout)
			defer cancel()
			if err := c.saveStrategy(ctx, strategyGen); err != nil {
				c.logger.Printf("best-effort strategy save: %v", err)
			}
		}()
	}
	if taskDirty {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.bestEffortTimeout)
			defer cancel()
			if err := c.saveTask(ctx, taskGen); err != nil {
				c.logger.Printf("best-effort task save: %v", err)
			}
		}()
	}
}

// Close cancels both timers permanently. Called on every task switch so no
// timer outlives its task.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimersLocked()
}

func (c *Coordinator) stopTimersLocked() {
	if c.strategyTimer != nil {
		c.strategyTimer.Stop()
		c.strategyTimer = nil
	}
	if c.taskTimer != nil {
		c.taskTimer.Stop()
		c.taskTimer = nil
	}
}

func (c *Coordinator) saveStrategy(ctx context.Context, gen uint64) error {
	if c.strategySvc == nil || c.strategySource == nil {
		return nil
	}
	path, source := c.strategySource()

	syntaxErrs, err := c.strategySvc.SaveStrategy(ctx, path, source)
	if err != nil {
		if c.metrics != nil {
			c.metrics.SaveFailures.WithLabelValues("strategy").Inc()
		}
		return fmt.Errorf("save strategy %s: %w", path, err)
	}
	if len(syntaxErrs) > 0 {
		c.logger.Printf("strategy %s saved with %d syntax errors", path, len(syntaxErrs))
	}
	if c.metrics != nil {
		c.metrics.SavesTotal.WithLabelValues("strategy").Inc()
	}

	c.mu.Lock()
	// Only clear if no edit arrived while the save was in flight.
	if c.strategyGen == gen {
		c.strategyDirty = false
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) saveTask(ctx context.Context, gen uint64) error {
	if c.taskSvc == nil || c.taskRecord == nil {
		return nil
	}
	task := c.taskRecord()
	if task == nil {
		return nil
	}

	if _, err := c.taskSvc.SaveTask(ctx, task); err != nil {
		if c.metrics != nil {
			c.metrics.SaveFailures.WithLabelValues("task").Inc()
		}
		return fmt.Errorf("save task %s: %w", task.TaskID, err)
	}
	if c.metrics != nil {
		c.metrics.SavesTotal.WithLabelValues("task").Inc()
	}

	c.mu.Lock()
	if c.taskGen == gen {
		c.taskDirty = false
	}
	c.mu.Unlock()
	return nil
}
