// Package run drives one backtest run: the lifecycle state machine fed by
// the notification stream, and the synchronizer that pulls result deltas
// behind it.
package run

import (
	"context"
	"fmt"
	"log"
	"sync"

	"backtest-console/internal/domain"
	"backtest-console/internal/observability"
	"backtest-console/internal/service"
)

// State is the lifecycle state of a run.
type State int

// Lifecycle states. Error and Completed return to Idle only via a new start.
const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorClass distinguishes how a run ended up in the error state. It affects
// only the display label, never control flow.
type ErrorClass int

// Error classifications.
const (
	ErrorClassNone ErrorClass = iota
	ErrorClassFailed
	ErrorClassCancelled
	ErrorClassConnectionLost
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassNone:
		return "none"
	case ErrorClassFailed:
		return "failed"
	case ErrorClassCancelled:
		return "cancelled"
	case ErrorClassConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// EventType classifies lifecycle events delivered to subscribers.
type EventType int

// Event types.
const (
	// EventStarted fires once a start call has resolved and the run is live.
	EventStarted EventType = iota
	// EventProgress fires for every accepted data packet.
	EventProgress
	// EventTerminal fires when the run reaches completed or error.
	EventTerminal
)

// Event is a lifecycle notification. Subscribers receive a consistent
// snapshot; dependencies between derived values stay explicit through it.
type Event struct {
	Type        EventType
	State       State
	Class       ErrorClass
	Message     string
	ResultID    string
	Progress    float64
	CurrentTime int64
}

// Lifecycle is the finite-state machine over one view's run. It owns the
// live result identity, the progress percentage, and the error
// classification. All inbound packets funnel through HandlePacket.
type Lifecycle struct {
	svc     service.Backtest
	logger  *log.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	state       State
	starting    bool // a start call is in flight; rejects concurrent starts
	taskID      string
	resultID    string
	progress    float64
	currentTime int64
	errClass    ErrorClass
	errMessage  string
	subs        []func(Event)
}

// LifecycleOptions contains configuration for creating a Lifecycle.
type LifecycleOptions struct {
	Service service.Backtest
	Logger  *log.Logger
	Metrics *observability.Metrics
}

// NewLifecycle creates an idle lifecycle.
func NewLifecycle(opts LifecycleOptions) *Lifecycle {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{
		svc:     opts.Service,
		logger:  logger,
		metrics: opts.Metrics,
		state:   StateIdle,
	}
}

// Subscribe registers a listener for lifecycle events. Not safe to call
// concurrently with event delivery; wire subscribers up front.
func (l *Lifecycle) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// Start begins a run for the task and returns the assigned result ID.
// Rejected with service.ErrRunActive while a run is live or a previous start
// has not resolved. A failed start leaves the state unchanged: the run never
// entered running, so no transition happened.
func (l *Lifecycle) Start(ctx context.Context, taskID string) (string, error) {
	l.mu.Lock()
	if l.state == StateRunning || l.starting {
		l.mu.Unlock()
		return "", service.ErrRunActive
	}
	l.starting = true
	l.mu.Unlock()

	res, err := l.svc.StartRun(ctx, taskID)

	l.mu.Lock()
	l.starting = false
	if err != nil {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.StartFailures.Inc()
		}
		return "", fmt.Errorf("start run for task %s: %w", taskID, err)
	}

	l.state = StateRunning
	l.taskID = taskID
	l.resultID = res.ResultID
	l.progress = 0
	l.currentTime = 0
	l.errClass = ErrorClassNone
	l.errMessage = ""
	ev := l.eventLocked(EventStarted)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RunsStarted.Inc()
		l.metrics.RunProgress.Set(0)
	}
	l.logger.Printf("run started: task=%s result=%s", taskID, res.ResultID)
	l.publish(ev)
	return res.ResultID, nil
}

// Stop requests termination of the live run. It does not change state:
// confirmed termination arrives as a terminal packet, which decouples
// "requested stop" from "confirmed stopped" under network races.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return service.ErrNoRun
	}
	taskID := l.taskID
	l.mu.Unlock()

	if err := l.svc.StopRun(ctx, taskID); err != nil {
		return fmt.Errorf("stop run for task %s: %w", taskID, err)
	}
	return nil
}

// HandlePacket applies one inbound notification. Packets carrying a result
// ID different from the live one are dropped as stale noise; packets arriving
// with no live run are dropped the same way. A malformed packet on a live run
// fails the run.
func (l *Lifecycle) HandlePacket(p domain.Packet) {
	if l.metrics != nil {
		l.metrics.PacketsReceived.WithLabelValues(string(p.Type)).Inc()
	}

	l.mu.Lock()

	if l.state != StateRunning || (p.ResultID != "" && p.ResultID != l.resultID) {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.PacketsStale.Inc()
		}
		return
	}

	if err := p.Validate(); err != nil {
		l.logger.Printf("malformed packet on run %s: %v", l.resultID, err)
		l.terminateLocked(StateError, ErrorClassFailed, "malformed notification")
		return
	}

	switch p.Type {
	case domain.PacketStart:
		// Confirms what Start already established; nothing to apply.
		l.mu.Unlock()

	case domain.PacketData:
		l.progress = clampProgress(p.Progress)
		if p.CurrentTime > 0 {
			l.currentTime = p.CurrentTime
		}
		ev := l.eventLocked(EventProgress)
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.RunProgress.Set(ev.Progress)
		}
		l.publish(ev)

	case domain.PacketError:
		l.terminateLocked(StateError, ErrorClassFailed, p.Message)

	case domain.PacketCancel:
		l.terminateLocked(StateError, ErrorClassCancelled, p.Message)

	case domain.PacketEnd:
		l.progress = 100
		l.terminateLocked(StateCompleted, ErrorClassNone, "")
	}
}

// HandleFeedClosed resolves an unexpectedly closed feed. A live run must
// never be left silently stuck in running, so this maps to an error with a
// connection-lost classification. No-op outside running.
func (l *Lifecycle) HandleFeedClosed() {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return
	}
	l.terminateLocked(StateError, ErrorClassConnectionLost, "connection lost")
}

// terminateLocked moves to a terminal state and publishes the transition.
// Takes ownership of the held lock and releases it.
func (l *Lifecycle) terminateLocked(state State, class ErrorClass, msg string) {
	l.state = state
	l.errClass = class
	l.errMessage = msg
	ev := l.eventLocked(EventTerminal)
	l.mu.Unlock()

	if l.metrics != nil {
		outcome := "completed"
		if state == StateError {
			outcome = class.String()
		}
		l.metrics.RunsTerminal.WithLabelValues(outcome).Inc()
	}
	l.logger.Printf("run %s terminal: state=%s class=%s msg=%q", ev.ResultID, state, class, msg)
	l.publish(ev)
}

func (l *Lifecycle) eventLocked(t EventType) Event {
	return Event{
		Type:        t,
		State:       l.state,
		Class:       l.errClass,
		Message:     l.errMessage,
		ResultID:    l.resultID,
		Progress:    l.progress,
		CurrentTime: l.currentTime,
	}
}

func (l *Lifecycle) publish(ev Event) {
	l.mu.Lock()
	subs := make([]func(Event), len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ResultID returns the live run identity, empty when idle.
func (l *Lifecycle) ResultID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resultID
}

// Progress returns the current progress percentage.
func (l *Lifecycle) Progress() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// CurrentTime returns the latest simulation clock position seen, unix ms.
func (l *Lifecycle) CurrentTime() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTime
}

// ErrorInfo returns the error classification and message of the last
// terminal error state.
func (l *Lifecycle) ErrorInfo() (ErrorClass, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errClass, l.errMessage
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
