// Package service defines the external call contracts the orchestration core
// depends on: starting/stopping runs, fetching result deltas, and persisting
// strategy source and task records. Implementations live in the rest and
// local subpackages.
package service

import (
	"context"

	"backtest-console/internal/domain"
)

// StartResult is the response to a successful run start.
type StartResult struct {
	ResultID string
}

// SyntaxError is one strategy-source diagnostic returned by SaveStrategy.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

// Backtest is the run computation service.
type Backtest interface {
	// StartRun starts a backtest for the task and returns the run identity.
	StartRun(ctx context.Context, taskID string) (*StartResult, error)

	// StopRun requests termination of the task's live run. It does not
	// guarantee termination; that is confirmed only by a terminal packet on
	// the notification feed.
	StopRun(ctx context.Context, taskID string) error

	// FetchResults returns the result delta since the given timestamp (ms).
	// Any field of the delta may be absent.
	FetchResults(ctx context.Context, taskID, resultID string, since int64) (*domain.ResultsDelta, error)
}

// Strategy persists strategy source text.
type Strategy interface {
	// SaveStrategy writes the source and returns syntax diagnostics, if any.
	// Diagnostics are not an error: the save succeeded.
	SaveStrategy(ctx context.Context, path, source string) ([]SyntaxError, error)
}

// Tasks persists task records.
type Tasks interface {
	// SaveTask persists the record and returns the updated copy.
	SaveTask(ctx context.Context, task *domain.Task) (*domain.Task, error)

	// GetTask loads a task record by ID.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
}
