// Package rest is the HTTP implementation of the service contracts: it talks
// JSON to the backtest computation service. Network failures and unexpected
// statuses surface as *service.TransportError; business refusals map to the
// service sentinels.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"backtest-console/internal/domain"
	"backtest-console/internal/service"
	"backtest-console/internal/storage"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements the service contracts over HTTP JSON.
type Client struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new service client for the base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface checks.
var (
	_ service.Backtest = (*Client)(nil)
	_ service.Strategy = (*Client)(nil)
	_ service.Tasks    = (*Client)(nil)
)

// statusError carries a non-2xx response through the retry loop.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// do performs one request with retries and exponential backoff. Network
// failures, 429 and 5xx are retried; other statuses are returned to the
// caller for mapping.
func (c *Client) do(ctx context.Context, method, path string, reqBody, result interface{}) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &statusError{code: resp.StatusCode, body: string(respBody)}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return &statusError{code: resp.StatusCode, body: string(respBody)}
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// statusCode extracts the HTTP status from an error chain, 0 if none.
func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

type startRunRequest struct {
	TaskID string `json:"task_id"`
}

type startRunResponse struct {
	ResultID string `json:"result_id"`
}

// StartRun starts a backtest for the task and returns the run identity.
func (c *Client) StartRun(ctx context.Context, taskID string) (*service.StartResult, error) {
	var resp startRunResponse
	err := c.do(ctx, http.MethodPost, "/api/runs/start", startRunRequest{TaskID: taskID}, &resp)
	if err != nil {
		switch statusCode(err) {
		case http.StatusConflict:
			return nil, service.ErrRunActive
		case http.StatusUnprocessableEntity, http.StatusForbidden:
			return nil, service.ErrRejected
		}
		return nil, service.NewTransportError("start run", err)
	}
	if resp.ResultID == "" {
		return nil, service.NewTransportError("start run", fmt.Errorf("empty result_id"))
	}
	return &service.StartResult{ResultID: resp.ResultID}, nil
}

// StopRun requests termination of the task's live run.
func (c *Client) StopRun(ctx context.Context, taskID string) error {
	err := c.do(ctx, http.MethodPost, "/api/runs/stop", startRunRequest{TaskID: taskID}, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return service.ErrNoRun
		}
		return service.NewTransportError("stop run", err)
	}
	return nil
}

// FetchResults returns the result delta since the given timestamp.
func (c *Client) FetchResults(ctx context.Context, taskID, resultID string, since int64) (*domain.ResultsDelta, error) {
	q := url.Values{}
	q.Set("task_id", taskID)
	q.Set("result_id", resultID)
	q.Set("since", strconv.FormatInt(since, 10))

	var resp wireDelta
	err := c.do(ctx, http.MethodGet, "/api/runs/results?"+q.Encode(), nil, &resp)
	if err != nil {
		return nil, service.NewTransportError("fetch results", err)
	}
	return resp.toDomain(), nil
}

type saveStrategyRequest struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}

type saveStrategyResponse struct {
	SyntaxErrors []wireSyntaxError `json:"syntax_errors,omitempty"`
}

type wireSyntaxError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// SaveStrategy writes the source and returns syntax diagnostics, if any.
func (c *Client) SaveStrategy(ctx context.Context, path, source string) ([]service.SyntaxError, error) {
	var resp saveStrategyResponse
	err := c.do(ctx, http.MethodPut, "/api/strategies", saveStrategyRequest{Path: path, Source: source}, &resp)
	if err != nil {
		return nil, service.NewTransportError("save strategy", err)
	}

	var diags []service.SyntaxError
	for _, e := range resp.SyntaxErrors {
		diags = append(diags, service.SyntaxError{Line: e.Line, Column: e.Column, Message: e.Message})
	}
	return diags, nil
}

// SaveTask persists the record and returns the updated copy.
func (c *Client) SaveTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	var resp wireTask
	err := c.do(ctx, http.MethodPut, "/api/tasks", newWireTask(task), &resp)
	if err != nil {
		return nil, service.NewTransportError("save task", err)
	}
	return resp.toDomain(), nil
}

// GetTask loads a task record by ID.
func (c *Client) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var resp wireTask
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), nil, &resp)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, service.NewTransportError("get task", err)
	}
	return resp.toDomain(), nil
}
