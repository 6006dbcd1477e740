// Package main runs the backtest console service: it opens tasks, starts and
// observes runs on the computation service, keeps local results synchronized,
// autosaves edits, and archives finished runs. A small HTTP surface exposes
// control, status and metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"backtest-console/internal/domain"
	"backtest-console/internal/feed"
	"backtest-console/internal/observability"
	"backtest-console/internal/results"
	"backtest-console/internal/service"
	"backtest-console/internal/service/local"
	"backtest-console/internal/service/rest"
	"backtest-console/internal/session"
	"backtest-console/internal/storage"
	chstore "backtest-console/internal/storage/clickhouse"
	"backtest-console/internal/storage/memory"
	"backtest-console/internal/storage/migrations"
	pgstore "backtest-console/internal/storage/postgres"
)

// Console holds the wired components of the service.
type Console struct {
	session *session.Session
	logger  *log.Logger

	mu          sync.Mutex
	started     time.Time
	lastVerdict *results.Verdict
	lastRun     *domain.RunRecord
}

func main() {
	// Load .env if present; system env vars win.
	_ = godotenv.Load()

	serviceURL := flag.String("service-url", os.Getenv("BACKTEST_SERVICE_URL"), "Backtest service base URL")
	feedURL := flag.String("feed-url", os.Getenv("BACKTEST_FEED_URL"), "Run notification WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for local persistence")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the run archive")
	useMemory := flag.Bool("use-memory", false, "Use in-memory persistence instead of PostgreSQL")
	taskID := flag.String("task", "", "Task to open on startup")
	autosaveDelay := flag.Duration("autosave-delay", 5*time.Second, "Debounce delay for autosaves")
	listenAddr := flag.String("listen-addr", ":8080", "Control/metrics HTTP address")

	flag.Parse()

	logger := log.New(os.Stdout, "[console] ", log.LstdFlags|log.Lshortfile)

	if *serviceURL == "" {
		logger.Fatal("--service-url is required")
	}
	if *feedURL == "" {
		logger.Fatal("--feed-url is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("")

	backtest := rest.NewClient(*serviceURL)

	strategySvc, taskSvc, cleanup, err := createPersistence(ctx, *serviceURL, *postgresDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create persistence: %v", err)
	}
	defer cleanup()

	var archive storage.RunArchiveStore
	if *clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to prepare clickhouse: %v", err)
		}
		defer conn.Close()
		archive = chstore.NewRunArchiveStore(conn)
		logger.Printf("Run archive enabled: %s", *clickhouseDSN)
	}

	console := &Console{
		logger:  logger,
		started: time.Now(),
	}

	console.session = session.New(session.Options{
		Backtest:      backtest,
		Strategy:      strategySvc,
		Tasks:         taskSvc,
		Feed:          feed.NewClient(*feedURL, nil, logger),
		Archive:       archive,
		AutosaveDelay: *autosaveDelay,
		Logger:        logger,
		Metrics:       metrics,
		OnFinalized: func(rec *domain.RunRecord, verdict results.Verdict) {
			console.mu.Lock()
			console.lastRun = rec
			console.lastVerdict = &verdict
			console.mu.Unlock()
		},
	})
	defer console.session.Close()

	if *taskID != "" {
		if err := console.session.SwitchTask(ctx, *taskID); err != nil {
			logger.Fatalf("Failed to open task %s: %v", *taskID, err)
		}
	}

	server := &http.Server{Addr: *listenAddr, Handler: console.routes()}
	go func() {
		logger.Printf("Starting HTTP server on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}

	// Session close flushes unsaved edits best-effort; the live run, if any,
	// keeps running server-side.
	console.session.Close()
	cancel()
	logger.Println("Shutdown complete")
}

// createPersistence wires the strategy/task services: store-backed when a
// local backend is selected, otherwise the remote service handles both.
func createPersistence(ctx context.Context, serviceURL, postgresDSN string, useMemory bool, logger *log.Logger) (service.Strategy, service.Tasks, func(), error) {
	switch {
	case useMemory:
		logger.Println("Using in-memory persistence")
		return local.NewStrategyService(memory.NewStrategyStore()),
			local.NewTaskService(memory.NewTaskStore()),
			func() {}, nil

	case postgresDSN != "":
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		logger.Println("Using PostgreSQL persistence")
		return local.NewStrategyService(pgstore.NewStrategyStore(pool)),
			local.NewTaskService(pgstore.NewTaskStore(pool)),
			pool.Close, nil

	default:
		logger.Println("Using remote persistence")
		client := rest.NewClient(serviceURL)
		return client, client, func() {}, nil
	}
}

// routes builds the control HTTP surface.
func (c *Console) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", c.handleStatus)

	mux.HandleFunc("POST /tasks/open", c.handleOpenTask)
	mux.HandleFunc("POST /run/start", c.handleStartRun)
	mux.HandleFunc("POST /run/stop", c.handleStopRun)
	mux.HandleFunc("PUT /strategy", c.handlePutStrategy)

	return mux
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	TaskID          string  `json:"task_id,omitempty"`
	TaskName        string  `json:"task_name,omitempty"`
	RunState        string  `json:"run_state"`
	ResultID        string  `json:"result_id,omitempty"`
	Progress        float64 `json:"progress"`
	Watermark       int64   `json:"watermark"`
	TradeCount      int     `json:"trade_count"`
	DealCount       int     `json:"deal_count"`
	UnsavedChanges  bool    `json:"unsaved_changes"`
	LastRunComplete *bool   `json:"last_run_complete,omitempty"`
	LastRunReason   string  `json:"last_run_reason,omitempty"`
}

func (c *Console) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := c.session
	lc := s.Lifecycle()

	resp := StatusResponse{
		Status:         "ok",
		Uptime:         time.Since(c.started).Round(time.Second).String(),
		RunState:       lc.State().String(),
		ResultID:       lc.ResultID(),
		Progress:       lc.Progress(),
		Watermark:      s.Store().Watermark(),
		TradeCount:     s.Store().TradeCount(),
		DealCount:      s.Store().DealCount(),
		UnsavedChanges: s.HasUnsavedChanges(),
	}
	if task := s.Task(); task != nil {
		resp.TaskID = task.TaskID
		resp.TaskName = task.Name
	}

	c.mu.Lock()
	if c.lastVerdict != nil {
		complete := c.lastVerdict.Complete
		resp.LastRunComplete = &complete
		resp.LastRunReason = c.lastVerdict.Reason
	}
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (c *Console) handleOpenTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("id")
	if taskID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	if err := c.session.SwitchTask(r.Context(), taskID); err != nil {
		if errors.Is(err, service.ErrRunActive) {
			http.Error(w, "a run is active", http.StatusConflict)
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		c.logger.Printf("open task %s: %v", taskID, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Console) handleStartRun(w http.ResponseWriter, r *http.Request) {
	resultID, err := c.session.StartRun(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunActive):
			http.Error(w, "a run is already active", http.StatusConflict)
		case errors.Is(err, service.ErrRejected):
			http.Error(w, "run rejected", http.StatusUnprocessableEntity)
		default:
			c.logger.Printf("start run: %v", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result_id": resultID})
}

func (c *Console) handleStopRun(w http.ResponseWriter, r *http.Request) {
	if err := c.session.StopRun(r.Context()); err != nil {
		if errors.Is(err, service.ErrNoRun) {
			http.Error(w, "no active run", http.StatusNotFound)
			return
		}
		c.logger.Printf("stop run: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Console) handlePutStrategy(w http.ResponseWriter, r *http.Request) {
	source, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	c.session.SetStrategySource(string(source))
	w.WriteHeader(http.StatusAccepted)
}
