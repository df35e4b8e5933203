package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/api"
	"github.com/Real-Dev-Squad/todo-sync/internal/config"
	"github.com/Real-Dev-Squad/todo-sync/internal/mapper"
	"github.com/Real-Dev-Squad/todo-sync/internal/orchestrator"
	"github.com/Real-Dev-Squad/todo-sync/internal/primary"
	"github.com/Real-Dev-Squad/todo-sync/internal/secondary"
	"github.com/Real-Dev-Squad/todo-sync/internal/tracker"
	"github.com/Real-Dev-Squad/todo-sync/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "todosync - dual-write synchronization service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize secondary store (migrations, WAL mode)
	db, err := secondary.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("secondary store initialized", "path", cfg.Database.Path)

	// 5. Initialize sync state tracker
	trk, err := tracker.New(db)
	if err != nil {
		return err
	}

	// 6. Initialize primary document store
	docs, closeDocs, err := newPrimaryStore(cfg)
	if err != nil {
		return err
	}
	slog.Info("primary store initialized", "kind", cfg.Primary.Kind)

	// 7. Wire the pipeline
	m := mapper.New(mapper.DefaultRegistry())
	adapter := secondary.NewAdapter(db)
	orch := orchestrator.New(orchestrator.Config{
		Enabled:        cfg.Sync.Enabled,
		RetryAttempts:  cfg.Sync.RetryAttempts,
		RetryBaseDelay: time.Duration(cfg.Sync.RetryBaseDelay),
		RetryMaxDelay:  time.Duration(cfg.Sync.RetryMaxDelay),
	}, m, adapter, trk, docs)
	batch := orchestrator.NewBatchCoordinator(orch, cfg.Sync.BatchConcurrency)
	slog.Info("orchestrator initialized", "enabled", cfg.Sync.Enabled)

	// 8. Initialize HTTP router
	handler := api.NewHandler(trk, orch, batch, m, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 9. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Worker lifecycle infrastructure
	var wg sync.WaitGroup
	replay := worker.NewReplayWorker(trk, orch,
		time.Duration(cfg.Worker.ReplayInterval),
		cfg.Worker.ReplayBatchSize,
		time.Duration(cfg.Worker.FailureRetention))
	startWorker(ctx, &wg, "replay", replay.Run)

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers to complete
	wg.Wait()

	// 13c. Close stores
	if closeDocs != nil {
		if err := closeDocs(); err != nil {
			slog.Error("primary store close error", "error", err)
		}
	}
	if err := db.Close(); err != nil {
		slog.Error("secondary store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newPrimaryStore builds the document store named by primary.kind and
// returns an optional close function for stores that hold connections.
func newPrimaryStore(cfg *config.Config) (primary.DocumentStore, func() error, error) {
	switch cfg.Primary.Kind {
	case "memory":
		return primary.NewMemory(), nil, nil
	case "surreal":
		s, err := primary.NewSurreal(primary.SurrealConfig{
			URL:       cfg.Primary.URL,
			Namespace: cfg.Primary.Namespace,
			Database:  cfg.Primary.Database,
			User:      cfg.Primary.User,
			Pass:      cfg.Primary.Pass,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting primary store: %w", err)
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown primary store kind %q", cfg.Primary.Kind)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
