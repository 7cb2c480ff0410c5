package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fentz26/circadia/internal/agents"
	"github.com/fentz26/circadia/internal/audit"
	"github.com/fentz26/circadia/internal/config"
	"github.com/fentz26/circadia/internal/connectors/websearch"
	"github.com/fentz26/circadia/internal/controlplane"
	"github.com/fentz26/circadia/internal/executor"
	"github.com/fentz26/circadia/internal/guard"
	"github.com/fentz26/circadia/internal/research"
	"github.com/fentz26/circadia/internal/retry"
	"github.com/fentz26/circadia/internal/scheduler"
	"github.com/fentz26/circadia/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Circadia daemon",
	Long:  `Starts the scheduler, the research runner and the HTTP admin API. Configuration is read from the environment and an optional .env file; flags override it.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides CIRCADIA_LISTEN)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides CIRCADIA_DB)")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting circadia daemon", "version", controlplane.Version, "db", cfg.Database.Path)

	// Initialize store
	s, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing database connection")
		if err := s.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}()

	recorder := audit.NewRecorder(s)

	// Job execution
	handlers := agents.Handlers(agents.Deps{Store: s, Logger: logger})
	if missing := executor.MissingHandlers(handlers); len(missing) > 0 {
		return fmt.Errorf("no handler registered for job types %v", missing)
	}
	exec := executor.New(s, handlers,
		executor.WithPrecondition(agents.Eligibility{Users: s, ActiveWithin: cfg.Scheduler.ActiveWithin}),
		executor.WithRecorder(recorder),
		executor.WithTimeout(cfg.Scheduler.JobTimeout),
		executor.WithLogger(logger.With("component", "executor")),
	)

	sched := scheduler.New(s, exec, guard.New(), &scheduler.Config{
		DispatchInterval:   cfg.Scheduler.DispatchInterval,
		GenerationInterval: cfg.Scheduler.GenerationInterval,
		MaxConcurrentUsers: cfg.Scheduler.MaxConcurrentUsers,
		ActiveWithin:       cfg.Scheduler.ActiveWithin,
	}, logger.With("component", "scheduler"))

	// Research
	var runner *research.Runner
	if cfg.Research.Enabled {
		searcher := websearch.New(cfg.Search.BaseURL, cfg.Search.APIKey, &http.Client{})
		runner = research.NewRunner(s, searcher, research.SnippetAnalyzer{}, recorder, &research.Config{
			Interval:       cfg.Research.Interval,
			BatchSize:      cfg.Research.BatchSize,
			StaleAfter:     cfg.Research.StaleAfter,
			ShallowTimeout: cfg.Search.ShallowTimeout,
			DeepTimeout:    cfg.Search.DeepTimeout,
			Retry: retry.Policy{
				MaxAttempts: cfg.Search.MaxRetries,
				BaseDelay:   cfg.Search.BaseBackoff,
				Multiplier:  cfg.Search.Multiplier,
			},
		}, logger.With("component", "research"))
	}

	service := controlplane.NewService(s, sched, runner, recorder)
	server := controlplane.NewServer(service, s, cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start()
	if runner != nil {
		runner.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()

	// Stop workers after the API so no new users are scheduled mid-drain.
	sched.Stop()
	if runner != nil {
		runner.Stop()
	}

	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
