package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/pwchain/config"
	"github.com/ErlanBelekov/pwchain/internal/email"
	"github.com/ErlanBelekov/pwchain/internal/health"
	"github.com/ErlanBelekov/pwchain/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/pwchain/internal/log"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/ErlanBelekov/pwchain/internal/runner"
	"github.com/ErlanBelekov/pwchain/internal/scheduler"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, "pwchain-scheduler", int32(2*cfg.WorkerCount+4))
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}

	logger.Info("db connected")

	fs := afero.NewOsFs()
	resolver := qexml.NewResolver(afero.NewReadOnlyFs(fs), cfg.SchemaDir, cfg.DefaultSchema, logger)

	var families workchain.PseudoFamilyResolver
	if cfg.PseudoFamiliesFile != "" {
		table, err := workchain.LoadFamilies(fs, cfg.PseudoFamiliesFile)
		if err != nil {
			stop()
			log.Fatalf("pseudo families: %v", err)
		}
		families = table
		logger.Info("pseudo families loaded", "count", len(table))
	}

	metrics.Register()
	checker := health.NewChecker(pool, resolver, logger, prometheus.DefaultRegisterer)

	workchainRepo := postgres.NewWorkchainRepository(pool)
	attemptRepo := postgres.NewAttemptRepository(pool)

	pw := runner.New(fs, runner.Config{
		WorkDir:    cfg.WorkDir,
		PWCommand:  cfg.PWCommand,
		MPICommand: cfg.MPICommand,
		PseudoDir:  cfg.PseudoDir,
	}, resolver, logger)
	cleaner := runner.NewCleaner(fs, cfg.WorkDir)
	engine := scheduler.NewLocalEngine(pw, cleaner, families, logger, cfg.CleanupTimeout())

	notifier := email.NewNotifier(email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger), logger)

	worker := scheduler.NewWorker(
		workchainRepo,
		attemptRepo,
		engine,
		notifier,
		logger,
		cfg.PollInterval(),
		cfg.WorkerCount,
	)
	go worker.Start(ctx)

	// heartbeat fires every 10s; the timeout should allow several missed beats
	reaper := scheduler.NewReaper(workchainRepo, notifier, logger, 30*time.Second, cfg.HeartbeatTimeout())
	go reaper.Start(ctx)

	janitor, err := scheduler.NewJanitor(workchainRepo, cleaner, cfg.WorkDir, cfg.JanitorSchedule, cfg.WorkdirRetention(), logger)
	if err != nil {
		stop()
		log.Fatalf("janitor: %v", err)
	}
	go janitor.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
