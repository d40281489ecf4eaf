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
	"github.com/ErlanBelekov/pwchain/internal/health"
	"github.com/ErlanBelekov/pwchain/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/pwchain/internal/log"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	httptransport "github.com/ErlanBelekov/pwchain/internal/transport/http"
	"github.com/ErlanBelekov/pwchain/internal/transport/http/handler"
	"github.com/ErlanBelekov/pwchain/internal/transport/http/middleware"
	"github.com/ErlanBelekov/pwchain/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, "pwchain-server", 25)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}

	// Users
	userRepo := postgres.NewUserRepository(pool)

	// Workchains
	workchainRepo := postgres.NewWorkchainRepository(pool)
	attemptRepo := postgres.NewAttemptRepository(pool)
	workchainUsecase := usecase.NewWorkchainUsecase(workchainRepo, attemptRepo, cfg.MaxIterations)
	workchainHandler := handler.NewWorkchainHandler(workchainUsecase, logger)

	// XML decoding
	resolver := qexml.NewResolver(afero.NewReadOnlyFs(afero.NewOsFs()), cfg.SchemaDir, cfg.DefaultSchema, logger)
	parseUsecase := usecase.NewParseUsecase(resolver, logger)
	parseHandler := handler.NewParseHandler(parseUsecase, logger)

	authMW, err := middleware.Auth(ctx, cfg.JWKSURL, []byte(cfg.JWTSecret))
	if err != nil {
		stop()
		log.Fatalf("auth: %v", err)
	}

	metrics.Register()
	checker := health.NewChecker(pool, resolver, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, workchainHandler, parseHandler, userRepo, authMW, cfg.Env != "local"),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
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
