package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liumaishenjian/natural-language-to-sql/internal/api"
	"github.com/liumaishenjian/natural-language-to-sql/internal/api/uistatic"
	"github.com/liumaishenjian/natural-language-to-sql/internal/app"
	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("nl2sql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	application, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = application.Close() }()

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Pipeline:          application.Pipeline,
		Schema:            application.Describer,
		QueryEngine:       application.Engine,
		PreviewRows:       cfg.Query.PreviewRows,
		UI:                uistatic.Handler(),
		Readiness:         api.CombineReadinessChecks(application.HealthCheck, application.ExportCheck),
		DependencyTimeout: time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		_ = application.Close()
		os.Exit(1)
	}
}
