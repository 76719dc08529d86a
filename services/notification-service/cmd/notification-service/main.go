package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"urclec/internal/outbox"
	"urclec/internal/platform/dbx"
	"urclec/internal/platform/envconf"
	"urclec/internal/platform/httpx"
	"urclec/internal/platform/logging"
	"urclec/internal/platform/telemetry"
	"urclec/services/notification-service/internal/config"
	"urclec/services/notification-service/internal/store/postgres"
	"urclec/services/notification-service/internal/worker"
)

const serviceName = "notification-service"

func main() {
	if err := envconf.LoadDotEnv(""); err != nil {
		slog.Warn("load .env", "error", err)
	}
	logger := logging.Setup(serviceName)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownTracing := telemetry.Setup(serviceName)
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := dbx.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts)
	if err != nil {
		logger.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	providers := make(map[string]worker.Provider, len(cfg.Providers))
	for channel, kind := range cfg.Providers {
		providers[channel] = worker.NewProvider(kind, channel)
	}
	metrics := httpx.NewMetrics(serviceName)
	w := worker.New(postgres.NewStore(pool), outbox.NewPGFeed(pool), outbox.NewPGDirectory(pool), worker.Config{
		Consumer:    serviceName,
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
		Providers:   providers,
		Metrics:     metrics,
	})
	go worker.Start(ctx, cfg.PollInterval, w)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())
	server := httpx.NewServer(":"+cfg.Port, mux)
	if err := httpx.Serve(ctx, logger, server); err != nil {
		logger.Error("server", "error", err)
	}
}
