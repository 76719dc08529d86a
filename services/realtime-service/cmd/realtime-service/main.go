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
	"urclec/internal/platform/session"
	"urclec/internal/platform/telemetry"
	"urclec/services/realtime-service/internal/config"
	"urclec/services/realtime-service/internal/hub"
	"urclec/services/realtime-service/internal/relay"
	"urclec/services/realtime-service/internal/socket"
)

const serviceName = "realtime-service"

func main() {
	if err := envconf.LoadDotEnv(""); err != nil {
		slog.Warn("load .env", "error", err)
	}
	logger := logging.Setup(serviceName)
	cfg := config.Load()
	if cfg.SessionSecret == "" {
		logger.Error("SESSION_SECRET is required")
		os.Exit(1)
	}

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

	resolver, cache, err := session.Build(ctx, pool, cfg.RedisURL, cfg.SessionCacheTTL)
	if err != nil {
		logger.Error("session resolver", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer cache.Close()
	}
	auth := session.NewMiddleware(session.NewIssuer([]byte(cfg.SessionSecret)), resolver, nil)

	metrics := httpx.NewMetrics(serviceName)
	h := hub.New()
	r := relay.New(outbox.NewPGFeed(pool), outbox.NewPGDirectory(pool), h, relay.Config{
		Consumer:  serviceName,
		BatchSize: cfg.BatchSize,
		Metrics:   metrics,
	})
	go r.Start(ctx, cfg.PollInterval)

	proxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("trusted proxies", "error", err)
		os.Exit(1)
	}
	limiter := httpx.NewRateLimiter(httpx.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		TrustedProxies: proxies,
	})
	defer limiter.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w, http.MethodGet)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/realtime/", socket.NewHandler("/realtime", auth, h, metrics))

	server := httpx.NewServer(":"+cfg.Port, telemetry.Handler(serviceName, httpx.LoggingMiddleware(logger, metrics, limiter.Middleware(mux))))
	// SockJS streaming transports hold the response open.
	server.WriteTimeout = 0
	if err := httpx.Serve(ctx, logger, server); err != nil {
		logger.Error("server", "error", err)
	}
}
