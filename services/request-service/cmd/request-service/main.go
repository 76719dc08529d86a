package main

import (
	"context"
	"log/slog"
	"os"

	"urclec/internal/platform/dbx"
	"urclec/internal/platform/envconf"
	"urclec/internal/platform/httpx"
	"urclec/internal/platform/logging"
	"urclec/internal/platform/session"
	"urclec/internal/platform/telemetry"
	"urclec/services/request-service/internal/config"
	"urclec/services/request-service/internal/httpapi"
	"urclec/services/request-service/internal/store/postgres"
)

const serviceName = "request-service"

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

	ctx := context.Background()
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

	metrics := httpx.NewMetrics(serviceName)
	handler := httpapi.NewHandler(postgres.NewStore(pool), metrics)
	auth := session.NewMiddleware(session.NewIssuer([]byte(cfg.SessionSecret)), resolver, session.Public)
	proxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("trusted proxies", "error", err)
		os.Exit(1)
	}
	limiter := httpx.NewRateLimiter(httpx.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		UserPerMinute:  cfg.UserRateLimitPerMinute,
		UserBurst:      cfg.UserRateLimitBurst,
		TrustedProxies: proxies,
	})
	defer limiter.Stop()

	routes := limiter.Middleware(auth.Handler(limiter.UserMiddleware(handler.Routes())))
	server := httpx.NewServer(":"+cfg.Port, telemetry.Handler(serviceName, httpx.LoggingMiddleware(logger, metrics, routes)))
	if err := httpx.Serve(ctx, logger, server); err != nil {
		logger.Error("server", "error", err)
	}
}
