package config

import (
	"time"

	"urclec/internal/platform/envconf"
)

type Config struct {
	Port               string
	DatabaseURL        string
	DBConnectAttempts  int
	SessionSecret      string
	RedisURL           string
	SessionCacheTTL    time.Duration
	PollInterval       time.Duration
	BatchSize          int
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustedProxies     []string
}

func Load() Config {
	return Config{
		Port:               envconf.String("REALTIME_PORT", "8084"),
		DatabaseURL:        envconf.String("DB_DSN", ""),
		DBConnectAttempts:  envconf.Int("DB_CONNECT_ATTEMPTS", 10),
		SessionSecret:      envconf.String("SESSION_SECRET", ""),
		RedisURL:           envconf.String("REDIS_URL", ""),
		SessionCacheTTL:    envconf.Seconds("SESSION_CACHE_TTL_SECONDS", 30),
		PollInterval:       envconf.Seconds("REALTIME_POLL_SECONDS", 1),
		BatchSize:          envconf.Int("REALTIME_BATCH_SIZE", 100),
		RateLimitPerMinute: envconf.Int("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     envconf.Int("RATE_LIMIT_BURST", 30),
		TrustedProxies:     envconf.List("TRUSTED_PROXIES"),
	}
}
