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
	SessionTTL         time.Duration
	RedisURL           string
	SessionCacheTTL    time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustedProxies     []string
}

func Load() Config {
	return Config{
		Port:               envconf.String("AUTH_PORT", "8080"),
		DatabaseURL:        envconf.String("DB_DSN", ""),
		DBConnectAttempts:  envconf.Int("DB_CONNECT_ATTEMPTS", 10),
		SessionSecret:      envconf.String("SESSION_SECRET", ""),
		SessionTTL:         time.Duration(envconf.Int("SESSION_TTL_HOURS", 8)) * time.Hour,
		RedisURL:           envconf.String("REDIS_URL", ""),
		SessionCacheTTL:    envconf.Seconds("SESSION_CACHE_TTL_SECONDS", 30),
		RateLimitPerMinute: envconf.Int("AUTH_RATE_LIMIT_PER_MIN", 30),
		RateLimitBurst:     envconf.Int("AUTH_RATE_LIMIT_BURST", 10),
		TrustedProxies:     envconf.List("TRUSTED_PROXIES"),
	}
}
