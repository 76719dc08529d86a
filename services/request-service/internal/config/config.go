package config

import (
	"time"

	"urclec/internal/platform/envconf"
)

type Config struct {
	Port                   string
	DatabaseURL            string
	DBConnectAttempts      int
	SessionSecret          string
	RedisURL               string
	SessionCacheTTL        time.Duration
	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int
	TrustedProxies         []string
}

func Load() Config {
	return Config{
		Port:                   envconf.String("REQUEST_PORT", "8081"),
		DatabaseURL:            envconf.String("DB_DSN", ""),
		DBConnectAttempts:      envconf.Int("DB_CONNECT_ATTEMPTS", 10),
		SessionSecret:          envconf.String("SESSION_SECRET", ""),
		RedisURL:               envconf.String("REDIS_URL", ""),
		SessionCacheTTL:        envconf.Seconds("SESSION_CACHE_TTL_SECONDS", 30),
		RateLimitPerMinute:     envconf.Int("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         envconf.Int("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: envconf.Int("USER_RATE_LIMIT_PER_MIN", 300),
		UserRateLimitBurst:     envconf.Int("USER_RATE_LIMIT_BURST", 60),
		TrustedProxies:         envconf.List("TRUSTED_PROXIES"),
	}
}
