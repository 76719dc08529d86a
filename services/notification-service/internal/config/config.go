package config

import (
	"strings"
	"time"

	"urclec/internal/platform/envconf"
)

type Config struct {
	Port              string
	DatabaseURL       string
	DBConnectAttempts int
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	// Providers maps each enabled channel to a provider kind: log, noop,
	// fail, webhook or a webhook URL.
	Providers map[string]string
}

func Load() Config {
	channels := envconf.List("NOTIF_CHANNELS")
	if len(channels) == 0 {
		channels = []string{"email"}
	}
	providers := make(map[string]string, len(channels))
	for _, channel := range channels {
		channel = strings.ToLower(channel)
		providers[channel] = envconf.String("NOTIF_"+strings.ToUpper(channel)+"_PROVIDER", "log")
	}

	return Config{
		Port:              envconf.String("NOTIF_PORT", "8085"),
		DatabaseURL:       envconf.String("DB_DSN", ""),
		DBConnectAttempts: envconf.Int("DB_CONNECT_ATTEMPTS", 10),
		PollInterval:      envconf.Seconds("NOTIF_POLL_SECONDS", 5),
		BatchSize:         envconf.Int("NOTIF_BATCH_SIZE", 50),
		MaxAttempts:       envconf.Int("NOTIF_MAX_ATTEMPTS", 3),
		Providers:         providers,
	}
}
