package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultEnvPrefix prefixes every override, e.g. MINDFUL_POLL_PERIOD.
const DefaultEnvPrefix = "MINDFUL"

// envOverrides are deployment knobs that win over the config file.
type envOverrides struct {
	PollPeriod     string `envconfig:"POLL_PERIOD"`
	PollLookahead  string `envconfig:"POLL_LOOKAHEAD"`
	PollingDelayMS int    `envconfig:"POLLING_DELAY_MS"`
	StorageDriver  string `envconfig:"STORAGE_DRIVER"`
	StoragePath    string `envconfig:"STORAGE_PATH"`
	StorageDSN     string `envconfig:"STORAGE_DSN"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(prefix string, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env envOverrides
	if err := envconfig.Process(prefix, &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}

	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Poller.Period, env.PollPeriod)
	set(&cfg.Poller.Lookahead, env.PollLookahead)
	if env.PollingDelayMS > 0 {
		cfg.Poller.Period = (time.Duration(env.PollingDelayMS) * time.Millisecond).String()
	}
	set(&cfg.Storage.Driver, env.StorageDriver)
	set(&cfg.Storage.Path, env.StoragePath)
	set(&cfg.Storage.DSN, env.StorageDSN)
	if strings.TrimSpace(env.RedisAddr) != "" {
		cfg.Ledger.Driver = "redis"
		cfg.Ledger.Redis.Addr = strings.TrimSpace(env.RedisAddr)
	}
	if strings.TrimSpace(env.TelegramToken) != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = strings.TrimSpace(env.TelegramToken)
	}
	set(&cfg.Logging.Level, env.LogLevel)
	return nil
}
