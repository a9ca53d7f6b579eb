package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mindful/internal/channel"
	"mindful/internal/config"
	"mindful/internal/ledger"
	"mindful/internal/observability/diag"
	"mindful/internal/reminder"
	"mindful/internal/storage"
	logx "mindful/pkg/logx"
)

const (
	defaultStoragePath = "./data/mindful.db"
	defaultBusyTimeout = 5 * time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
	}
}

// mapPoller returns the pass settings and the trigger settings.
func mapPoller(cfg *config.Config) (reminder.Config, reminder.ServiceConfig, error) {
	pc := cfg.Poller
	period, err := config.ParseDurationOrDefault("poller.period", pc.Period, reminder.DefaultPeriod)
	if err != nil {
		return reminder.Config{}, reminder.ServiceConfig{}, err
	}
	lookahead, err := config.ParseDurationOrDefault("poller.lookahead", pc.Lookahead, reminder.DefaultLookahead)
	if err != nil {
		return reminder.Config{}, reminder.ServiceConfig{}, err
	}
	if lookahead < period {
		return reminder.Config{}, reminder.ServiceConfig{}, fmt.Errorf("poller.lookahead (%s) must be >= poller.period (%s)", lookahead, period)
	}
	catchUp, err := config.ParseDurationField("poller.catch_up", pc.CatchUp)
	if err != nil {
		return reminder.Config{}, reminder.ServiceConfig{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("poller.send_timeout", pc.SendTimeout, reminder.DefaultSendTimeout)
	if err != nil {
		return reminder.Config{}, reminder.ServiceConfig{}, err
	}
	if pc.Workers < 0 {
		return reminder.Config{}, reminder.ServiceConfig{}, fmt.Errorf("poller.workers must be >= 0")
	}
	if tz := strings.TrimSpace(pc.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return reminder.Config{}, reminder.ServiceConfig{}, fmt.Errorf("poller.default_timezone: invalid %q: %w", tz, err)
		}
	}

	return reminder.Config{
			CatchUp:         catchUp,
			Workers:         pc.Workers,
			SendTimeout:     sendTimeout,
			DefaultTimezone: strings.TrimSpace(pc.DefaultTimezone),
		}, reminder.ServiceConfig{
			Enabled:   config.BoolOr(pc.Enabled, true),
			Period:    period,
			Lookahead: lookahead,
		}, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if !storage.KnownDriver(driver) {
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), DSN: strings.TrimSpace(sc.DSN)}
	switch driver {
	case "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = defaultStoragePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
	}
	return out, nil
}

// mapLedger reports whether the dispatch ledger lives in redis.
func mapLedger(cfg *config.Config) (*redis.Options, ledger.RedisOptions, bool, error) {
	lc := cfg.Ledger
	switch strings.ToLower(strings.TrimSpace(lc.Driver)) {
	case "", "storage":
		return nil, ledger.RedisOptions{}, false, nil
	case "redis":
	default:
		return nil, ledger.RedisOptions{}, false, fmt.Errorf("unknown ledger.driver: %s", lc.Driver)
	}
	addr := strings.TrimSpace(lc.Redis.Addr)
	if addr == "" {
		return nil, ledger.RedisOptions{}, false, fmt.Errorf("ledger.redis.addr is required when ledger.driver=redis")
	}
	ttl, err := config.ParseDurationOrDefault("ledger.redis.ttl", lc.Redis.TTL, ledger.DefaultTTL)
	if err != nil {
		return nil, ledger.RedisOptions{}, false, err
	}
	return &redis.Options{Addr: addr, Password: lc.Redis.Password, DB: lc.Redis.DB},
		ledger.RedisOptions{KeyPrefix: lc.Redis.KeyPrefix, TTL: ttl}, true, nil
}

func mapChannels(cfg *config.Config) (channel.Config, error) {
	ch := cfg.Channels
	out := channel.Config{
		Email:         config.BoolOr(ch.Email.Enabled, true),
		EmailFrom:     strings.TrimSpace(ch.Email.From),
		Push:          config.BoolOr(ch.Push.Enabled, true),
		Telegram:      ch.Telegram.Enabled,
		TelegramToken: strings.TrimSpace(ch.Telegram.Token),
		TelegramRate:  ch.Telegram.RatePerSec,
	}
	if out.Telegram && out.TelegramToken == "" {
		return channel.Config{}, fmt.Errorf("channels.telegram.token is required when channels.telegram.enabled=true")
	}
	if out.TelegramRate < 0 {
		return channel.Config{}, fmt.Errorf("channels.telegram.rate_per_sec must be >= 0")
	}
	if !out.Email && !out.Push && !out.Telegram {
		return channel.Config{}, fmt.Errorf("channels: at least one channel must be enabled")
	}
	return out, nil
}

func mapDiagnostics(cfg *config.Config) diag.Config {
	d := cfg.Diagnostics
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		ReadTimeout:   10 * time.Second,
		// Profiles stream for up to 30s by default.
		WriteTimeout: 60 * time.Second,
	}
}

// validate rejects a config before it is committed, at startup and on reload.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return fmt.Errorf("logging.level: unknown level %q", lvl)
	}
	if _, _, err := mapPoller(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapLedger(cfg); err != nil {
		return err
	}
	if _, err := mapChannels(cfg); err != nil {
		return err
	}
	return nil
}
