package config

// Config is the on-disk configuration of the reminder daemon.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Poller   PollerConfig   `json:"poller"`
	Storage  StorageConfig  `json:"storage"`
	Ledger   LedgerConfig   `json:"ledger,omitempty"`
	Channels ChannelsConfig `json:"channels"`
	Systemd  SystemdConfig  `json:"systemd,omitempty"`

	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// PollerConfig controls the reminder poll loop.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - period: "30s"
//   - lookahead: "60s" (must be >= period)
//   - catch_up: "0s" (reminders missed during downtime are skipped)
//   - workers: 8
//   - send_timeout: "10s"
//   - default_timezone: "Europe/Zagreb"
type PollerConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Period          string `json:"period,omitempty"`
	Lookahead       string `json:"lookahead,omitempty"`
	CatchUp         string `json:"catch_up,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

// StorageConfig selects where schedules, users and dispatch records live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
//	"storage": { "driver": "postgres", "dsn": "host=db user=app dbname=mindful" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// LedgerConfig optionally moves the dispatch ledger out of the main store.
// Driver "" or "storage" keeps it next to the schedules; "redis" shares it
// between instances.
type LedgerConfig struct {
	Driver string      `json:"driver,omitempty"`
	Redis  RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"` // do not log
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
	TTL       string `json:"ttl,omitempty"`
}

type ChannelsConfig struct {
	Email    EmailChannel    `json:"email"`
	Push     PushChannel     `json:"push"`
	Telegram TelegramChannel `json:"telegram"`
}

// EmailChannel and PushChannel default to enabled when Enabled is omitted.
type EmailChannel struct {
	Enabled *bool  `json:"enabled,omitempty"`
	From    string `json:"from,omitempty"`
}

type PushChannel struct {
	Enabled *bool `json:"enabled,omitempty"`
}

type TelegramChannel struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING/WATCHDOG to systemd when NOTIFY_SOCKET is set.
	Notify bool `json:"notify"`
}

// DiagnosticsConfig controls the optional HTTP health/pprof endpoint.
//
// Example:
//
//	"diagnostics": { "enabled": true, "addr": "127.0.0.1:6060", "pprof": true }
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// BoolOr dereferences an optional flag.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
