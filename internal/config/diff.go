package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mindful/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe log
// fields describing them. Tokens, passwords and DSNs are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poller, newCfg.Poller) {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.Bool("poller.enabled", BoolOr(newCfg.Poller.Enabled, true)),
			logx.String("poller.period", strings.TrimSpace(newCfg.Poller.Period)),
			logx.String("poller.lookahead", strings.TrimSpace(newCfg.Poller.Lookahead)),
			logx.String("poller.catch_up", strings.TrimSpace(newCfg.Poller.CatchUp)),
			logx.Int("poller.workers", newCfg.Poller.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Ledger, newCfg.Ledger) {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.driver", strings.TrimSpace(newCfg.Ledger.Driver)),
			logx.String("ledger.redis_addr", strings.TrimSpace(newCfg.Ledger.Redis.Addr)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.email", BoolOr(newCfg.Channels.Email.Enabled, true)),
			logx.Bool("channels.push", BoolOr(newCfg.Channels.Push.Enabled, true)),
			logx.Bool("channels.telegram", newCfg.Channels.Telegram.Enabled),
			logx.Bool("channels.telegram_token_set", strings.TrimSpace(newCfg.Channels.Telegram.Token) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if oldCfg.Diagnostics != newCfg.Diagnostics {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newCfg.Diagnostics.Enabled),
			logx.String("diagnostics.addr", strings.TrimSpace(newCfg.Diagnostics.Addr)),
			logx.Bool("diagnostics.token_set", strings.TrimSpace(newCfg.Diagnostics.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports whether any of the sections can only be applied
// by restarting the process.
func RequiresRestart(sections []string) bool {
	for _, s := range sections {
		switch s {
		case "storage", "ledger", "channels", "systemd", "diagnostics":
			return true
		}
	}
	return false
}
