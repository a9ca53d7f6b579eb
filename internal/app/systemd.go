package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mindful/internal/eventbus"
	logx "mindful/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Without NOTIFY_SOCKET every
// call is a no-op.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
	notify  func(state string) (bool, error)
	// watchdogInterval returns 0 when the unit has no WatchdogSec.
	watchdogInterval func() (time.Duration, error)

	lastPass atomic.Int64 // unix nanos
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{
		enabled:          enabled,
		log:              log.With(logx.String("comp", "systemd")),
		notify:           func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdogInterval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *sdNotifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Trace("sd_notify skipped (no socket)", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Watchdog pings systemd at half the configured interval while poll passes
// keep completing. A poller that has not finished a pass within stale stops
// the pings and lets systemd restart the unit.
func (n *sdNotifier) Watchdog(ctx context.Context, bus eventbus.Bus, stale func() time.Duration) {
	if n == nil || !n.enabled {
		return
	}
	interval, err := n.watchdogInterval()
	if err != nil {
		n.log.Warn("watchdog lookup failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))

	events, unsub := bus.Subscribe(4)
	defer unsub()
	n.lastPass.Store(time.Now().UnixNano())

	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == eventbus.PollerPass {
				n.lastPass.Store(time.Now().UnixNano())
			}
		case <-tick.C:
			since := time.Since(time.Unix(0, n.lastPass.Load()))
			if limit := stale(); limit > 0 && since > limit {
				n.log.Warn("poller stalled; withholding watchdog ping", logx.Duration("since_last_pass", since))
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
