package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mindful/internal/channel"
	"mindful/internal/config"
	"mindful/internal/eventbus"
	"mindful/internal/ledger"
	"mindful/internal/observability/diag"
	"mindful/internal/reminder"
	"mindful/internal/runtime/supervisor"
	"mindful/internal/storage"
	logx "mindful/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	rdb    *redis.Client
	ledger ledger.Ledger

	poller *reminder.Poller
	svc    *reminder.Service
	sd     *sdNotifier

	tracker *diag.Tracker
	diag    *diag.Server
}

// New loads and validates the config file and opens every collaborator.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfgm.Commit(cfg)

	logSvc, log := logx.New(mapLogging(cfg))
	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log.With(logx.String("comp", "app")),
		bus:     eventbus.New(),
	}
	if err := a.build(cfg, log); err != nil {
		_ = a.closeStores()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return err
	}
	a.store = st
	a.ledger = st
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	ropts, lopts, useRedis, err := mapLedger(cfg)
	if err != nil {
		return err
	}
	if useRedis {
		a.rdb = redis.NewClient(ropts)
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("ledger redis %s: %w", ropts.Addr, err)
		}
		a.ledger = ledger.NewRedis(a.rdb, lopts)
		a.log.Info("dispatch ledger on redis", logx.String("addr", ropts.Addr))
	}

	cc, err := mapChannels(cfg)
	if err != nil {
		return err
	}
	senders, err := channel.Build(cc, a.store, log.With(logx.String("comp", "channel")))
	if err != nil {
		return err
	}

	pcfg, scfg, err := mapPoller(cfg)
	if err != nil {
		return err
	}
	a.poller = reminder.NewPoller(reminder.Deps{
		Schedules: a.store,
		Users:     a.store,
		Ledger:    a.ledger,
		Senders:   senders,
		Bus:       a.bus,
		Log:       log,
	}, pcfg)
	a.svc = reminder.NewService(a.poller, scfg, log)
	a.sd = newSDNotifier(cfg.Systemd.Notify, log)
	a.tracker = diag.NewTracker(a.bus)
	a.diag = diag.New(mapDiagnostics(cfg), a.tracker, a.stallLimit, log)

	chs := channel.Channels(senders)
	names := make([]string, 0, len(chs))
	for _, c := range chs {
		names = append(names, string(c))
	}
	a.log.Info("channels ready", logx.Strings("channels", names))
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	// Subscribe before the first pass can publish.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})
	a.sup.Go0("diag.tracker", a.tracker.Subscribe())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, a.bus, a.stallLimit)
	})

	a.diag.Start(a.sup.Context())

	a.svc.Start(a.sup.Context())
	a.sd.Ready()
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig applies the live sections of a validated reload. Sections that
// need new connections are only reported.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("config change requires restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	pcfg, scfg, err := mapPoller(newCfg)
	if err != nil {
		a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
	} else {
		a.poller.Apply(pcfg)
		a.svc.Apply(scfg)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// stallLimit is how long the watchdog tolerates no completed pass.
func (a *App) stallLimit() time.Duration {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return 0
	}
	pcfg, scfg, err := mapPoller(cfg)
	if err != nil || !scfg.Enabled {
		return 0
	}
	return 3*scfg.Period + pcfg.SendTimeout
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case reminder.DispatchEvent:
				fields := []logx.Field{
					logx.String("type", e.Type),
					logx.String("schedule_id", d.ScheduleID),
					logx.String("channel", string(d.Channel)),
					logx.Time("occurrence", d.OccurrenceStart),
				}
				if d.Error != "" {
					fields = append(fields, logx.String("err", d.Error))
				}
				a.log.Debug("event", fields...)
			default:
				// Pass summaries arrive every period.
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStores()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Let an in-flight pass finish before its context goes away.
	step("poller", 5*time.Second, func(c context.Context) error { a.svc.Stop(c); return nil })
	step("diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.closeStores() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStores() error {
	var errs []error
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
		a.rdb = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		a.store = nil
	}
	return errors.Join(errs...)
}
