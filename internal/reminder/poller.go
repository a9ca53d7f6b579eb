package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mindful/internal/channel"
	"mindful/internal/domain"
	"mindful/internal/eventbus"
	"mindful/internal/ledger"
	"mindful/internal/recurrence"
	"mindful/internal/storage"
	logx "mindful/pkg/logx"
)

// Deps are the collaborators of a Poller. Bus, Log and Clock are optional.
type Deps struct {
	Schedules storage.ScheduleSource
	Users     storage.UserSource
	Ledger    ledger.Ledger
	Senders   []channel.Sender
	Bus       eventbus.Bus
	Log       logx.Logger
	Clock     Clock
}

// Poller sends the reminders that fall due within a lookahead window. The
// ledger alone guarantees each (schedule, channel, occurrence) is recorded
// once, so any number of pollers may share it.
type Poller struct {
	schedules storage.ScheduleSource
	users     storage.UserSource
	ledger    ledger.Ledger
	senders   []channel.Sender
	bus       eventbus.Bus
	log       logx.Logger
	clock     Clock

	mu   sync.RWMutex
	cfg  Config
	calc *recurrence.Calculator

	// passMu keeps passes from overlapping.
	passMu sync.Mutex
}

func NewPoller(d Deps, cfg Config) *Poller {
	p := &Poller{
		schedules: d.Schedules,
		users:     d.Users,
		ledger:    d.Ledger,
		senders:   append([]channel.Sender(nil), d.Senders...),
		bus:       d.Bus,
		log:       d.Log,
		clock:     d.Clock,
	}
	if p.bus == nil {
		p.bus = eventbus.Nop()
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	p.log = p.log.With(logx.String("comp", "poller"))
	if p.clock == nil {
		p.clock = systemClock{}
	}
	p.Apply(cfg)
	return p
}

// Apply swaps the pass settings. It takes effect from the next pass.
func (p *Poller) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calc == nil || p.cfg.DefaultTimezone != cfg.DefaultTimezone {
		p.calc = recurrence.NewCalculator(cfg.DefaultTimezone)
	}
	p.cfg = cfg
}

func (p *Poller) settings() (Config, *recurrence.Calculator) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.calc
}

type passCounters struct {
	sent, failed, duplicates, attempted, skipped, errors atomic.Int32
}

// PollOnce runs one pass and returns how many SENT records it created. The
// error is non-nil only when the schedule source fails; per-item failures are
// logged, recorded and published instead.
func (p *Poller) PollOnce(ctx context.Context, lookahead time.Duration) (int, error) {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	started := time.Now()
	cfg, calc := p.settings()
	now := p.clock.Now()

	schedules, err := p.schedules.ListEnabledSchedules(ctx)
	if err != nil {
		p.log.Error("list schedules failed", logx.Err(err))
		return 0, fmt.Errorf("list enabled schedules: %w", err)
	}
	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			p.log.Debug("schedule cannot produce occurrences", logx.String("schedule_id", s.ID), logx.Err(err))
		}
	}

	due := calc.Due(schedules, recurrence.Window{Now: now, Lookahead: lookahead, CatchUp: cfg.CatchUp})

	var c passCounters
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for _, d := range due {
		d := d
		loc := calc.Location(d.Schedule.Timezone)
		for _, sender := range p.senders {
			sender := sender
			g.Go(func() error {
				p.dispatch(ctx, cfg, d, loc, sender, &c)
				return nil
			})
		}
	}
	_ = g.Wait()

	summary := PassSummary{
		At:         now,
		Schedules:  len(schedules),
		Due:        len(due),
		Sent:       int(c.sent.Load()),
		Failed:     int(c.failed.Load()),
		Duplicates: int(c.duplicates.Load()),
		Attempted:  int(c.attempted.Load()),
		Skipped:    int(c.skipped.Load()),
		Errors:     int(c.errors.Load()),
		Took:       time.Since(started),
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.PollerPass, Time: now, Data: summary})
	if summary.Due > 0 || summary.Errors > 0 {
		p.log.Info("poll pass",
			logx.Int("schedules", summary.Schedules),
			logx.Int("due", summary.Due),
			logx.Int("sent", summary.Sent),
			logx.Int("failed", summary.Failed),
			logx.Int("duplicates", summary.Duplicates),
			logx.Int("errors", summary.Errors),
			logx.Duration("took", summary.Took),
		)
	} else {
		p.log.Trace("poll pass idle", logx.Int("schedules", summary.Schedules))
	}
	return summary.Sent, nil
}

// dispatch handles one (due occurrence, sender) item. It never returns an
// error so one item cannot abort the pass.
func (p *Poller) dispatch(ctx context.Context, cfg Config, d recurrence.Due, loc *time.Location, sender channel.Sender, c *passCounters) {
	if ctx.Err() != nil {
		return
	}
	ch := sender.Channel()
	key := domain.DispatchKey{ScheduleID: d.Schedule.ID, Channel: ch, OccurrenceStart: d.Occurrence}
	log := p.log.With(
		logx.String("schedule_id", d.Schedule.ID),
		logx.String("channel", string(ch)),
		logx.Time("occurrence", d.Occurrence),
	)

	seen, err := p.ledger.HasAttempted(ctx, key)
	if err != nil {
		c.errors.Add(1)
		log.Warn("ledger lookup failed", logx.Err(err))
		return
	}
	if seen {
		c.attempted.Add(1)
		return
	}

	ev := DispatchEvent{ScheduleID: d.Schedule.ID, UserID: d.Schedule.UserID, Channel: ch, OccurrenceStart: d.Occurrence}

	user, ok, err := p.users.GetUserByID(ctx, d.Schedule.UserID)
	if err != nil {
		c.errors.Add(1)
		log.Warn("user lookup failed", logx.String("user_id", d.Schedule.UserID), logx.Err(err))
		return
	}
	if !ok {
		c.skipped.Add(1)
		log.Debug("schedule owner not found; skipping", logx.String("user_id", d.Schedule.UserID))
		p.publish(eventbus.ReminderSkipped, ev)
		return
	}

	sendErr := p.send(ctx, cfg.SendTimeout, sender, user, Render(d, loc))
	if sendErr != nil && ctx.Err() != nil {
		// Shutdown interrupted the send; leave the key free for the next run.
		log.Debug("send interrupted by shutdown", logx.Err(sendErr))
		return
	}

	rec := domain.DispatchRecord{
		UserID:          user.ID,
		ScheduleID:      d.Schedule.ID,
		OccurrenceStart: d.Occurrence,
		Channel:         ch,
	}
	if sendErr == nil {
		at := p.clock.Now()
		rec.Status = domain.StatusSent
		rec.SentAt = &at
	} else {
		rec.Status = domain.StatusFailed
		rec.Error = sendErr.Error()
		ev.Error = rec.Error
	}

	outcome, err := p.ledger.RecordAttempt(context.WithoutCancel(ctx), rec)
	switch {
	case err != nil:
		c.errors.Add(1)
		log.Error("record attempt failed", logx.String("status", string(rec.Status)), logx.Err(err))
	case outcome == ledger.Duplicate:
		c.duplicates.Add(1)
		log.Debug("attempt already recorded by another pass")
		p.publish(eventbus.ReminderDuplicate, ev)
	case rec.Status == domain.StatusSent:
		c.sent.Add(1)
		log.Debug("reminder sent")
		p.publish(eventbus.ReminderSent, ev)
	default:
		c.failed.Add(1)
		log.Warn("reminder failed", logx.Err(sendErr))
		p.publish(eventbus.ReminderFailed, ev)
	}
}

// send calls the sender under a timeout and turns a panic into an error. A
// sender that ignores ctx is abandoned when the timeout fires.
func (p *Poller) send(ctx context.Context, timeout time.Duration, sender channel.Sender, user domain.User, msg channel.Message) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- sender.Send(sctx, user, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("send timed out after %s", timeout)
		}
		return sctx.Err()
	}
}

func (p *Poller) publish(typ string, ev DispatchEvent) {
	p.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
