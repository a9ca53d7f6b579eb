package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "mindful/pkg/logx"
)

const (
	DefaultPeriod    = 30 * time.Second
	DefaultLookahead = 60 * time.Second
)

// ServiceConfig controls the periodic trigger.
type ServiceConfig struct {
	Enabled   bool
	Period    time.Duration
	Lookahead time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	// A lookahead shorter than the period would let due instants fall
	// between two passes.
	if c.Lookahead < c.Period {
		c.Lookahead = c.Period
	}
	return c
}

// Service runs Poller.PollOnce once at start and then every Period. A pass
// still running when the next one is due makes cron skip that tick.
type Service struct {
	poller *Poller
	log    logx.Logger

	mu     sync.Mutex
	cfg    ServiceConfig
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func NewService(p *Poller, cfg ServiceConfig, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{poller: p, cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "reminder"))}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("poller disabled")
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	s.c.Schedule(&firstRunSchedule{base: cron.Every(s.cfg.Period)}, cron.FuncJob(s.tick))
	s.c.Start()
	s.log.Info("poller started", logx.Duration("period", s.cfg.Period), logx.Duration("lookahead", s.cfg.Lookahead))
}

// Stop stops triggering and waits for a running pass until ctx is done, then
// cancels it.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		if cancel != nil {
			cancel()
		}
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("poll pass still running at shutdown; cancelling")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("poller stopped")
}

// Apply swaps period and lookahead. A period change restarts the trigger.
func (s *Service) Apply(cfg ServiceConfig) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.runCtx == nil || s.runCtx.Err() != nil {
		return
	}

	switch {
	case !cfg.Enabled && s.c != nil:
		s.c.Stop()
		s.c = nil
		s.log.Info("poller paused by config")
	case cfg.Enabled && s.c == nil:
		s.startLocked()
	case cfg.Enabled && prev.Period != cfg.Period:
		// A pass already running finishes on its own; PollOnce serializes
		// it with the new trigger's first pass.
		s.c.Stop()
		s.startLocked()
	}
}

func (s *Service) config() (ServiceConfig, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.runCtx
}

func (s *Service) tick() {
	cfg, ctx := s.config()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.poller.PollOnce(ctx, cfg.Lookahead); err != nil {
		s.log.Warn("poll pass failed", logx.Err(err))
	}
}

// firstRunSchedule fires immediately on its first use, then follows base.
// cron only calls Next from its run goroutine.
type firstRunSchedule struct {
	base  cron.Schedule
	fired bool
}

func (f *firstRunSchedule) Next(t time.Time) time.Time {
	if !f.fired {
		f.fired = true
		return t
	}
	return f.base.Next(t)
}

// cronLogger routes cron's own messages through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
