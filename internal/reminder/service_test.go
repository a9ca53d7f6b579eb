package reminder

import (
	"context"
	"testing"
	"time"

	"mindful/internal/channel"
	"mindful/internal/domain"
	logx "mindful/pkg/logx"
)

func TestServiceRunsPassAtStart(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	called := make(chan struct{}, 1)
	email := &recorder{ch: domain.ChannelEmail, fn: func(context.Context, channel.Message) error {
		select {
		case called <- struct{}{}:
		default:
		}
		return nil
	}}
	p := newPoller(mem, at(t, 7, 50, 0), Config{}, email)
	svc := NewService(p, ServiceConfig{Enabled: true, Period: time.Hour, Lookahead: time.Hour}, logx.Nop())

	svc.Start(context.Background())
	select {
	case <-called:
	case <-time.After(3 * time.Second):
		t.Fatal("no pass ran at start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.Stop(ctx)
	if n := len(mem.Records("s1")); n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
}

func TestServiceDisabled(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	email := &recorder{ch: domain.ChannelEmail}
	svc := NewService(newPoller(mem, at(t, 7, 50, 0), Config{}, email), ServiceConfig{}, logx.Nop())

	svc.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	svc.Stop(context.Background())
	if email.calls() != 0 {
		t.Fatalf("send calls = %d, want 0", email.calls())
	}
}

func TestServiceConfigDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   ServiceConfig
		want ServiceConfig
	}{
		{name: "zero", in: ServiceConfig{}, want: ServiceConfig{Period: DefaultPeriod, Lookahead: DefaultLookahead}},
		{name: "lookahead raised to period", in: ServiceConfig{Period: 2 * time.Minute, Lookahead: time.Minute}, want: ServiceConfig{Period: 2 * time.Minute, Lookahead: 2 * time.Minute}},
		{name: "kept", in: ServiceConfig{Enabled: true, Period: 10 * time.Second, Lookahead: 30 * time.Second}, want: ServiceConfig{Enabled: true, Period: 10 * time.Second, Lookahead: 30 * time.Second}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.withDefaults(); got != tt.want {
				t.Fatalf("withDefaults = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServiceApplyRestartsOnPeriodChange(t *testing.T) {
	t.Parallel()
	mem := seed(t)
	svc := NewService(newPoller(mem, at(t, 7, 50, 0), Config{}, &recorder{ch: domain.ChannelEmail}),
		ServiceConfig{Enabled: true, Period: time.Hour}, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	svc.mu.Lock()
	before := svc.c
	svc.mu.Unlock()

	svc.Apply(ServiceConfig{Enabled: true, Period: time.Hour, Lookahead: 2 * time.Hour})
	svc.mu.Lock()
	same := svc.c == before
	svc.mu.Unlock()
	if !same {
		t.Fatal("lookahead change restarted the trigger")
	}

	svc.Apply(ServiceConfig{Enabled: true, Period: 30 * time.Minute})
	svc.mu.Lock()
	restarted := svc.c != before && svc.c != nil
	svc.mu.Unlock()
	if !restarted {
		t.Fatal("period change did not restart the trigger")
	}

	svc.Apply(ServiceConfig{Enabled: false, Period: 30 * time.Minute})
	svc.mu.Lock()
	paused := svc.c == nil
	svc.mu.Unlock()
	if !paused {
		t.Fatal("disable did not pause the trigger")
	}
}
