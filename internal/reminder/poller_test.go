package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mindful/internal/channel"
	"mindful/internal/domain"
	"mindful/internal/eventbus"
	"mindful/internal/recurrence"
	"mindful/internal/storage"
	logx "mindful/pkg/logx"
)

const zagreb = "Europe/Zagreb"

func at(t *testing.T, hh, mm, ss int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(zagreb)
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return time.Date(2024, time.June, 10, hh, mm, ss, 0, loc)
}

func yoga(id, user, start string) domain.Schedule {
	return domain.Schedule{
		ID: id, UserID: user, Title: "Yoga", StartTime: domain.MustTimeOfDay(start),
		Kind: domain.Daily, Timezone: zagreb, LeadMinutes: domain.IntPtr(10), Enabled: true,
	}
}

func seed(t *testing.T, schedules ...domain.Schedule) *storage.Memory {
	t.Helper()
	mem := storage.NewMemory()
	ctx := context.Background()
	if err := mem.SaveUser(ctx, domain.User{ID: "u1", Email: "ana@example.org"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	for _, s := range schedules {
		if err := mem.SaveSchedule(ctx, s); err != nil {
			t.Fatalf("SaveSchedule: %v", err)
		}
	}
	return mem
}

type recorder struct {
	ch domain.Channel
	fn func(ctx context.Context, msg channel.Message) error

	mu   sync.Mutex
	msgs []channel.Message
}

func (r *recorder) Channel() domain.Channel { return r.ch }

func (r *recorder) Send(ctx context.Context, _ domain.User, msg channel.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, msg)
	}
	return nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newPoller(mem *storage.Memory, now time.Time, cfg Config, senders ...channel.Sender) *Poller {
	return NewPoller(Deps{
		Schedules: mem,
		Users:     mem,
		Ledger:    mem,
		Senders:   senders,
		Log:       logx.Nop(),
		Clock:     ClockFunc(func() time.Time { return now }),
	}, cfg)
}

func TestPollOnceSendsDueReminderOnce(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	now := at(t, 7, 49, 30)
	email := &recorder{ch: domain.ChannelEmail}
	p := newPoller(mem, now, Config{}, email)

	sent, err := p.PollOnce(context.Background(), time.Minute)
	if err != nil || sent != 1 {
		t.Fatalf("PollOnce = %d, %v, want 1, nil", sent, err)
	}
	if got, want := email.msgs[0].Text, `Reminder: "Yoga" starts at 08:00`; got != want {
		t.Fatalf("Text = %q, want %q", got, want)
	}

	recs := mem.Records("s1")
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Status != domain.StatusSent || r.Channel != domain.ChannelEmail || r.UserID != "u1" {
		t.Fatalf("record = %+v", r)
	}
	if !r.OccurrenceStart.Equal(at(t, 8, 0, 0)) || r.SentAt == nil || !r.SentAt.Equal(now) {
		t.Fatalf("record = %+v", r)
	}

	sent, err = p.PollOnce(context.Background(), time.Minute)
	if err != nil || sent != 0 {
		t.Fatalf("second PollOnce = %d, %v, want 0, nil", sent, err)
	}
	if email.calls() != 1 {
		t.Fatalf("send calls = %d, want 1", email.calls())
	}
}

func TestPollOnceEveryChannel(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	email := &recorder{ch: domain.ChannelEmail}
	push := &recorder{ch: domain.ChannelPush}
	p := newPoller(mem, at(t, 7, 50, 0), Config{}, email, push)

	sent, err := p.PollOnce(context.Background(), time.Minute)
	if err != nil || sent != 2 {
		t.Fatalf("PollOnce = %d, %v, want 2, nil", sent, err)
	}
	recs := mem.Records("s1")
	if len(recs) != 2 || recs[0].Channel != domain.ChannelEmail || recs[1].Channel != domain.ChannelPush {
		t.Fatalf("records = %+v", recs)
	}
}

func TestPollOnceConcurrentPassesRecordOnce(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	now := at(t, 7, 49, 30)

	// Both senders wait until the other has been called, so both passes
	// observe the key as free before either records it.
	var entered sync.WaitGroup
	entered.Add(2)
	barrier := func(context.Context, channel.Message) error {
		entered.Done()
		entered.Wait()
		return nil
	}
	a := newPoller(mem, now, Config{}, &recorder{ch: domain.ChannelEmail, fn: barrier})
	b := newPoller(mem, now, Config{}, &recorder{ch: domain.ChannelEmail, fn: barrier})

	var total atomic.Int32
	var wg sync.WaitGroup
	for _, p := range []*Poller{a, b} {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := p.PollOnce(context.Background(), time.Minute)
			if err != nil {
				t.Errorf("PollOnce: %v", err)
			}
			total.Add(int32(n))
		}()
	}
	wg.Wait()

	if total.Load() != 1 {
		t.Fatalf("sent across passes = %d, want 1", total.Load())
	}
	recs := mem.Records("s1")
	if len(recs) != 1 || recs[0].Status != domain.StatusSent {
		t.Fatalf("records = %+v, want one SENT", recs)
	}
}

func TestPollOnceSenderPanicDoesNotAbortPass(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"), yoga("s2", "u1", "08:00"))
	email := &recorder{ch: domain.ChannelEmail, fn: func(_ context.Context, msg channel.Message) error {
		if msg.ScheduleID == "s1" {
			panic("smtp exploded")
		}
		return nil
	}}
	push := &recorder{ch: domain.ChannelPush}
	p := newPoller(mem, at(t, 7, 50, 0), Config{Workers: 1}, email, push)

	sent, err := p.PollOnce(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}

	var failed *domain.DispatchRecord
	for _, r := range mem.Records("s1") {
		if r.Channel == domain.ChannelEmail {
			r := r
			failed = &r
		}
	}
	if failed == nil || failed.Status != domain.StatusFailed || !strings.Contains(failed.Error, "smtp exploded") {
		t.Fatalf("failed record = %+v", failed)
	}
	if failed.SentAt != nil {
		t.Fatalf("SentAt = %v, want nil on FAILED", failed.SentAt)
	}
	for _, r := range mem.Records("s2") {
		if r.Status != domain.StatusSent {
			t.Fatalf("s2 record = %+v, want SENT", r)
		}
	}
}

func TestPollOnceFailedAttemptIsNotRetried(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	email := &recorder{ch: domain.ChannelEmail, fn: func(context.Context, channel.Message) error {
		return errors.New("mailbox unavailable")
	}}
	p := newPoller(mem, at(t, 7, 50, 0), Config{}, email)

	for i := 0; i < 2; i++ {
		if sent, err := p.PollOnce(context.Background(), time.Minute); err != nil || sent != 0 {
			t.Fatalf("pass %d: PollOnce = %d, %v, want 0, nil", i, sent, err)
		}
	}
	if email.calls() != 1 {
		t.Fatalf("send calls = %d, want 1", email.calls())
	}
	recs := mem.Records("s1")
	if len(recs) != 1 || recs[0].Status != domain.StatusFailed || recs[0].Error != "mailbox unavailable" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestPollOnceSendTimeout(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	hung := &recorder{ch: domain.ChannelEmail, fn: func(context.Context, channel.Message) error {
		<-release
		return nil
	}}
	p := newPoller(mem, at(t, 7, 50, 0), Config{SendTimeout: 20 * time.Millisecond}, hung)

	start := time.Now()
	if _, err := p.PollOnce(context.Background(), time.Minute); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("pass took %v, want bounded by the send timeout", took)
	}
	recs := mem.Records("s1")
	if len(recs) != 1 || recs[0].Status != domain.StatusFailed || !strings.Contains(recs[0].Error, "timed out") {
		t.Fatalf("records = %+v", recs)
	}
}

func TestPollOnceShutdownLeavesKeyFree(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	email := &recorder{ch: domain.ChannelEmail, fn: func(sctx context.Context, _ channel.Message) error {
		cancel()
		<-sctx.Done()
		return sctx.Err()
	}}
	p := newPoller(mem, at(t, 7, 50, 0), Config{}, email)

	if _, err := p.PollOnce(ctx, time.Minute); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if recs := mem.Records("s1"); len(recs) != 0 {
		t.Fatalf("records = %+v, want none", recs)
	}
}

func TestPollOnceSkipsMissingOwner(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "ghost", "08:00"))
	email := &recorder{ch: domain.ChannelEmail}
	p := newPoller(mem, at(t, 7, 50, 0), Config{}, email)

	if sent, err := p.PollOnce(context.Background(), time.Minute); err != nil || sent != 0 {
		t.Fatalf("PollOnce = %d, %v, want 0, nil", sent, err)
	}
	if email.calls() != 0 {
		t.Fatalf("send calls = %d, want 0", email.calls())
	}
	if recs := mem.Records("s1"); len(recs) != 0 {
		t.Fatalf("records = %+v, want none", recs)
	}
}

func TestPollOnceCatchUp(t *testing.T) {
	t.Parallel()
	// Due at 07:50, process came back at 07:53.
	now := at(t, 7, 53, 0)
	tests := []struct {
		name    string
		catchUp time.Duration
		want    int
	}{
		{name: "strict window skips", want: 0},
		{name: "catch-up recovers", catchUp: 5 * time.Minute, want: 1},
		{name: "catch-up too short", catchUp: 2 * time.Minute, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mem := seed(t, yoga("s1", "u1", "08:00"))
			p := newPoller(mem, now, Config{CatchUp: tt.catchUp}, &recorder{ch: domain.ChannelEmail})
			sent, err := p.PollOnce(context.Background(), time.Minute)
			if err != nil || sent != tt.want {
				t.Fatalf("PollOnce = %d, %v, want %d, nil", sent, err, tt.want)
			}
		})
	}
}

type brokenSource struct{}

func (brokenSource) ListEnabledSchedules(context.Context) ([]domain.Schedule, error) {
	return nil, errors.New("connection reset")
}

func TestPollOnceSourceError(t *testing.T) {
	t.Parallel()
	mem := seed(t)
	p := NewPoller(Deps{Schedules: brokenSource{}, Users: mem, Ledger: mem}, Config{})
	if _, err := p.PollOnce(context.Background(), time.Minute); err == nil {
		t.Fatal("PollOnce = nil error, want source failure")
	}
}

func TestPollOncePublishesEvents(t *testing.T) {
	t.Parallel()
	mem := seed(t, yoga("s1", "u1", "08:00"), yoga("s2", "ghost", "08:00"))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	p := NewPoller(Deps{
		Schedules: mem, Users: mem, Ledger: mem, Bus: bus,
		Senders: []channel.Sender{&recorder{ch: domain.ChannelPush}},
		Clock:   ClockFunc(func() time.Time { return at(t, 7, 50, 0) }),
	}, Config{})
	if _, err := p.PollOnce(context.Background(), time.Minute); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	seen := map[string]int{}
	var summary PassSummary
	for len(events) > 0 {
		e := <-events
		seen[e.Type]++
		if e.Type == eventbus.PollerPass {
			summary = e.Data.(PassSummary)
		}
	}
	if seen[eventbus.ReminderSent] != 1 || seen[eventbus.ReminderSkipped] != 1 || seen[eventbus.PollerPass] != 1 {
		t.Fatalf("events = %v", seen)
	}
	if summary.Schedules != 2 || summary.Due != 2 || summary.Sent != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestApplyChangesDefaultZone(t *testing.T) {
	t.Parallel()
	s := yoga("s1", "u1", "08:00")
	s.Timezone = ""
	mem := seed(t, s)
	// 07:50 in UTC is 09:50 in Zagreb.
	now := time.Date(2024, time.June, 10, 7, 50, 0, 0, time.UTC)
	p := newPoller(mem, now, Config{}, &recorder{ch: domain.ChannelEmail})

	if sent, _ := p.PollOnce(context.Background(), time.Minute); sent != 0 {
		t.Fatalf("zagreb default: sent = %d, want 0", sent)
	}
	p.Apply(Config{DefaultTimezone: "UTC"})
	if sent, _ := p.PollOnce(context.Background(), time.Minute); sent != 1 {
		t.Fatalf("utc default: sent = %d, want 1", sent)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	occ := at(t, 18, 0, 0)
	d := recurrence.Due{Schedule: yoga("s9", "u1", "18:00"), Occurrence: occ, DueAt: occ.Add(-10 * time.Minute)}

	tests := []struct {
		name string
		loc  *time.Location
		want string
	}{
		{name: "schedule zone", loc: occ.Location(), want: `Reminder: "Yoga" starts at 18:00`},
		{name: "utc", loc: time.UTC, want: `Reminder: "Yoga" starts at 16:00`},
		{name: "nil zone", loc: nil, want: `Reminder: "Yoga" starts at 16:00`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := Render(d, tt.loc)
			if msg.Text != tt.want {
				t.Fatalf("Text = %q, want %q", msg.Text, tt.want)
			}
			if msg.ScheduleID != "s9" || msg.Title != "Yoga" || !msg.OccurrenceStart.Equal(occ) {
				t.Fatalf("msg = %+v", msg)
			}
		})
	}
}
