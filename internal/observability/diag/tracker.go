package diag

import (
	"context"
	"sync"
	"time"

	"mindful/internal/eventbus"
	"mindful/internal/reminder"
)

// Status is what /healthz reports.
type Status struct {
	Started       time.Time               `json:"started"`
	LastPass      *reminder.PassSummary   `json:"last_pass,omitempty"`
	Passes        uint64                  `json:"passes"`
	Sent          uint64                  `json:"sent"`
	Failed        uint64                  `json:"failed"`
	Duplicates    uint64                  `json:"duplicates"`
	Skipped       uint64                  `json:"skipped"`
	LastFailure   *reminder.DispatchEvent `json:"last_failure,omitempty"`
	EventsDropped uint64                  `json:"events_dropped"`
	Healthy       bool                    `json:"healthy"`
}

// Tracker folds poller events into a Status.
type Tracker struct {
	mu     sync.Mutex
	status Status
	bus    eventbus.Bus
}

func NewTracker(bus eventbus.Bus) *Tracker {
	return &Tracker{bus: bus, status: Status{Started: time.Now()}}
}

// Subscribe attaches the tracker to the bus and returns the loop consuming
// its events. Events published between Subscribe and the loop are buffered.
func (t *Tracker) Subscribe() func(ctx context.Context) {
	events, unsub := t.bus.Subscribe(64)
	return func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				t.Observe(e)
			}
		}
	}
}

func (t *Tracker) Observe(e eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Type {
	case eventbus.PollerPass:
		if s, ok := e.Data.(reminder.PassSummary); ok {
			t.status.LastPass = &s
			t.status.Passes++
		}
	case eventbus.ReminderSent:
		t.status.Sent++
	case eventbus.ReminderFailed:
		t.status.Failed++
		if d, ok := e.Data.(reminder.DispatchEvent); ok {
			t.status.LastFailure = &d
		}
	case eventbus.ReminderDuplicate:
		t.status.Duplicates++
	case eventbus.ReminderSkipped:
		t.status.Skipped++
	}
}

func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	s := t.status
	t.mu.Unlock()
	if c, ok := t.bus.(eventbus.Counting); ok {
		s.EventsDropped = c.Dropped()
	}
	return s
}
