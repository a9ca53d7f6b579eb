package reminder

import (
	"time"

	"mindful/internal/domain"
)

// Clock is the poller's only source of "now".
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Config controls a poll pass. Zero fields take the defaults below.
type Config struct {
	CatchUp         time.Duration
	Workers         int
	SendTimeout     time.Duration
	DefaultTimezone string
}

const (
	DefaultWorkers     = 8
	DefaultSendTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.CatchUp < 0 {
		c.CatchUp = 0
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = domain.DefaultTimezone
	}
	return c
}

// DispatchEvent is the payload of reminder.* events.
type DispatchEvent struct {
	ScheduleID      string         `json:"schedule_id"`
	UserID          string         `json:"user_id"`
	Channel         domain.Channel `json:"channel"`
	OccurrenceStart time.Time      `json:"occurrence_start"`
	Error           string         `json:"error,omitempty"`
}

// PassSummary is the payload of the poller.pass event.
type PassSummary struct {
	At         time.Time     `json:"at"`
	Schedules  int           `json:"schedules"`
	Due        int           `json:"due"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Duplicates int           `json:"duplicates"`
	Attempted  int           `json:"attempted"` // already in the ledger before this pass
	Skipped    int           `json:"skipped"`   // owner missing
	Errors     int           `json:"errors"`    // store or ledger errors
	Took       time.Duration `json:"took"`
}
