package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimezone is substituted whenever a schedule's zone is missing,
// blank or unknown.
const DefaultTimezone = "Europe/Zagreb"

const (
	DefaultLeadMinutes = 10
	MaxLeadMinutes     = 1440
)

// RecurrenceKind selects how a schedule repeats.
type RecurrenceKind string

const (
	Daily  RecurrenceKind = "DAILY"
	Weekly RecurrenceKind = "WEEKLY"
	Once   RecurrenceKind = "ONCE"
)

// ParseRecurrenceKind accepts the kind case-insensitively.
func ParseRecurrenceKind(s string) (RecurrenceKind, error) {
	switch k := RecurrenceKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Daily, Weekly, Once:
		return k, nil
	default:
		return "", fmt.Errorf("unknown recurrence kind %q", s)
	}
}

// Schedule is a practice a user wants to be reminded about.
//
// LeadMinutes is a pointer so "unset" (default 10) is distinguishable from
// an explicit zero lead.
type Schedule struct {
	ID          string
	UserID      string
	Title       string
	StartTime   TimeOfDay
	Kind        RecurrenceKind
	Days        Weekdays
	Date        Date // ONCE only
	Excluded    []Date
	Timezone    string
	LeadMinutes *int
	Enabled     bool
}

var (
	ErrMissingDays    = errors.New("weekly schedule requires at least one weekday")
	ErrMissingDate    = errors.New("one-off schedule requires a date")
	ErrLeadOutOfRange = fmt.Errorf("reminder lead must be within [0, %d] minutes", MaxLeadMinutes)
)

// Lead returns the effective reminder lead time.
func (s Schedule) Lead() time.Duration {
	return time.Duration(s.LeadMinutesOrDefault()) * time.Minute
}

func (s Schedule) LeadMinutesOrDefault() int {
	if s.LeadMinutes == nil {
		return DefaultLeadMinutes
	}
	return *s.LeadMinutes
}

// IsExcluded reports whether no occurrence may fall on the given local date.
func (s Schedule) IsExcluded(d Date) bool {
	for _, x := range s.Excluded {
		if x == d {
			return true
		}
	}
	return false
}

// Validate checks the invariants a stored schedule must satisfy.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("schedule id is required")
	}
	if strings.TrimSpace(s.UserID) == "" {
		return errors.New("schedule owner is required")
	}
	if !s.StartTime.Valid() {
		return fmt.Errorf("invalid start time %s", s.StartTime)
	}
	switch s.Kind {
	case Daily:
	case Weekly:
		if s.Days.Empty() {
			return ErrMissingDays
		}
	case Once:
		if s.Date.IsZero() {
			return ErrMissingDate
		}
	default:
		return fmt.Errorf("unknown recurrence kind %q", s.Kind)
	}
	if s.LeadMinutes != nil && (*s.LeadMinutes < 0 || *s.LeadMinutes > MaxLeadMinutes) {
		return ErrLeadOutOfRange
	}
	return nil
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int { return &v }
