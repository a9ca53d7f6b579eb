package recurrence

import (
	"strings"
	"sync"
	"time"

	"mindful/internal/domain"
)

// Calculator computes occurrences for schedules. It performs no I/O beyond
// zone lookups, which are cached.
//
// The zero value uses domain.DefaultTimezone as the fallback zone.
type Calculator struct {
	// Default replaces missing or unknown schedule zones.
	Default *time.Location

	zones sync.Map // name -> *time.Location
}

// NewCalculator builds a calculator with the given fallback zone name. An
// unknown name falls back to domain.DefaultTimezone, and then to UTC.
func NewCalculator(defaultZone string) *Calculator {
	return &Calculator{Default: loadOr(defaultZone, defaultLocation())}
}

var (
	defaultLocOnce sync.Once
	defaultLoc     *time.Location
)

func defaultLocation() *time.Location {
	defaultLocOnce.Do(func() {
		defaultLoc = loadOr(domain.DefaultTimezone, time.UTC)
	})
	return defaultLoc
}

func loadOr(name string, fallback *time.Location) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

func (c *Calculator) fallback() *time.Location {
	if c != nil && c.Default != nil {
		return c.Default
	}
	return defaultLocation()
}

// Location resolves a schedule zone name. Missing, blank and unparseable
// names resolve to the fallback zone instead of failing.
func (c *Calculator) Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.fallback()
	}
	if c != nil {
		if v, ok := c.zones.Load(name); ok {
			return v.(*time.Location)
		}
	}
	loc := loadOr(name, c.fallback())
	if c != nil {
		c.zones.Store(name, loc)
	}
	return loc
}

// Next returns the first occurrence of s strictly after ref.
//
// It reports false when the schedule cannot produce an occurrence: a weekly
// schedule without days, a one-off schedule without a date or whose date has
// passed, or an invalid start time.
func (c *Calculator) Next(s domain.Schedule, ref time.Time) (time.Time, bool) {
	if !s.StartTime.Valid() {
		return time.Time{}, false
	}
	loc := c.Location(s.Timezone)

	var days domain.Weekdays
	switch s.Kind {
	case domain.Once:
		if s.Date.IsZero() || s.IsExcluded(s.Date) {
			return time.Time{}, false
		}
		occ := s.StartTime.On(s.Date, loc)
		if !occ.After(ref) {
			return time.Time{}, false
		}
		return occ, true
	case domain.Daily:
		days = domain.EveryDay
	case domain.Weekly:
		days = s.Days
	default:
		return time.Time{}, false
	}
	if days.Empty() {
		return time.Time{}, false
	}

	today := domain.DateOf(ref.In(loc))
	// Each excluded date can hide at most one matching day per week.
	horizon := 7*(len(s.Excluded)+1) + 1
	for i := 0; i < horizon; i++ {
		d := today.AddDays(i)
		if !days.Has(d.Weekday()) || s.IsExcluded(d) {
			continue
		}
		occ := s.StartTime.On(d, loc)
		if occ.After(ref) {
			return occ, true
		}
	}
	return time.Time{}, false
}

var std = &Calculator{}

// NextOccurrence is Calculator.Next with the default fallback zone.
func NextOccurrence(s domain.Schedule, ref time.Time) (time.Time, bool) {
	return std.Next(s, ref)
}

// ResolveLocation is Calculator.Location with the default fallback zone.
func ResolveLocation(name string) *time.Location {
	return std.Location(name)
}
