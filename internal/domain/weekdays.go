package domain

import (
	"fmt"
	"strings"
	"time"
)

// Weekdays is a set of weekdays stored as a bitmask indexed by time.Weekday.
type Weekdays uint8

func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w = w.Add(d)
	}
	return w
}

// EveryDay contains all seven weekdays.
const EveryDay Weekdays = 0x7f

func (w Weekdays) Add(d time.Weekday) Weekdays {
	if d < time.Sunday || d > time.Saturday {
		return w
	}
	return w | 1<<uint(d)
}

func (w Weekdays) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return w&(1<<uint(d)) != 0
}

func (w Weekdays) Empty() bool { return w&EveryDay == 0 }

func (w Weekdays) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			n++
		}
	}
	return n
}

// Days lists the members Monday first.
func (w Weekdays) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Names renders the set as upper-case weekday names, e.g. "MONDAY,WEDNESDAY".
func (w Weekdays) Names() []string {
	days := w.Days()
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, strings.ToUpper(d.String()))
	}
	return out
}

func (w Weekdays) String() string { return strings.Join(w.Names(), ",") }

var weekdayNames = map[string]time.Weekday{
	"SUNDAY": time.Sunday, "SUN": time.Sunday,
	"MONDAY": time.Monday, "MON": time.Monday,
	"TUESDAY": time.Tuesday, "TUE": time.Tuesday,
	"WEDNESDAY": time.Wednesday, "WED": time.Wednesday,
	"THURSDAY": time.Thursday, "THU": time.Thursday,
	"FRIDAY": time.Friday, "FRI": time.Friday,
	"SATURDAY": time.Saturday, "SAT": time.Saturday,
}

func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// ParseWeekdayNames builds a set from names such as "MONDAY" or "mon".
func ParseWeekdayNames(names []string) (Weekdays, error) {
	var w Weekdays
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		d, err := ParseWeekday(n)
		if err != nil {
			return 0, err
		}
		w = w.Add(d)
	}
	return w, nil
}

// ParseWeekdays parses a comma separated list.
func ParseWeekdays(s string) (Weekdays, error) {
	return ParseWeekdayNames(strings.Split(s, ","))
}
