package recurrence

import (
	"time"

	"mindful/internal/domain"
)

// Due is a reminder that should be sent during the current window.
type Due struct {
	Schedule   domain.Schedule
	Occurrence time.Time
	DueAt      time.Time
}

// Window is the half-open span [Now-CatchUp, Now+Lookahead) in which due
// instants are actionable.
//
// CatchUp is zero unless the operator opts into recovering reminders whose
// due instant passed while the process was down; even then only occurrences
// that have not started yet are considered.
type Window struct {
	Now       time.Time
	Lookahead time.Duration
	CatchUp   time.Duration
}

func (w Window) Start() time.Time { return w.Now.Add(-w.CatchUp) }
func (w Window) End() time.Time   { return w.Now.Add(w.Lookahead) }

// Contains reports whether t is inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start()) && t.Before(w.End())
}

// Due returns the reminders of schedules that fall inside w. The result order
// follows the input order but callers must not rely on it.
//
// Disabled schedules and schedules with an out-of-range lead are skipped.
func (c *Calculator) Due(schedules []domain.Schedule, w Window) []Due {
	if w.Lookahead <= 0 && w.CatchUp <= 0 {
		return nil
	}
	out := make([]Due, 0, 4)
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		lead := s.LeadMinutesOrDefault()
		if lead < 0 || lead > domain.MaxLeadMinutes {
			continue
		}
		occ, ok := c.Next(s, w.Now)
		if !ok {
			continue
		}
		dueAt := occ.Add(-time.Duration(lead) * time.Minute)
		if !w.Contains(dueAt) {
			continue
		}
		out = append(out, Due{Schedule: s, Occurrence: occ, DueAt: dueAt})
	}
	return out
}

// DueReminders applies the strict forward window [now, now+lookahead).
func DueReminders(schedules []domain.Schedule, now time.Time, lookahead time.Duration) []Due {
	return std.Due(schedules, Window{Now: now, Lookahead: lookahead})
}
