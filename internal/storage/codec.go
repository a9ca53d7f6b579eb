package storage

import (
	"fmt"
	"strings"
	"time"

	"mindful/internal/domain"
)

// scheduleRow is the column form of a schedule shared by the SQL drivers.
type scheduleRow struct {
	ID          string
	UserID      string
	Title       string
	StartTime   string
	Kind        string
	Days        []string
	Date        string
	Excluded    []string
	Timezone    string
	LeadMinutes *int
	Enabled     bool
}

func encodeSchedule(s domain.Schedule) scheduleRow {
	excluded := make([]string, 0, len(s.Excluded))
	for _, d := range s.Excluded {
		excluded = append(excluded, d.String())
	}
	return scheduleRow{
		ID:          s.ID,
		UserID:      s.UserID,
		Title:       s.Title,
		StartTime:   s.StartTime.String(),
		Kind:        string(s.Kind),
		Days:        s.Days.Names(),
		Date:        s.Date.String(),
		Excluded:    excluded,
		Timezone:    s.Timezone,
		LeadMinutes: s.LeadMinutes,
		Enabled:     s.Enabled,
	}
}

func (r scheduleRow) decode() (domain.Schedule, error) {
	start, err := domain.ParseTimeOfDay(r.StartTime)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	kind, err := domain.ParseRecurrenceKind(r.Kind)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	days, err := domain.ParseWeekdayNames(r.Days)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	var date domain.Date
	if strings.TrimSpace(r.Date) != "" {
		if date, err = domain.ParseDate(r.Date); err != nil {
			return domain.Schedule{}, fmt.Errorf("schedule %s: %w", r.ID, err)
		}
	}
	excluded, err := domain.ParseDates(strings.Join(r.Excluded, ","))
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	return domain.Schedule{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		StartTime:   start,
		Kind:        kind,
		Days:        days,
		Date:        date,
		Excluded:    excluded,
		Timezone:    r.Timezone,
		LeadMinutes: r.LeadMinutes,
		Enabled:     r.Enabled,
	}, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
