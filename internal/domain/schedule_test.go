package domain

import (
	"errors"
	"testing"
	"time"
)

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	base := Schedule{ID: "s1", UserID: "u1", StartTime: MustTimeOfDay("08:00"), Kind: Daily}

	tests := []struct {
		name    string
		mut     func(s *Schedule)
		wantErr error
		ok      bool
	}{
		{name: "daily", mut: func(s *Schedule) {}, ok: true},
		{name: "weekly without days", mut: func(s *Schedule) { s.Kind = Weekly }, wantErr: ErrMissingDays},
		{name: "weekly with days", mut: func(s *Schedule) { s.Kind = Weekly; s.Days = NewWeekdays(time.Monday) }, ok: true},
		{name: "once without date", mut: func(s *Schedule) { s.Kind = Once }, wantErr: ErrMissingDate},
		{name: "lead too large", mut: func(s *Schedule) { s.LeadMinutes = IntPtr(MaxLeadMinutes + 1) }, wantErr: ErrLeadOutOfRange},
		{name: "negative lead", mut: func(s *Schedule) { s.LeadMinutes = IntPtr(-1) }, wantErr: ErrLeadOutOfRange},
		{name: "zero lead", mut: func(s *Schedule) { s.LeadMinutes = IntPtr(0) }, ok: true},
		{name: "missing owner", mut: func(s *Schedule) { s.UserID = " " }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mut(&s)
			err := s.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLeadDefaultsToTenMinutes(t *testing.T) {
	t.Parallel()
	var s Schedule
	if got := s.Lead(); got != 10*time.Minute {
		t.Fatalf("Lead() = %v, want 10m", got)
	}
	s.LeadMinutes = IntPtr(0)
	if got := s.Lead(); got != 0 {
		t.Fatalf("Lead() = %v, want 0", got)
	}
}

func TestWeekdaysRoundTrip(t *testing.T) {
	t.Parallel()
	w, err := ParseWeekdays("wednesday, MON,fri")
	if err != nil {
		t.Fatalf("ParseWeekdays error: %v", err)
	}
	if got := w.String(); got != "MONDAY,WEDNESDAY,FRIDAY" {
		t.Fatalf("String() = %q, want MONDAY,WEDNESDAY,FRIDAY", got)
	}
	if !w.Has(time.Friday) || w.Has(time.Tuesday) {
		t.Fatalf("unexpected membership for %v", w)
	}
	if w.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", w.Len())
	}
	if _, err := ParseWeekdays("MONDAY,FUNDAY"); err == nil {
		t.Fatal("expected error for unknown weekday")
	}
	if !NewWeekdays().Empty() {
		t.Fatal("expected empty set")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tod, err := ParseTimeOfDay("18:30")
	if err != nil {
		t.Fatalf("ParseTimeOfDay error: %v", err)
	}
	if tod.Hour != 18 || tod.Minute != 30 {
		t.Fatalf("unexpected result: %s", tod)
	}
	if tod, err := ParseTimeOfDay("7:05:00"); err != nil || tod.String() != "07:05" {
		t.Fatalf("ParseTimeOfDay(7:05:00) = %v, %v", tod, err)
	}
	for _, bad := range []string{"24:00", "12:60", "noon", ""} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDateAddDaysRollsOver(t *testing.T) {
	t.Parallel()
	d := MustDate("2024-12-31").AddDays(1)
	if d.String() != "2025-01-01" {
		t.Fatalf("AddDays = %s, want 2025-01-01", d)
	}
	if MustDate("2024-03-04").Weekday() != time.Monday {
		t.Fatal("2024-03-04 should be a Monday")
	}
	ds, err := ParseDates("2024-01-01, ,2024-01-03")
	if err != nil || len(ds) != 2 {
		t.Fatalf("ParseDates = %v, %v", ds, err)
	}
	if FormatDates(ds) != "2024-01-01,2024-01-03" {
		t.Fatalf("FormatDates = %q", FormatDates(ds))
	}
}

func TestParseChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{in: "EMAIL", want: ChannelEmail},
		{in: " push ", want: ChannelPush},
		{in: "Telegram", want: ChannelTelegram},
		{in: "FAX", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseChannel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseChannel(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}
