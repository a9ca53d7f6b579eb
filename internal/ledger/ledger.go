// Package ledger records reminder delivery attempts.
//
// A ledger is keyed by (schedule, channel, occurrence start). The first
// RecordAttempt for a key wins; every later one, concurrent or not, reports
// Duplicate. The check-and-insert is atomic inside the backing store, so the
// poller needs no locking of its own.
package ledger

import (
	"context"
	"errors"

	"mindful/internal/domain"
)

type Outcome int

const (
	Recorded Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ErrInvalidRecord is returned for records missing part of their key.
var ErrInvalidRecord = errors.New("dispatch record: schedule id, channel and occurrence start are required")

type Ledger interface {
	// HasAttempted reports whether any record (SENT or FAILED) exists for key.
	HasAttempted(ctx context.Context, key domain.DispatchKey) (bool, error)
	// RecordAttempt stores rec unless its key already exists.
	RecordAttempt(ctx context.Context, rec domain.DispatchRecord) (Outcome, error)
}

// Validate checks that rec carries a complete key and a known status.
func Validate(rec domain.DispatchRecord) error {
	if rec.ScheduleID == "" || rec.Channel == "" || rec.OccurrenceStart.IsZero() {
		return ErrInvalidRecord
	}
	switch rec.Status {
	case domain.StatusSent, domain.StatusFailed:
		return nil
	default:
		return errors.New("dispatch record: unknown status " + string(rec.Status))
	}
}
