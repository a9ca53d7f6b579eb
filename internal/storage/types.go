package storage

import (
	"context"
	"errors"
	"time"

	"mindful/internal/domain"
	"mindful/internal/ledger"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reached through DSN
//   - "memory": process-local, lost on exit
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleSource lists the schedules the poller evaluates.
type ScheduleSource interface {
	ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error)
}

// UserSource resolves schedule owners. A missing user is (zero, false, nil).
type UserSource interface {
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
}

// NotificationSink stores in-app notifications for the app to show.
type NotificationSink interface {
	SaveNotification(ctx context.Context, n domain.InAppNotification) error
}

type Store interface {
	ScheduleSource
	UserSource
	NotificationSink
	ledger.Ledger

	// SaveSchedule inserts or replaces a validated schedule.
	SaveSchedule(ctx context.Context, s domain.Schedule) error
	// SaveUser inserts or replaces a user.
	SaveUser(ctx context.Context, u domain.User) error
	// ListDispatchRecords returns the attempts for one schedule, oldest
	// occurrence first.
	ListDispatchRecords(ctx context.Context, scheduleID string) ([]domain.DispatchRecord, error)
	// ListNotifications returns a user's in-app notifications, newest first.
	ListNotifications(ctx context.Context, userID string) ([]domain.InAppNotification, error)

	Close() error
}
