package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mindful/internal/domain"
	"mindful/internal/ledger"
	logx "mindful/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; the UNIQUE index still decides
	// ledger races between processes sharing the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, start_time, kind, days, once_date, excluded_dates, timezone, lead_minutes, enabled
		 FROM schedules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		var (
			r        scheduleRow
			days     string
			excluded string
			lead     sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Title, &r.StartTime, &r.Kind, &days, &r.Date, &excluded, &r.Timezone, &lead, &r.Enabled); err != nil {
			return nil, err
		}
		r.Days = splitList(days)
		r.Excluded = splitList(excluded)
		if lead.Valid {
			v := int(lead.Int64)
			r.LeadMinutes = &v
		}
		sched, err := r.decode()
		if err != nil {
			// One bad row must not hide every other schedule.
			s.log.Warn("skipping unreadable schedule", logx.String("schedule_id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sched domain.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	r := encodeSchedule(sched)
	var lead any
	if r.LeadMinutes != nil {
		lead = *r.LeadMinutes
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, user_id, title, start_time, kind, days, once_date, excluded_dates, timezone, lead_minutes, enabled)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, title=excluded.title, start_time=excluded.start_time, kind=excluded.kind,
		   days=excluded.days, once_date=excluded.once_date, excluded_dates=excluded.excluded_dates,
		   timezone=excluded.timezone, lead_minutes=excluded.lead_minutes, enabled=excluded.enabled`,
		r.ID, r.UserID, r.Title, r.StartTime, r.Kind, strings.Join(r.Days, ","), r.Date, strings.Join(r.Excluded, ","),
		r.Timezone, lead, r.Enabled,
	)
	return err
}

func (s *sqliteStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, telegram_chat_id FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Email, &u.TelegramChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}

func (s *sqliteStore) SaveUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, display_name, email, telegram_chat_id) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, email=excluded.email, telegram_chat_id=excluded.telegram_chat_id`,
		u.ID, u.DisplayName, u.Email, u.TelegramChatID,
	)
	return err
}

func (s *sqliteStore) HasAttempted(ctx context.Context, key domain.DispatchKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatch_records WHERE schedule_id = ? AND channel = ? AND occurrence_start = ?`,
		key.ScheduleID, string(key.Channel), key.OccurrenceStart.UnixMilli(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) RecordAttempt(ctx context.Context, rec domain.DispatchRecord) (ledger.Outcome, error) {
	if err := ledger.Validate(rec); err != nil {
		return 0, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_records(id, user_id, schedule_id, occurrence_start, channel, status, sent_at, error)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(schedule_id, channel, occurrence_start) DO NOTHING`,
		rec.ID, rec.UserID, rec.ScheduleID, rec.OccurrenceStart.UnixMilli(), string(rec.Channel), string(rec.Status),
		millisPtr(rec.SentAt), nullStr(rec.Error),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return ledger.Duplicate, nil
	}
	return ledger.Recorded, nil
}

func (s *sqliteStore) ListDispatchRecords(ctx context.Context, scheduleID string) ([]domain.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, schedule_id, occurrence_start, channel, status, sent_at, error
		 FROM dispatch_records WHERE schedule_id = ? ORDER BY occurrence_start, channel`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DispatchRecord
	for rows.Next() {
		var (
			r       domain.DispatchRecord
			startMS int64
			channel string
			status  string
			sentMS  sql.NullInt64
			errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ScheduleID, &startMS, &channel, &status, &sentMS, &errText); err != nil {
			return nil, err
		}
		r.OccurrenceStart = time.UnixMilli(startMS).UTC()
		ch, err := domain.ParseChannel(channel)
		if err != nil {
			return nil, fmt.Errorf("dispatch record %s: %w", r.ID, err)
		}
		r.Channel = ch
		r.Status = domain.DispatchStatus(status)
		if sentMS.Valid {
			t := time.UnixMilli(sentMS.Int64).UTC()
			r.SentAt = &t
		}
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveNotification(ctx context.Context, n domain.InAppNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, user_id, title, message, created_at, scheduled_start_at, read) VALUES(?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Title, n.Message, n.CreatedAt.UnixMilli(), n.ScheduledStartAt.UnixMilli(), n.Read,
	)
	return err
}

func (s *sqliteStore) ListNotifications(ctx context.Context, userID string) ([]domain.InAppNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, message, created_at, scheduled_start_at, read
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InAppNotification
	for rows.Next() {
		var (
			n                  domain.InAppNotification
			createdMS, startMS int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &createdMS, &startMS, &n.Read); err != nil {
			return nil, err
		}
		n.CreatedAt = time.UnixMilli(createdMS).UTC()
		n.ScheduledStartAt = time.UnixMilli(startMS).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}
