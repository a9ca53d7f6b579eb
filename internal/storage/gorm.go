package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"mindful/internal/domain"
	"mindful/internal/ledger"
	logx "mindful/pkg/logx"
)

type userModel struct {
	ID             string `gorm:"type:varchar(64);primaryKey"`
	DisplayName    string `gorm:"type:varchar(255);not null;default:''"`
	Email          string `gorm:"type:varchar(255);not null;default:''"`
	TelegramChatID int64  `gorm:"not null;default:0"`
}

func (userModel) TableName() string { return "users" }

type scheduleModel struct {
	ID            string                      `gorm:"type:varchar(64);primaryKey"`
	UserID        string                      `gorm:"type:varchar(64);not null;index"`
	Title         string                      `gorm:"type:varchar(255);not null"`
	StartTime     string                      `gorm:"type:varchar(8);not null"`
	Kind          string                      `gorm:"type:varchar(16);not null"`
	Days          datatypes.JSONSlice[string] `gorm:"not null"`
	OnceDate      *datatypes.Date             `gorm:"type:date"`
	ExcludedDates datatypes.JSONSlice[string] `gorm:"not null"`
	Timezone      string                      `gorm:"type:varchar(64);not null;default:''"`
	LeadMinutes   *int                        `gorm:"check:lead_minutes BETWEEN 0 AND 1440"`
	Enabled       bool                        `gorm:"not null;index"`
}

func (scheduleModel) TableName() string { return "schedules" }

type dispatchModel struct {
	ID              string    `gorm:"type:varchar(64);primaryKey"`
	UserID          string    `gorm:"type:varchar(64);not null"`
	ScheduleID      string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_dispatch_key,priority:1"`
	Channel         string    `gorm:"type:varchar(16);not null;uniqueIndex:uq_dispatch_key,priority:2"`
	OccurrenceStart time.Time `gorm:"not null;uniqueIndex:uq_dispatch_key,priority:3"`
	Status          string    `gorm:"type:varchar(16);not null"`
	SentAt          *time.Time
	Error           *string `gorm:"type:text"`
}

func (dispatchModel) TableName() string { return "dispatch_records" }

type notificationModel struct {
	ID               string    `gorm:"type:varchar(64);primaryKey"`
	UserID           string    `gorm:"type:varchar(64);not null;index"`
	Title            string    `gorm:"type:varchar(255);not null"`
	Message          string    `gorm:"type:text;not null"`
	CreatedAt        time.Time `gorm:"not null"`
	ScheduledStartAt time.Time `gorm:"not null"`
	Read             bool      `gorm:"not null;default:false"`
}

func (notificationModel) TableName() string { return "notifications" }

type gormStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	return openGorm(postgres.Open(cfg.DSN), log)
}

// openGorm opens any gorm dialector and migrates the schema.
func openGorm(dialector gorm.Dialector, log logx.Logger) (*gormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	if err := db.AutoMigrate(&userModel{}, &scheduleModel{}, &dispatchModel{}, &notificationModel{}); err != nil {
		return nil, fmt.Errorf("gorm migrate: %w", err)
	}
	log.Debug("gorm store opened", logx.String("dialect", dialector.Name()))
	return &gormStore{db: db, log: log}, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	var rows []scheduleModel
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Schedule, 0, len(rows))
	for _, m := range rows {
		r := scheduleRow{
			ID:          m.ID,
			UserID:      m.UserID,
			Title:       m.Title,
			StartTime:   m.StartTime,
			Kind:        m.Kind,
			Days:        m.Days,
			Excluded:    m.ExcludedDates,
			Timezone:    m.Timezone,
			LeadMinutes: m.LeadMinutes,
			Enabled:     m.Enabled,
		}
		if m.OnceDate != nil {
			r.Date = domain.DateOf(time.Time(*m.OnceDate)).String()
		}
		sched, err := r.decode()
		if err != nil {
			s.log.Warn("skipping unreadable schedule", logx.String("schedule_id", m.ID), logx.Err(err))
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

func (s *gormStore) SaveSchedule(ctx context.Context, sched domain.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	r := encodeSchedule(sched)
	m := scheduleModel{
		ID:            r.ID,
		UserID:        r.UserID,
		Title:         r.Title,
		StartTime:     r.StartTime,
		Kind:          r.Kind,
		Days:          datatypes.NewJSONSlice(r.Days),
		ExcludedDates: datatypes.NewJSONSlice(r.Excluded),
		Timezone:      r.Timezone,
		LeadMinutes:   r.LeadMinutes,
		Enabled:       r.Enabled,
	}
	if !sched.Date.IsZero() {
		d := datatypes.Date(time.Date(sched.Date.Year, sched.Date.Month, sched.Date.Day, 0, 0, 0, 0, time.UTC))
		m.OnceDate = &d
	}
	// Save writes every column, including false and nil values.
	return s.db.WithContext(ctx).Save(&m).Error
}

func (s *gormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var m userModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return domain.User{ID: m.ID, DisplayName: m.DisplayName, Email: m.Email, TelegramChatID: m.TelegramChatID}, true, nil
}

func (s *gormStore) SaveUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	m := userModel{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email, TelegramChatID: u.TelegramChatID}
	return s.db.WithContext(ctx).Save(&m).Error
}

func (s *gormStore) HasAttempted(ctx context.Context, key domain.DispatchKey) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&dispatchModel{}).
		Where("schedule_id = ? AND channel = ? AND occurrence_start = ?", key.ScheduleID, string(key.Channel), key.OccurrenceStart.UTC()).
		Count(&n).Error
	return n > 0, err
}

func (s *gormStore) RecordAttempt(ctx context.Context, rec domain.DispatchRecord) (ledger.Outcome, error) {
	if err := ledger.Validate(rec); err != nil {
		return 0, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m := dispatchModel{
		ID:              rec.ID,
		UserID:          rec.UserID,
		ScheduleID:      rec.ScheduleID,
		Channel:         string(rec.Channel),
		OccurrenceStart: rec.OccurrenceStart.UTC(),
		Status:          string(rec.Status),
	}
	if rec.SentAt != nil {
		t := rec.SentAt.UTC()
		m.SentAt = &t
	}
	if rec.Error != "" {
		m.Error = &rec.Error
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "channel"}, {Name: "occurrence_start"}},
		DoNothing: true,
	}).Create(&m)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return ledger.Duplicate, nil
	}
	return ledger.Recorded, nil
}

func (s *gormStore) ListDispatchRecords(ctx context.Context, scheduleID string) ([]domain.DispatchRecord, error) {
	var rows []dispatchModel
	err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("occurrence_start, channel").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.DispatchRecord, 0, len(rows))
	for _, m := range rows {
		ch, err := domain.ParseChannel(m.Channel)
		if err != nil {
			return nil, fmt.Errorf("dispatch record %s: %w", m.ID, err)
		}
		r := domain.DispatchRecord{
			ID:              m.ID,
			UserID:          m.UserID,
			ScheduleID:      m.ScheduleID,
			OccurrenceStart: m.OccurrenceStart.UTC(),
			Channel:         ch,
			Status:          domain.DispatchStatus(m.Status),
		}
		if m.SentAt != nil {
			t := m.SentAt.UTC()
			r.SentAt = &t
		}
		if m.Error != nil {
			r.Error = *m.Error
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *gormStore) SaveNotification(ctx context.Context, n domain.InAppNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	m := notificationModel{
		ID:               n.ID,
		UserID:           n.UserID,
		Title:            n.Title,
		Message:          n.Message,
		CreatedAt:        n.CreatedAt.UTC(),
		ScheduledStartAt: n.ScheduledStartAt.UTC(),
		Read:             n.Read,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *gormStore) ListNotifications(ctx context.Context, userID string) ([]domain.InAppNotification, error) {
	var rows []notificationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.InAppNotification, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.InAppNotification{
			ID:               m.ID,
			UserID:           m.UserID,
			Title:            m.Title,
			Message:          m.Message,
			CreatedAt:        m.CreatedAt.UTC(),
			ScheduledStartAt: m.ScheduledStartAt.UTC(),
			Read:             m.Read,
		})
	}
	return out, nil
}
