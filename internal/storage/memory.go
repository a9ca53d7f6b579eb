package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindful/internal/domain"
	"mindful/internal/ledger"
)

// Memory keeps everything in process. The dispatch ledger is a
// ledger.Memory, so attempts are unique per key under concurrent writers.
type Memory struct {
	*ledger.Memory

	mu            sync.RWMutex
	schedules     map[string]domain.Schedule
	users         map[string]domain.User
	notifications []domain.InAppNotification
}

func NewMemory() *Memory {
	return &Memory{
		Memory:    ledger.NewMemory(),
		schedules: map[string]domain.Schedule{},
		users:     map[string]domain.User{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ListEnabledSchedules(context.Context) ([]domain.Schedule, error) {
	m.mu.RLock()
	out := make([]domain.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		if s.Enabled {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveSchedule(_ context.Context, s domain.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.Excluded = append([]domain.Date(nil), s.Excluded...)
	m.mu.Lock()
	m.schedules[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *Memory) SaveUser(_ context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListDispatchRecords(_ context.Context, scheduleID string) ([]domain.DispatchRecord, error) {
	return m.Records(scheduleID), nil
}

func (m *Memory) SaveNotification(_ context.Context, n domain.InAppNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.notifications = append(m.notifications, n)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string) ([]domain.InAppNotification, error) {
	m.mu.RLock()
	var out []domain.InAppNotification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
