package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"mindful/internal/domain"
)

type memKey struct {
	scheduleID string
	channel    domain.Channel
	startMS    int64
}

func keyOf(k domain.DispatchKey) memKey {
	return memKey{scheduleID: k.ScheduleID, channel: k.Channel, startMS: k.OccurrenceStart.UnixMilli()}
}

// Memory is a process-local ledger. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records map[memKey]domain.DispatchRecord
}

func NewMemory() *Memory {
	return &Memory{records: map[memKey]domain.DispatchRecord{}}
}

func (m *Memory) HasAttempted(_ context.Context, key domain.DispatchKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[keyOf(key)]
	return ok, nil
}

func (m *Memory) RecordAttempt(_ context.Context, rec domain.DispatchRecord) (Outcome, error) {
	if err := Validate(rec); err != nil {
		return 0, err
	}
	k := keyOf(rec.Key())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[k]; ok {
		return Duplicate, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records[k] = rec
	return Recorded, nil
}

// Records returns the records for scheduleID ordered by occurrence start and
// channel. An empty scheduleID returns everything.
func (m *Memory) Records(scheduleID string) []domain.DispatchRecord {
	m.mu.Lock()
	out := make([]domain.DispatchRecord, 0, len(m.records))
	for _, r := range m.records {
		if scheduleID == "" || r.ScheduleID == scheduleID {
			out = append(out, r)
		}
	}
	m.mu.Unlock()
	SortRecords(out)
	return out
}

// SortRecords orders records by occurrence start, then channel.
func SortRecords(recs []domain.DispatchRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].OccurrenceStart.Equal(recs[j].OccurrenceStart) {
			return recs[i].OccurrenceStart.Before(recs[j].OccurrenceStart)
		}
		if recs[i].Channel != recs[j].Channel {
			return recs[i].Channel < recs[j].Channel
		}
		return recs[i].ScheduleID < recs[j].ScheduleID
	})
}
