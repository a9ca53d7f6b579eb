package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mindful/internal/domain"
)

const (
	DefaultKeyPrefix = "mindful:dispatch:"
	DefaultTTL       = 30 * 24 * time.Hour
)

// Redis shares one ledger between daemon instances. Each key is claimed with
// SETNX, so exactly one instance records a given attempt.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	KeyPrefix string
	// TTL bounds how long records are kept. It must outlive the poller's
	// lookahead plus catch-up window or an aged-out key could be re-sent.
	TTL time.Duration
}

func NewRedis(client redis.Cmdable, opts RedisOptions) *Redis {
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

type redisRecord struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	ScheduleID      string `json:"schedule_id"`
	OccurrenceStart int64  `json:"occurrence_start_ms"`
	Channel         string `json:"channel"`
	Status          string `json:"status"`
	SentAt          *int64 `json:"sent_at_ms,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (r *Redis) key(k domain.DispatchKey) string { return r.prefix + k.String() }

func (r *Redis) HasAttempted(ctx context.Context, key domain.DispatchKey) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) RecordAttempt(ctx context.Context, rec domain.DispatchRecord) (Outcome, error) {
	if err := Validate(rec); err != nil {
		return 0, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := redisRecord{
		ID:              rec.ID,
		UserID:          rec.UserID,
		ScheduleID:      rec.ScheduleID,
		OccurrenceStart: rec.OccurrenceStart.UnixMilli(),
		Channel:         string(rec.Channel),
		Status:          string(rec.Status),
		Error:           rec.Error,
	}
	if rec.SentAt != nil {
		ms := rec.SentAt.UnixMilli()
		row.SentAt = &ms
	}
	b, err := json.Marshal(row)
	if err != nil {
		return 0, err
	}

	ok, err := r.client.SetNX(ctx, r.key(rec.Key()), b, r.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ledger setnx: %w", err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Recorded, nil
}

// Records returns the stored records of one schedule.
func (r *Redis) Records(ctx context.Context, scheduleID string) ([]domain.DispatchRecord, error) {
	var out []domain.DispatchRecord
	iter := r.client.Scan(ctx, 0, escapeGlob(r.prefix+scheduleID)+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis ledger get: %w", err)
		}
		var row redisRecord
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("redis ledger decode %s: %w", iter.Val(), err)
		}
		// "s1:*" also matches the keys of a schedule named "s1:EMAIL".
		if row.ScheduleID != scheduleID {
			continue
		}
		ch, err := domain.ParseChannel(row.Channel)
		if err != nil {
			return nil, fmt.Errorf("redis ledger decode %s: %w", iter.Val(), err)
		}
		rec := domain.DispatchRecord{
			ID:              row.ID,
			UserID:          row.UserID,
			ScheduleID:      row.ScheduleID,
			OccurrenceStart: time.UnixMilli(row.OccurrenceStart).UTC(),
			Channel:         ch,
			Status:          domain.DispatchStatus(row.Status),
			Error:           row.Error,
		}
		if row.SentAt != nil {
			t := time.UnixMilli(*row.SentAt).UTC()
			rec.SentAt = &t
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis ledger scan: %w", err)
	}
	SortRecords(out)
	return out, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as a pattern.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
