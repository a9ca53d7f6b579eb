package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mindful/internal/domain"
)

var occurrence = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

func sentRecord(scheduleID string, ch domain.Channel) domain.DispatchRecord {
	at := occurrence.Add(-10 * time.Minute)
	return domain.DispatchRecord{
		UserID:          "u1",
		ScheduleID:      scheduleID,
		OccurrenceStart: occurrence,
		Channel:         ch,
		Status:          domain.StatusSent,
		SentAt:          &at,
	}
}

func newRedisLedger(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisOptions{KeyPrefix: "test:", TTL: time.Hour}), mr
}

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	r, _ := newRedisLedger(t)
	return map[string]Ledger{"memory": NewMemory(), "redis": r}
}

func TestRecordAttemptOnce(t *testing.T) {
	t.Parallel()
	for name, l := range ledgers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			rec := sentRecord("s1", domain.ChannelPush)

			seen, err := l.HasAttempted(ctx, rec.Key())
			if err != nil || seen {
				t.Fatalf("HasAttempted before = (%v, %v), want (false, nil)", seen, err)
			}
			got, err := l.RecordAttempt(ctx, rec)
			if err != nil || got != Recorded {
				t.Fatalf("RecordAttempt = (%v, %v), want recorded", got, err)
			}

			failed := rec
			failed.Status = domain.StatusFailed
			failed.SentAt = nil
			failed.Error = "boom"
			got, err = l.RecordAttempt(ctx, failed)
			if err != nil || got != Duplicate {
				t.Fatalf("second RecordAttempt = (%v, %v), want duplicate", got, err)
			}

			seen, err = l.HasAttempted(ctx, rec.Key())
			if err != nil || !seen {
				t.Fatalf("HasAttempted after = (%v, %v), want (true, nil)", seen, err)
			}

			other := sentRecord("s1", domain.ChannelEmail)
			if got, _ := l.RecordAttempt(ctx, other); got != Recorded {
				t.Fatalf("other channel = %v, want recorded", got)
			}
		})
	}
}

func TestRecordAttemptSameInstantDifferentZone(t *testing.T) {
	t.Parallel()
	for name, l := range ledgers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			rec := sentRecord("s2", domain.ChannelPush)
			if _, err := l.RecordAttempt(ctx, rec); err != nil {
				t.Fatal(err)
			}
			rec.OccurrenceStart = occurrence.In(time.FixedZone("CET", 3600))
			got, err := l.RecordAttempt(ctx, rec)
			if err != nil || got != Duplicate {
				t.Fatalf("RecordAttempt = (%v, %v), want duplicate", got, err)
			}
		})
	}
}

func TestRecordAttemptConcurrent(t *testing.T) {
	t.Parallel()
	for name, l := range ledgers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			const callers = 32
			var recorded, duplicates atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					got, err := l.RecordAttempt(context.Background(), sentRecord("race", domain.ChannelEmail))
					if err != nil {
						t.Errorf("RecordAttempt: %v", err)
						return
					}
					switch got {
					case Recorded:
						recorded.Add(1)
					case Duplicate:
						duplicates.Add(1)
					}
				}()
			}
			wg.Wait()
			if recorded.Load() != 1 || duplicates.Load() != callers-1 {
				t.Fatalf("recorded=%d duplicates=%d, want 1/%d", recorded.Load(), duplicates.Load(), callers-1)
			}
		})
	}
}

func TestRecordAttemptRejectsIncompleteKey(t *testing.T) {
	t.Parallel()
	rec := sentRecord("", domain.ChannelPush)
	if _, err := NewMemory().RecordAttempt(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestRedisRecordsRoundTrip(t *testing.T) {
	t.Parallel()
	l, mr := newRedisLedger(t)
	ctx := context.Background()

	failed := sentRecord("s3", domain.ChannelTelegram)
	failed.Status = domain.StatusFailed
	failed.SentAt = nil
	failed.Error = "no chat"
	for _, rec := range []domain.DispatchRecord{sentRecord("s3", domain.ChannelPush), failed, sentRecord("s4", domain.ChannelPush)} {
		if _, err := l.RecordAttempt(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := l.Records(ctx, "s3")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(recs))
	}
	if recs[0].Channel != domain.ChannelPush || recs[1].Channel != domain.ChannelTelegram {
		t.Fatalf("order = %s,%s, want PUSH,TELEGRAM", recs[0].Channel, recs[1].Channel)
	}
	if recs[1].Error != "no chat" || recs[1].SentAt != nil {
		t.Fatalf("failed record = %+v", recs[1])
	}
	if !recs[0].OccurrenceStart.Equal(occurrence) || recs[0].ID == "" {
		t.Fatalf("sent record = %+v", recs[0])
	}

	if ttl := mr.TTL("test:" + recs[0].Key().String()); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}
}

func TestRedisUnavailable(t *testing.T) {
	t.Parallel()
	l, mr := newRedisLedger(t)
	mr.Close()
	if _, err := l.RecordAttempt(context.Background(), sentRecord("s5", domain.ChannelPush)); err == nil {
		t.Fatal("expected error with redis down")
	}
}

func TestRedisRecordsMatchesScheduleExactly(t *testing.T) {
	t.Parallel()
	l, _ := newRedisLedger(t)
	ctx := context.Background()

	ids := []string{"s1", "s1:EMAIL", "s[1]", "s*", "s?"}
	for _, id := range ids {
		if _, err := l.RecordAttempt(ctx, sentRecord(id, domain.ChannelPush)); err != nil {
			t.Fatalf("RecordAttempt(%q): %v", id, err)
		}
	}
	for _, id := range ids {
		id := id
		t.Run(id, func(t *testing.T) {
			t.Parallel()
			recs, err := l.Records(ctx, id)
			if err != nil {
				t.Fatalf("Records: %v", err)
			}
			if len(recs) != 1 || recs[0].ScheduleID != id {
				t.Fatalf("Records(%q) = %+v, want one record of %q", id, recs, id)
			}
		})
	}
}

func TestRedisRecordsRejectsUnknownChannel(t *testing.T) {
	t.Parallel()
	l, mr := newRedisLedger(t)
	if err := mr.Set("test:s6:FAX:1", `{"id":"x","schedule_id":"s6","channel":"FAX","status":"SENT"}`); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Records(context.Background(), "s6"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestEscapeGlob(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"s1":      "s1",
		"a*b":     `a\*b`,
		"q?":      `q\?`,
		"[x]":     `\[x\]`,
		`back\sl`: `back\\sl`,
	}
	for in, want := range tests {
		if got := escapeGlob(in); got != want {
			t.Errorf("escapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}
