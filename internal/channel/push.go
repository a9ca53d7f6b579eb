package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mindful/internal/domain"
	"mindful/internal/storage"
)

const PushTitle = "Practice reminder"

// Push leaves an in-app notification for the app to display.
type Push struct {
	sink storage.NotificationSink
	now  func() time.Time
}

func NewPush(sink storage.NotificationSink) *Push {
	return &Push{sink: sink, now: time.Now}
}

func (p *Push) Channel() domain.Channel { return domain.ChannelPush }

func (p *Push) Send(ctx context.Context, user domain.User, msg Message) error {
	n := domain.InAppNotification{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		Title:            PushTitle,
		Message:          fmt.Sprintf("Your practice \"%s\" starts soon.", msg.Title),
		CreatedAt:        p.now().UTC(),
		ScheduledStartAt: msg.OccurrenceStart.UTC(),
	}
	if err := p.sink.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}
