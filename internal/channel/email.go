package channel

import (
	"context"
	"strings"
	"time"

	"mindful/internal/domain"
	logx "mindful/pkg/logx"
)

// Email stands in for an SMTP sender: it logs the delivery it would make.
type Email struct {
	From string
	log  logx.Logger
}

func NewEmail(from string, log logx.Logger) *Email {
	return &Email{From: strings.TrimSpace(from), log: log.With(logx.String("comp", "channel.email"))}
}

func (e *Email) Channel() domain.Channel { return domain.ChannelEmail }

func (e *Email) Send(ctx context.Context, user domain.User, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(user.Email)
	if to == "" {
		return ErrNoAddress
	}
	e.log.Info("email reminder",
		logx.String("to", to),
		logx.String("from", e.From),
		logx.String("title", msg.Title),
		logx.String("starts_at", msg.OccurrenceStart.UTC().Format(time.RFC3339)),
	)
	return nil
}
