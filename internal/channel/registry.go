package channel

import (
	"fmt"

	"mindful/internal/domain"
	"mindful/internal/storage"
	logx "mindful/pkg/logx"
)

// Config selects the enabled senders.
type Config struct {
	Email     bool
	EmailFrom string

	Push bool

	Telegram      bool
	TelegramToken string
	TelegramRate  int
}

// Build returns the enabled senders in delivery order: email, push, telegram.
func Build(cfg Config, sink storage.NotificationSink, log logx.Logger) ([]Sender, error) {
	var out []Sender
	if cfg.Email {
		out = append(out, NewEmail(cfg.EmailFrom, log))
	}
	if cfg.Push {
		if sink == nil {
			return nil, fmt.Errorf("push channel: notification sink is required")
		}
		out = append(out, NewPush(sink))
	}
	if cfg.Telegram {
		tg, err := NewTelegram(cfg.TelegramToken, cfg.TelegramRate, log)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		out = append(out, tg)
	}
	return out, nil
}

// Channels lists the channels of senders in order.
func Channels(senders []Sender) []domain.Channel {
	out := make([]domain.Channel, 0, len(senders))
	for _, s := range senders {
		out = append(out, s.Channel())
	}
	return out
}
