package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"mindful/internal/domain"
	logx "mindful/pkg/logx"
)

const defaultTelegramRate = 20

// botAPI is the part of *tele.Bot the sender uses.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends the reminder text to the user's chat. Sends share one token
// bucket so a burst of due reminders stays under the Bot API limits.
type Telegram struct {
	bot     botAPI
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(token string, ratePerSec int, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Offline skips getMe; the bot only sends and never polls for updates.
	b, err := tele.NewBot(tele.Settings{Token: strings.TrimSpace(token), Offline: true})
	if err != nil {
		return nil, err
	}
	return newTelegram(b, ratePerSec, log), nil
}

func newTelegram(bot botAPI, ratePerSec int, log logx.Logger) *Telegram {
	if ratePerSec <= 0 {
		ratePerSec = defaultTelegramRate
	}
	return &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log.With(logx.String("comp", "channel.telegram")),
	}
}

func (t *Telegram) Channel() domain.Channel { return domain.ChannelTelegram }

func (t *Telegram) Send(ctx context.Context, user domain.User, msg Message) error {
	if user.TelegramChatID == 0 {
		return ErrNoAddress
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate wait: %w", err)
	}

	// telebot has no context support; the call is abandoned, not aborted,
	// when ctx expires first.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: user.TelegramChatID}, msg.Text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		t.log.Debug("telegram reminder sent", logx.Int64("chat_id", user.TelegramChatID), logx.String("schedule_id", msg.ScheduleID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
