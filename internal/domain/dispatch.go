package domain

import (
	"fmt"
	"strings"
	"time"
)

// User is the recipient of reminders. Only delivery addresses are carried.
type User struct {
	ID             string
	DisplayName    string
	Email          string
	TelegramChatID int64
}

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelPush     Channel = "PUSH"
	ChannelTelegram Channel = "TELEGRAM"
)

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToUpper(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelPush, ChannelTelegram:
		return c, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

type DispatchStatus string

const (
	StatusSent   DispatchStatus = "SENT"
	StatusFailed DispatchStatus = "FAILED"
)

// DispatchKey identifies one reminder delivery: a schedule, a channel and the
// start instant of the occurrence (not the due instant).
type DispatchKey struct {
	ScheduleID      string
	Channel         Channel
	OccurrenceStart time.Time
}

func (k DispatchKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.ScheduleID, k.Channel, k.OccurrenceStart.UnixMilli())
}

// DispatchRecord is one attempted delivery. It is written once and never updated.
type DispatchRecord struct {
	ID              string
	UserID          string
	ScheduleID      string
	OccurrenceStart time.Time
	Channel         Channel
	Status          DispatchStatus
	SentAt          *time.Time // SENT only
	Error           string     // FAILED only
}

func (r DispatchRecord) Key() DispatchKey {
	return DispatchKey{ScheduleID: r.ScheduleID, Channel: r.Channel, OccurrenceStart: r.OccurrenceStart}
}

// InAppNotification is what the push channel leaves for the app to display.
type InAppNotification struct {
	ID               string
	UserID           string
	Title            string
	Message          string
	CreatedAt        time.Time
	ScheduledStartAt time.Time
	Read             bool
}
