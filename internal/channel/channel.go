// Package channel delivers rendered reminders to users.
//
// A Sender returns nil on success and an error describing the failure
// otherwise. Senders must honor ctx: the poller bounds every call with a
// timeout and records an expired call as failed.
package channel

import (
	"context"
	"errors"
	"time"

	"mindful/internal/domain"
)

// ErrNoAddress means the user has no address for this channel.
var ErrNoAddress = errors.New("user has no address for channel")

// Message is one rendered reminder.
type Message struct {
	Text            string
	Title           string
	ScheduleID      string
	OccurrenceStart time.Time
}

type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, user domain.User, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc struct {
	Ch domain.Channel
	Fn func(ctx context.Context, user domain.User, msg Message) error
}

func (f SenderFunc) Channel() domain.Channel { return f.Ch }

func (f SenderFunc) Send(ctx context.Context, user domain.User, msg Message) error {
	return f.Fn(ctx, user, msg)
}
