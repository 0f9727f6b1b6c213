package chat

import (
	"context"

	"skill-barter/messaging/internal/models"
)

// Submitter accepts text for sending. *Conversation implements it.
type Submitter interface {
	Send(ctx context.Context, text string) (models.Message, error)
}

// Draft is the input buffer of a chat view.
type Draft struct {
	text string
}

// Set replaces the buffer contents.
func (d *Draft) Set(text string) {
	d.text = text
}

// Text returns the buffer contents.
func (d *Draft) Text() string {
	return d.text
}

// Submit sends the buffer through s. The buffer is cleared as soon as the
// message is appended locally, whatever the network outcome.
func (d *Draft) Submit(ctx context.Context, s Submitter) (models.Message, error) {
	msg, err := s.Send(ctx, d.text)
	if msg.LocalID != "" {
		d.text = ""
	}
	return msg, err
}
