package models

import (
	"fmt"
	"strings"
)

// Message is one chat message as seen by the client. Server-confirmed
// entries carry an ID; local optimistic entries carry a LocalID and stay
// Pending until reconciled.
type Message struct {
	ID              int64     `json:"id,omitempty"`
	SenderID        int64     `json:"sender_id"`
	ReceiverID      int64     `json:"receiver_id"`
	RequestID       *int64    `json:"request_id"`
	Body            string    `json:"message"`
	SentAt          Timestamp `json:"timestamp"`
	ConversationKey string    `json:"conversation_key,omitempty"`
	ClientID        string    `json:"client_id,omitempty"`

	LocalID    string `json:"-"`
	Pending    bool   `json:"-"`
	Failed     bool   `json:"-"`
	FailReason string `json:"-"`
}

// Confirmed reports whether the server has acknowledged the message.
func (m Message) Confirmed() bool {
	return !m.Pending
}

// HasRequest reports whether the message belongs to a trade negotiation.
func (m Message) HasRequest() bool {
	return m.RequestID != nil && *m.RequestID != 0
}

// Key returns a stable display key: the server id once known, the local id before.
func (m Message) Key() string {
	if m.ID != 0 {
		return fmt.Sprintf("msg-%d", m.ID)
	}
	return "local-" + m.LocalID
}

// OutgoingMessage is what the send pipeline hands to the realtime channel.
type OutgoingMessage struct {
	ReceiverID int64
	RequestID  *int64
	Body       string
	ClientID   string
}

// ConversationKey is the order-independent pair key the server files a
// direct conversation under.
func ConversationKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

// NormalizeBody trims surrounding whitespace from user input.
func NormalizeBody(raw string) string {
	return strings.TrimSpace(raw)
}

// Int64Ptr is a small helper for optional ids.
func Int64Ptr(v int64) *int64 {
	return &v
}
