package models

import "time"

// ConversationSummary is one inbox row: a distinct partner with the most
// recent message exchanged in either direction.
type ConversationSummary struct {
	ConversationKey string    `json:"conversation_key"`
	PartnerID       int64     `json:"partner_id"`
	PartnerUsername string    `json:"partner_username"`
	LatestMessage   string    `json:"latest_message"`
	LastActivityAt  Timestamp `json:"timestamp"`
}

// SortKey is the inbox ordering key (most recent first). Zero when the
// service reported no activity.
func (c ConversationSummary) SortKey() time.Time {
	return c.LastActivityAt.Time
}
