package models

// User is the subset of a profile the messaging core needs.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// TradeRequest is a skill-exchange negotiation between two users.
type TradeRequest struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Skill      string `json:"skill,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Receiver   string `json:"receiver,omitempty"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
}

// Counterpart returns the participant that is not self, or 0 when self
// is not a participant.
func (r TradeRequest) Counterpart(self int64) int64 {
	switch self {
	case r.SenderID:
		return r.ReceiverID
	case r.ReceiverID:
		return r.SenderID
	default:
		return 0
	}
}

// TradeRequests is the current user's requests split by direction.
type TradeRequests struct {
	Sent     []TradeRequest `json:"sent"`
	Received []TradeRequest `json:"received"`
}

// All returns sent followed by received.
func (t TradeRequests) All() []TradeRequest {
	out := make([]TradeRequest, 0, len(t.Sent)+len(t.Received))
	out = append(out, t.Sent...)
	return append(out, t.Received...)
}

// Trade request states.
const (
	TradeStatusPending  = "pending"
	TradeStatusAccepted = "accepted"
	TradeStatusRejected = "rejected"
)
