package models

import "strconv"

// Scope is the conversation scoping key: either a trade request or a
// direct partner. Exactly one of the two fields is non-zero.
type Scope struct {
	RequestID int64
	PartnerID int64
}

// ByRequest scopes a conversation to a trade negotiation.
func ByRequest(requestID int64) Scope {
	return Scope{RequestID: requestID}
}

// WithPartner scopes a direct conversation to a user.
func WithPartner(partnerID int64) Scope {
	return Scope{PartnerID: partnerID}
}

// IsRequest reports whether the scope is request-based.
func (s Scope) IsRequest() bool {
	return s.RequestID != 0
}

// Valid reports whether exactly one key is set.
func (s Scope) Valid() bool {
	return (s.RequestID != 0) != (s.PartnerID != 0)
}

// Matches reports whether msg belongs to this conversation: the shared
// request id for request scopes, either endpoint for direct scopes.
func (s Scope) Matches(msg Message) bool {
	if s.IsRequest() {
		return msg.RequestID != nil && *msg.RequestID == s.RequestID
	}
	return s.PartnerID != 0 && (msg.SenderID == s.PartnerID || msg.ReceiverID == s.PartnerID)
}

// String renders the scope for logs.
func (s Scope) String() string {
	if s.IsRequest() {
		return "request:" + strconv.FormatInt(s.RequestID, 10)
	}
	return "user:" + strconv.FormatInt(s.PartnerID, 10)
}
