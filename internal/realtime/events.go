package realtime

import "skill-barter/messaging/internal/models"

// Kind is the type of an Event delivered to channel subscribers.
type Kind string

const (
	KindRegistered       Kind = "registered"
	KindRegisterFailed   Kind = "register_failed"
	KindMessageDelivered Kind = "message_delivered"
	KindMessageConfirmed Kind = "message_confirmed"
	KindSendFailed       Kind = "send_failed"
	KindDisconnected     Kind = "disconnected"
)

// Event is one item of the channel's typed event stream.
type Event struct {
	Kind Kind
	// Message is set for KindMessageDelivered and KindMessageConfirmed.
	Message models.Message
	// Reason is set for KindSendFailed and KindRegisterFailed.
	Reason string
	// ClientID echoes the correlation id of a failed send, when the
	// server provides it.
	ClientID string
	// UserID is the id acknowledged by register_success, if any.
	UserID int64
	// Err is set for KindDisconnected.
	Err error
}

// State is the lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateRegistered
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
