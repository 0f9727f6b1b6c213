package realtime

import (
	"encoding/json"
	"fmt"

	"skill-barter/messaging/internal/models"
)

// Wire event names. Every frame is a JSON envelope {"event", "data"}.
const (
	FrameRegister         = "register"
	FrameRegisterSuccess  = "register_success"
	FrameRegisterError    = "register_error"
	FrameSendMessage      = "send_message"
	FrameMessageDelivered = "message_delivered"
	FrameMessageConfirmed = "message_confirmed"
	FrameSendFailed       = "send_failed"
)

// legacyNames maps the event names of the older socket.io deployment
// onto the current protocol.
var legacyNames = map[string]string{
	"receive_message": FrameMessageDelivered,
	"message_sent":    FrameMessageConfirmed,
	"message_error":   FrameSendFailed,
}

// LegacyName returns the older name of a server event, or event itself
// when it was never renamed.
func LegacyName(event string) string {
	for old, current := range legacyNames {
		if current == event {
			return old
		}
	}
	return event
}

// Frame is the envelope exchanged over the websocket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload authenticates the connection.
type RegisterPayload struct {
	Token string `json:"token"`
}

// RegisterAck is the register_success payload.
type RegisterAck struct {
	UserID int64 `json:"user_id,omitempty"`
}

// SendMessagePayload is the send_message payload.
type SendMessagePayload struct {
	Token      string `json:"token"`
	ReceiverID int64  `json:"receiver_id"`
	RequestID  *int64 `json:"request_id"`
	Message    string `json:"message"`
	ClientID   string `json:"client_id,omitempty"`
}

// FailurePayload is the send_failed and register_error payload. Older
// servers put the text under "error".
type FailurePayload struct {
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Text returns whichever reason field is set.
func (p FailurePayload) Text() string {
	if p.Reason != "" {
		return p.Reason
	}
	return p.Error
}

// Encode builds a frame for event with payload marshalled as data.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Decode parses a frame and normalizes legacy event names.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event")
	}
	if name, ok := legacyNames[f.Event]; ok {
		f.Event = name
	}
	return f, nil
}

// DecodeData unmarshals the frame payload into out. An absent payload
// leaves out untouched.
func (f Frame) DecodeData(out any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}

// NewSendMessage converts an outgoing message into its wire payload.
func NewSendMessage(token string, msg models.OutgoingMessage) SendMessagePayload {
	return SendMessagePayload{
		Token:      token,
		ReceiverID: msg.ReceiverID,
		RequestID:  msg.RequestID,
		Message:    msg.Body,
		ClientID:   msg.ClientID,
	}
}
