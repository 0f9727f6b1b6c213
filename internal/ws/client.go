package ws

import (
	"context"
	"errors"
	"strings"
	"time"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/realtime"
	"skill-barter/messaging/internal/store"
	"skill-barter/messaging/pkg/logger"

	"github.com/gorilla/websocket"
)

const reasonTradeNotAccepted = "Trade not accepted"

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger // owned by readPump

	// written by readPump under hub.mu
	userID int64
}

// enqueue hands frame to the write pump. A connection that cannot keep up
// is closed; readPump then unregisters it. Caller holds hub.mu.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.hub.log.Warn("send queue full, closing connection", "user_id", c.userID)
		c.conn.Close()
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		frame, err := realtime.Decode(raw)
		if err != nil {
			c.log.Debug("ignoring malformed frame", "error", err)
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(frame realtime.Frame) {
	switch frame.Event {
	case realtime.FrameRegister:
		c.handleRegister(frame)
	case realtime.FrameSendMessage:
		c.handleSendMessage(frame)
	default:
		c.log.Debug("unknown event", "event", frame.Event)
	}
}

func (c *Client) handleRegister(frame realtime.Frame) {
	var p realtime.RegisterPayload
	if err := frame.DecodeData(&p); err != nil || p.Token == "" {
		c.fail(realtime.FrameRegisterError, "missing token", "")
		return
	}

	userID, err := c.hub.auth.Validate(p.Token)
	if err != nil {
		c.fail(realtime.FrameRegisterError, err.Error(), "")
		return
	}
	if !c.hub.bind(c, userID) {
		return
	}
	c.log = c.log.WithUserID(userID)
	c.emit(realtime.FrameRegisterSuccess, realtime.RegisterAck{UserID: userID})
}

func (c *Client) handleSendMessage(frame realtime.Frame) {
	var p realtime.SendMessagePayload
	if err := frame.DecodeData(&p); err != nil {
		c.fail(realtime.FrameSendFailed, "invalid payload", "")
		return
	}

	senderID := c.userID
	if p.Token != "" {
		id, err := c.hub.auth.Validate(p.Token)
		if err != nil {
			c.fail(realtime.FrameSendFailed, err.Error(), p.ClientID)
			return
		}
		senderID = id
	}
	switch {
	case senderID == 0:
		c.fail(realtime.FrameSendFailed, "not registered", p.ClientID)
		return
	case p.ReceiverID == 0:
		c.fail(realtime.FrameSendFailed, "receiver_id is required", p.ClientID)
		return
	}
	body := strings.TrimSpace(p.Message)
	if body == "" {
		c.fail(realtime.FrameSendFailed, "message cannot be empty", p.ClientID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	saved, err := c.hub.store.SaveMessage(models.Message{
		SenderID:   senderID,
		ReceiverID: p.ReceiverID,
		RequestID:  p.RequestID,
		Body:       body,
		ClientID:   p.ClientID,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, store.ErrTradeNotAccepted) {
			reason = reasonTradeNotAccepted
		}
		c.hub.countSend(ctx, "rejected")
		c.fail(realtime.FrameSendFailed, reason, p.ClientID)
		return
	}
	c.hub.countSend(ctx, "stored")

	c.log.Debug("message stored", "id", saved.ID, "receiver_id", saved.ReceiverID, "conversation", saved.ConversationKey)

	if saved.ReceiverID != senderID {
		if delivered, ok := c.encode(realtime.FrameMessageDelivered, saved); ok {
			c.hub.route(ctx, saved.ReceiverID, delivered, c)
		}
	}
	if confirmed, ok := c.encode(realtime.FrameMessageConfirmed, saved); ok {
		c.hub.reply(c, confirmed)
		// the sender's other sessions learn about it as a confirmation too
		c.hub.route(ctx, senderID, confirmed, c)
	}
}

func (c *Client) fail(event, reason, clientID string) {
	p := realtime.FailurePayload{ClientID: clientID}
	if c.hub.legacy {
		p.Error = reason
	} else {
		p.Reason = reason
	}
	c.emit(event, p)
}

func (c *Client) emit(event string, payload any) {
	if frame, ok := c.encode(event, payload); ok {
		c.hub.reply(c, frame)
	}
}

func (c *Client) encode(event string, payload any) ([]byte, bool) {
	if c.hub.legacy {
		event = realtime.LegacyName(event)
	}
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		c.log.LogError(err, "failed to encode frame", "event", event)
		return nil, false
	}
	return frame, true
}
