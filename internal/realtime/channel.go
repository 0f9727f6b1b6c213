// Package realtime is the persistent websocket channel to the chat relay.
// It authenticates with a register frame, queues sends until the server
// acknowledges registration and exposes incoming frames as a typed event
// stream.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/config"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/metrics"

	"github.com/gorilla/websocket"
)

// Maximum frame size accepted from the relay.
const maxFrameSize = 512 * 1024

// ErrOutboxFull is returned when a send cannot be queued.
var ErrOutboxFull = errors.New("outbox full")

// Config holds channel timings and queue sizes.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	OutboxSize       int
	EventBuffer      int
}

// ConfigFrom extracts the realtime section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		URL:              cfg.Realtime.URL,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		WriteWait:        cfg.Realtime.WriteWait,
		PongWait:         cfg.Realtime.PongWait,
		PingPeriod:       cfg.Realtime.PingPeriod,
		OutboxSize:       cfg.Realtime.OutboxSize,
		EventBuffer:      cfg.Realtime.EventBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 64
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return c
}

// Option customises a Channel.
type Option func(*Channel)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

type outbound struct {
	event    string
	data     []byte
	clientID string
}

// Channel is a single websocket connection to the relay. It does not
// reconnect on its own; callers open a new Channel after a disconnect.
type Channel struct {
	cfg     Config
	cred    auth.Credential
	dialer  *websocket.Dialer
	log     *logger.Logger
	metrics *metrics.Metrics

	events chan Event
	send   chan outbound
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	outbox []outbound

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open starts connecting to cfg.URL in the background and returns
// immediately. Connection failures arrive as a KindDisconnected event.
func Open(ctx context.Context, cfg Config, cred auth.Credential, opts ...Option) *Channel {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	c := &Channel{
		cfg:    cfg,
		cred:   cred,
		log:    logger.Nop(),
		events: make(chan Event, cfg.EventBuffer),
		send:   make(chan outbound, cfg.OutboxSize+1), // +1 for register
		done:   make(chan struct{}),
		cancel: cancel,
		state:  StateConnecting,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "realtime")

	c.wg.Add(1)
	go c.run(ctx)
	return c
}

// Events returns the event stream. It is closed by Close.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send transmits msg without waiting for the server. Before registration
// completes the frame is held in the outbox. An error means the frame was
// not accepted locally; server-side failures arrive as KindSendFailed.
func (c *Channel) Send(msg models.OutgoingMessage) error {
	data, err := Encode(FrameSendMessage, NewSendMessage(c.cred.Token, msg))
	if err != nil {
		return err
	}
	o := outbound{event: FrameSendMessage, data: data, clientID: msg.ClientID}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRegistered:
		select {
		case c.send <- o:
			return nil
		default:
			return apperrors.ChannelDisconnected(ErrOutboxFull)
		}
	case StateConnecting, StateConnected:
		if len(c.outbox) >= c.cfg.OutboxSize {
			return apperrors.ChannelDisconnected(ErrOutboxFull)
		}
		c.outbox = append(c.outbox, o)
		return nil
	default:
		return apperrors.ChannelDisconnected(nil)
	}
}

// Close tears the connection down. It is safe to call more than once; no
// events are delivered after it returns.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		c.outbox = nil
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			_ = conn.Close()
		}

		c.wg.Wait()
		for len(c.events) > 0 {
			<-c.events
		}
		close(c.events)
		c.log.Debug("channel closed")
	})
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.disconnect(fmt.Errorf("dial %s: %w", c.cfg.URL, err))
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.log.Info("connected", "url", c.cfg.URL)

	register, err := Encode(FrameRegister, RegisterPayload{Token: c.cred.Token})
	if err != nil {
		conn.Close()
		c.disconnect(err)
		return
	}
	c.send <- outbound{event: FrameRegister, data: register}

	connDone := make(chan struct{})
	c.wg.Add(1)
	go c.writePump(conn, connDone)

	err = c.readLoop(conn)
	close(connDone)
	conn.Close()
	c.disconnect(err)
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := Decode(raw)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.metrics.FrameReceived(frame.Event)
		c.dispatch(frame)
	}
}

func (c *Channel) dispatch(frame Frame) {
	switch frame.Event {
	case FrameRegisterSuccess:
		var ack RegisterAck
		if err := frame.DecodeData(&ack); err != nil {
			c.log.Warn("bad register ack", "error", err)
		}
		dropped := c.registered()
		c.failAll(dropped, "not delivered: "+ErrOutboxFull.Error())
		c.log.Info("registered", "user_id", ack.UserID)
		c.emit(Event{Kind: KindRegistered, UserID: ack.UserID})

	case FrameRegisterError:
		var p FailurePayload
		if err := frame.DecodeData(&p); err != nil {
			c.log.Warn("bad register error payload", "error", err)
		}
		c.log.Warn("registration rejected", "reason", p.Text())
		c.failAll(c.takeOutbox(), "not delivered: "+p.Text())
		c.emit(Event{Kind: KindRegisterFailed, Reason: p.Text()})

	case FrameMessageDelivered, FrameMessageConfirmed:
		var msg models.Message
		if err := frame.DecodeData(&msg); err != nil {
			c.log.Warn("dropping undecodable message", "event", frame.Event, "error", err)
			return
		}
		kind := KindMessageDelivered
		if frame.Event == FrameMessageConfirmed {
			kind = KindMessageConfirmed
		}
		c.emit(Event{Kind: kind, Message: msg})

	case FrameSendFailed:
		var p FailurePayload
		if err := frame.DecodeData(&p); err != nil {
			c.log.Warn("bad send_failed payload", "error", err)
		}
		c.metrics.SendFailed()
		c.emit(Event{Kind: KindSendFailed, Reason: p.Text(), ClientID: p.ClientID})

	default:
		c.log.Debug("ignoring frame", "event", frame.Event)
	}
}

// registered flushes the outbox and returns frames that did not fit.
func (c *Channel) registered() []outbound {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return nil
	}
	c.state = StateRegistered

	var dropped []outbound
	for _, o := range c.outbox {
		select {
		case c.send <- o:
		default:
			dropped = append(dropped, o)
		}
	}
	c.outbox = nil
	return dropped
}

func (c *Channel) takeOutbox() []outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outbox
	c.outbox = nil
	return out
}

func (c *Channel) failAll(frames []outbound, reason string) {
	for _, o := range frames {
		if o.event != FrameSendMessage {
			continue
		}
		c.emit(Event{Kind: KindSendFailed, Reason: reason, ClientID: o.clientID})
	}
}

func (c *Channel) disconnect(cause error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	pending := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	// frames the write pump never got to
	for drained := false; !drained; {
		select {
		case o := <-c.send:
			pending = append(pending, o)
		default:
			drained = true
		}
	}

	c.metrics.Disconnected()
	c.log.Warn("disconnected", "error", cause)
	c.failAll(pending, "not delivered: channel disconnected")
	c.emit(Event{Kind: KindDisconnected, Err: apperrors.ChannelDisconnected(cause)})
}

func (c *Channel) writePump(conn *websocket.Conn, connDone <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case o := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, o.data); err != nil {
				c.log.Warn("write failed", "event", o.event, "error", err)
				c.mu.Lock()
				c.outbox = append(c.outbox, o)
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.metrics.FrameSent(o.event)

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-connDone:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Channel) emit(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
