// Package ws is the server side of the realtime channel: it authenticates
// connections, persists send_message frames and fans the result out to
// sender and receiver.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/pubsub"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Validate(token string) (int64, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	SaveMessage(msg models.Message) (models.Message, error)
}

// Option customises a Hub.
type Option func(*Hub)

// WithLegacyEvents makes the hub speak the older event names
// (receive_message, message_sent, message_error) with the failure text
// under "error".
func WithLegacyEvents(on bool) Option {
	return func(h *Hub) { h.legacy = on }
}

// WithLogger sets the hub logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// Hub tracks live connections and the user each one registered as.
type Hub struct {
	id     string
	auth   Authenticator
	store  MessageStore
	log    *logger.Logger
	legacy bool
	broker pubsub.Broker
	sends  metric.Int64Counter

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
	users   map[int64]map[*Client]bool
}

// NewHub creates a hub. Call Run to start it.
func NewHub(auth Authenticator, store MessageStore, opts ...Option) *Hub {
	h := &Hub{
		id:         uuid.NewString(),
		auth:       auth,
		store:      store,
		log:        logger.Nop(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		users:      make(map[int64]map[*Client]bool),
	}
	for _, opt := range opts {
		opt(h)
	}

	sends, err := otel.Meter("skill-barter/messaging/ws").Int64Counter("relay.send_message",
		metric.WithDescription("send_message frames handled, by outcome"))
	if err != nil {
		h.log.LogError(err, "failed to create send counter")
	}
	h.sends = sends
	return h
}

// countSend records the outcome of a send_message frame.
func (h *Hub) countSend(ctx context.Context, outcome string) {
	if h.sends != nil {
		h.sends.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// Run serves register and unregister requests until ctx is cancelled,
// then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	if h.broker != nil {
		go h.consume(ctx)
	}

	defer func() {
		h.mu.Lock()
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("connection opened", "remote", client.conn.RemoteAddr().String())

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
				h.log.Debug("connection closed", "user_id", client.userID)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			return
		}
	}
}

// drop forgets client and closes its send queue. Caller holds mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	if conns := h.users[client.userID]; conns != nil {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.userID)
		}
	}
	close(client.send)
}

// bind records that client registered as userID.
func (h *Hub) bind(client *Client, userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return false
	}
	if prev := h.users[client.userID]; prev != nil && client.userID != userID {
		delete(prev, client)
	}
	client.userID = userID
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Client]bool)
	}
	h.users[userID][client] = true
	return true
}

// deliver queues frame on every connection of userID except skip.
func (h *Hub) deliver(userID int64, frame []byte, skip *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for client := range h.users[userID] {
		if client == skip {
			continue
		}
		if client.enqueue(frame) {
			n++
		}
	}
	return n
}

// reply queues frame on a single connection.
func (h *Hub) reply(client *Client, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[client] {
		client.enqueue(frame)
	}
}

// ActiveConnections returns the number of open connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Online reports whether userID has at least one registered connection.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ServeWs upgrades the request and attaches the connection to the hub.
func ServeWs(hub *Hub, c *gin.Context) {
	log := logger.FromContext(c, hub.log)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  log,
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
