package ws

import (
	"context"
	"encoding/json"
	"errors"

	"skill-barter/messaging/pkg/pubsub"
)

// delivery is a frame addressed to a user, relayed between hub instances.
type delivery struct {
	Origin string          `json:"origin"`
	UserID int64           `json:"user_id"`
	Frame  json.RawMessage `json:"frame"`
}

// WithBroker shares deliveries with other hubs on the same broker, so a
// user connected to another relay instance still receives them.
func WithBroker(b pubsub.Broker) Option {
	return func(h *Hub) { h.broker = b }
}

// route queues frame on the local connections of userID except skip and
// hands it to the other instances.
func (h *Hub) route(ctx context.Context, userID int64, frame []byte, skip *Client) {
	h.deliver(userID, frame, skip)

	if h.broker == nil {
		return
	}
	payload, err := json.Marshal(delivery{Origin: h.id, UserID: userID, Frame: frame})
	if err != nil {
		h.log.LogError(err, "failed to encode delivery", "user_id", userID)
		return
	}
	if err := h.broker.Publish(ctx, payload); err != nil {
		h.log.Warn("failed to publish delivery", "user_id", userID, "error", err)
	}
}

// consume delivers frames published by other instances until ctx is done.
func (h *Hub) consume(ctx context.Context) {
	err := h.broker.Subscribe(ctx, func(payload []byte) {
		var d delivery
		if err := json.Unmarshal(payload, &d); err != nil {
			h.log.Warn("dropping malformed delivery", "error", err)
			return
		}
		if d.Origin == h.id {
			return
		}
		n := h.deliver(d.UserID, d.Frame, nil)
		h.log.Debug("remote delivery", "user_id", d.UserID, "connections", n, "origin", d.Origin)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.LogError(err, "broker subscription ended")
	}
}
