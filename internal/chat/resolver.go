package chat

import (
	"context"

	"skill-barter/messaging/internal/history"
	"skill-barter/messaging/internal/models"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
)

// Resolver determines the counterpart of a request-scoped conversation.
type Resolver struct {
	client history.Client
	log    *logger.Logger
}

// NewResolver creates a resolver backed by client.
func NewResolver(client history.Client, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{client: client, log: log}
}

// Resolve fetches the request's history and resolves from it.
func (r *Resolver) Resolve(ctx context.Context, requestID, selfID int64) (int64, error) {
	msgs, err := r.client.FetchConversation(ctx, models.ByRequest(requestID))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.log.Warn("history unavailable for resolver", "request_id", requestID, "error", err)
		msgs = nil
	}
	return r.ResolveFrom(ctx, requestID, selfID, msgs)
}

// ResolveFrom resolves using an already fetched history. The trade request
// list is consulted only when the history names nobody.
func (r *Resolver) ResolveFrom(ctx context.Context, requestID, selfID int64, msgs []models.Message) (int64, error) {
	if id := partnerFromHistory(msgs, selfID); id != 0 {
		return id, nil
	}

	reqs, err := r.client.FetchTradeRequests(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return 0, ctx.Err()
	case err != nil:
		r.log.Warn("trade requests unavailable for resolver", "request_id", requestID, "error", err)
	default:
		for _, tr := range reqs.All() {
			if tr.ID != requestID {
				continue
			}
			if id := tr.Counterpart(selfID); id != 0 {
				return id, nil
			}
		}
	}

	return 0, apperrors.ResolverExhausted(requestID)
}

// partnerFromHistory returns the first sender other than self, else the
// receiver of the first own message.
func partnerFromHistory(msgs []models.Message, selfID int64) int64 {
	for _, m := range msgs {
		if m.SenderID != 0 && m.SenderID != selfID {
			return m.SenderID
		}
	}
	for _, m := range msgs {
		if m.SenderID == selfID && m.ReceiverID != 0 && m.ReceiverID != selfID {
			return m.ReceiverID
		}
	}
	return 0
}
