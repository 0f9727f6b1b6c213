package chat

import (
	"context"
	"sort"

	"skill-barter/messaging/internal/history"
	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/pkg/logger"
)

// Aggregator builds the inbox: one summary per partner, most recent first.
type Aggregator struct {
	client history.Client
	log    *logger.Logger
}

// NewAggregator creates an aggregator backed by client.
func NewAggregator(client history.Client, log *logger.Logger) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{client: client, log: log}
}

// List returns the inbox. Failures are logged and yield an empty list.
func (a *Aggregator) List(ctx context.Context) []models.ConversationSummary {
	raw, err := a.client.FetchConversationSummaries(ctx)
	if err != nil {
		a.log.Warn("failed to fetch conversation summaries", "error", err)
		return []models.ConversationSummary{}
	}

	byPartner := make(map[int64]int, len(raw))
	out := make([]models.ConversationSummary, 0, len(raw))
	for _, s := range raw {
		if s.PartnerID == 0 {
			continue
		}
		if i, ok := byPartner[s.PartnerID]; ok {
			if s.SortKey().After(out[i].SortKey()) {
				out[i] = s
			}
			continue
		}
		byPartner[s.PartnerID] = len(out)
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortKey().After(out[j].SortKey())
	})
	return out
}
