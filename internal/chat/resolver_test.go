package chat

import (
	"context"
	"errors"
	"testing"

	"skill-barter/messaging/internal/models"
	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverUsesHistoryWithoutTradeLookup(t *testing.T) {
	h := &fakeHistory{conv: []models.Message{reqMsg(1, 9, 5, "hello", 1)}}
	r := NewResolver(h, nil)

	id, err := r.Resolve(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.Zero(t, h.tradeCallCount())
}

func TestResolverFallsBackToTradeRequests(t *testing.T) {
	h := &fakeHistory{trades: &models.TradeRequests{
		Sent:     []models.TradeRequest{{ID: 7, SenderID: 5, ReceiverID: 11}},
		Received: []models.TradeRequest{{ID: 42, SenderID: 9, ReceiverID: 5}},
	}}
	r := NewResolver(h, nil)

	id, err := r.Resolve(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, 1, h.tradeCallCount())

	id, err = r.Resolve(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestResolverUsesOwnMessageReceiver(t *testing.T) {
	h := &fakeHistory{}
	r := NewResolver(h, nil)

	id, err := r.ResolveFrom(context.Background(), 42, 5, []models.Message{reqMsg(1, 5, 9, "anyone there?", 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.Zero(t, h.tradeCallCount())
}

func TestResolverExhausted(t *testing.T) {
	h := &fakeHistory{
		convErr:  errors.New("connection refused"),
		tradeErr: errors.New("connection refused"),
	}
	_, err := NewResolver(h, nil).Resolve(context.Background(), 42, 5)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrResolverExhausted))

	h = &fakeHistory{trades: &models.TradeRequests{Sent: []models.TradeRequest{{ID: 3, SenderID: 5, ReceiverID: 9}}}}
	_, err = NewResolver(h, nil).Resolve(context.Background(), 42, 5)
	assert.Equal(t, apperrors.CodeResolverExhausted, apperrors.GetErrorCode(err))
}

func TestResolverHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &fakeHistory{convGate: make(chan struct{})}
	_, err := NewResolver(h, nil).Resolve(ctx, 42, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
