package chat

import (
	"context"
	"testing"

	"skill-barter/messaging/internal/models"
	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestTarget() Target {
	return Target{ReceiverID: 9, RequestID: models.Int64Ptr(42)}
}

func TestSubmitBlankIsRejected(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	ch := newFakeChannel()
	p := NewPipeline(rec, ch)
	p.SetSender(5)

	for _, text := range []string{"", "  ", "\n\t"} {
		_, err := p.Submit(text, requestTarget())
		assert.True(t, apperrors.Is(err, apperrors.ErrEmptyMessage), text)
	}
	assert.Zero(t, rec.Len())
	assert.Empty(t, ch.Sent())
}

func TestSubmitWithoutReceiver(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	p := NewPipeline(rec, newFakeChannel())

	_, err := p.Submit("hi", Target{})
	assert.Equal(t, apperrors.CodeNoReceiver, apperrors.GetErrorCode(err))
	assert.Zero(t, rec.Len())
}

func TestSubmitRequestScopedMessage(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	ch := newFakeChannel()
	p := NewPipeline(rec, ch)
	p.SetSender(5)

	msg, err := p.Submit("hi", requestTarget())
	require.NoError(t, err)
	assert.Equal(t, int64(5), msg.SenderID)
	assert.Equal(t, int64(9), msg.ReceiverID)
	require.NotNil(t, msg.RequestID)
	assert.Equal(t, int64(42), *msg.RequestID)
	assert.Equal(t, "hi", msg.Body)
	assert.True(t, msg.Pending)
	assert.Zero(t, msg.ID)

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(9), sent[0].ReceiverID)
	assert.Equal(t, int64(42), *sent[0].RequestID)
	assert.Equal(t, "hi", sent[0].Body)
	assert.Equal(t, msg.ClientID, sent[0].ClientID)

	require.True(t, rec.ReconcileConfirmed(models.Message{
		ID: 100, SenderID: 5, ReceiverID: 9, RequestID: models.Int64Ptr(42), Body: "hi",
	}))
	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(100), msgs[0].ID)
	assert.False(t, msgs[0].Pending)
}

func TestSubmitTrimsBody(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	ch := newFakeChannel()
	msg, err := NewPipeline(rec, ch).Submit("  hi there \n", requestTarget())
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Body)
	assert.Equal(t, "hi there", ch.Sent()[0].Body)
}

func TestSubmitRateLimited(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	p := NewPipeline(rec, newFakeChannel(), WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		_, err := p.Submit("hi", requestTarget())
		require.NoError(t, err)
	}
	_, err := p.Submit("hi", requestTarget())
	assert.Equal(t, apperrors.CodeRateLimited, apperrors.GetErrorCode(err))
	assert.Equal(t, 2, rec.Len())
}

func TestSubmitOnRefusingChannelFlagsEntry(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	ch := newFakeChannel()
	ch.sendErr = apperrors.ChannelDisconnected(nil)
	p := NewPipeline(rec, ch)

	msg, err := p.Submit("hi", requestTarget())
	require.Error(t, err)
	assert.NotEmpty(t, msg.LocalID)
	assert.True(t, msg.Failed)
	assert.Equal(t, 1, rec.Len())

	p.SetChannel(nil)
	_, err = p.Submit("again", requestTarget())
	assert.True(t, apperrors.Is(err, apperrors.ErrChannelDisconnected))
}

func TestRetryReplacesFailedEntry(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	ch := newFakeChannel()
	p := NewPipeline(rec, ch)

	first, err := p.Submit("hi", requestTarget())
	require.NoError(t, err)
	_, ok := rec.MarkFailed("Trade not accepted", first.ClientID)
	require.True(t, ok)

	again, err := p.Retry(first.LocalID, requestTarget())
	require.NoError(t, err)
	assert.NotEqual(t, first.LocalID, again.LocalID)
	assert.NotEqual(t, first.ClientID, again.ClientID)
	assert.Equal(t, 1, rec.Len())
	assert.Len(t, ch.Sent(), 2)

	_, err = p.Retry("missing", requestTarget())
	assert.Error(t, err)

	_, err = p.Retry(again.LocalID, Target{})
	assert.Equal(t, apperrors.CodeNoReceiver, apperrors.GetErrorCode(err))
	assert.Equal(t, 1, rec.Len(), "entry kept when retry is refused")
}

type submitFunc func(ctx context.Context, text string) (models.Message, error)

func (f submitFunc) Send(ctx context.Context, text string) (models.Message, error) {
	return f(ctx, text)
}

func TestDraftClearsOnLocalAppend(t *testing.T) {
	rec := NewReconciler(models.ByRequest(42))
	ch := newFakeChannel()
	p := NewPipeline(rec, ch)
	submit := submitFunc(func(_ context.Context, text string) (models.Message, error) {
		return p.Submit(text, requestTarget())
	})

	var d Draft
	d.Set("   ")
	_, err := d.Submit(context.Background(), submit)
	assert.Error(t, err)
	assert.Equal(t, "   ", d.Text())

	d.Set("hi")
	_, err = d.Submit(context.Background(), submit)
	require.NoError(t, err)
	assert.Empty(t, d.Text())

	ch.sendErr = apperrors.ChannelDisconnected(nil)
	d.Set("offline")
	_, err = d.Submit(context.Background(), submit)
	assert.Error(t, err)
	assert.Empty(t, d.Text(), "optimistic entry exists, so the buffer is cleared")
}
