package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", EmptyMessage())

	assert.True(t, Is(err, ErrEmptyMessage))
	assert.True(t, stderrors.Is(err, ErrEmptyMessage))
	assert.False(t, Is(err, ErrNoReceiver))
	assert.False(t, Is(stderrors.New("plain"), ErrEmptyMessage))
}

func TestChannelDisconnectedKeepsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := ChannelDisconnected(cause)

	assert.Equal(t, CodeChannelDisconnected, err.Code)
	assert.Contains(t, err.Message, "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestSendRejectedDefaultsReason(t *testing.T) {
	assert.Equal(t, "Trade not accepted", SendRejected("Trade not accepted").Message)
	assert.Equal(t, ErrSendRejected.Message, SendRejected("").Message)
}

func TestUpstreamAndHelpers(t *testing.T) {
	err := Upstream(http.StatusNotFound, "GET", "/chat/7", []byte(`{"detail":"Not Found"}`))

	assert.Equal(t, CodeUpstream, GetErrorCode(err))
	assert.Equal(t, http.StatusNotFound, GetStatusCode(err))
	assert.Contains(t, GetErrorMessage(err), "GET /chat/7")

	plain := stderrors.New("oops")
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(plain))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(plain))
	assert.Equal(t, CodeInternal, FromError(plain).Code)
	assert.Nil(t, FromError(nil))
}

func TestResolverExhaustedDetails(t *testing.T) {
	err := ResolverExhausted(42)
	assert.Equal(t, map[string]int64{"request_id": 42}, err.Details)
	assert.True(t, Is(err, ErrResolverExhausted))
}
