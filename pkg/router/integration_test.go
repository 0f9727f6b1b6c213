package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"skill-barter/messaging/internal/chat"
	"skill-barter/messaging/internal/history"
	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/realtime"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/config"
	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openAs opens a conversation against the test relay for userID.
func (s *testServer) openAs(t *testing.T, userID int64, scope models.Scope) *chat.Conversation {
	t.Helper()

	cfg := config.Load()
	cfg.API.BaseURL = s.URL
	cfg.Realtime.URL = "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	cfg.Cache.Enabled = false
	cfg.Send.RatePerSecond = 0

	cred := auth.NewCredential(s.token(t, userID))
	hc := history.NewHTTPClient(cfg, cred)
	t.Cleanup(hc.Close)

	conv, err := chat.Open(context.Background(), chat.Deps{
		Credential: cred,
		History:    hc,
		Open:       chat.RealtimeOpener(realtime.ConfigFrom(cfg)),
		Config:     cfg,
	}, scope)
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close() })
	return conv
}

// waitFor consumes updates until ok returns true.
func waitFor(t *testing.T, conv *chat.Conversation, what string, ok func(chat.Update) bool) chat.Update {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, open := <-conv.Updates():
			require.True(t, open, "updates closed while waiting for %s", what)
			if ok(u) {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (s *testServer) waitOnline(t *testing.T, userID int64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.router.Hub.Online(userID) },
		5*time.Second, 10*time.Millisecond, "user %d never registered", userID)
}

func TestTradeConversationEndToEnd(t *testing.T) {
	s := newTestServer(t)

	bob := s.openAs(t, 2, models.ByRequest(1))
	alice := s.openAs(t, 1, models.ByRequest(1))
	s.waitOnline(t, 1)
	s.waitOnline(t, 2)

	waitFor(t, alice, "receiver resolution", func(u chat.Update) bool {
		return u.Target.Ready()
	})
	assert.Equal(t, int64(2), alice.Target().ReceiverID)

	sent, err := alice.Send(context.Background(), "  when works for a lesson?  ")
	require.NoError(t, err)
	assert.True(t, sent.Pending)

	u := waitFor(t, alice, "confirmation", func(u chat.Update) bool {
		return len(u.Messages) == 1 && u.Messages[0].Confirmed()
	})
	confirmed := u.Messages[0]
	assert.Equal(t, "when works for a lesson?", confirmed.Body)
	assert.Equal(t, "1_2", confirmed.ConversationKey)
	require.True(t, confirmed.HasRequest())
	assert.Equal(t, int64(1), *confirmed.RequestID)

	u = waitFor(t, bob, "delivery", func(u chat.Update) bool {
		return len(u.Messages) == 1
	})
	assert.Equal(t, confirmed.ID, u.Messages[0].ID)
	assert.Equal(t, int64(1), u.Messages[0].SenderID)

	// a second session of alice is seeded from history
	replay := s.openAs(t, 1, models.ByRequest(1))
	u = waitFor(t, replay, "seeded history", func(u chat.Update) bool {
		return len(u.Messages) == 1
	})
	assert.Equal(t, confirmed.ID, u.Messages[0].ID)
}

func TestSendOnPendingTradeIsRejected(t *testing.T) {
	s := newTestServer(t)

	alice := s.openAs(t, 1, models.ByRequest(2))
	s.waitOnline(t, 1)
	waitFor(t, alice, "receiver resolution", func(u chat.Update) bool {
		return u.Target.Ready()
	})
	assert.Equal(t, int64(3), alice.Target().ReceiverID)

	_, err := alice.Send(context.Background(), "hola")
	require.NoError(t, err)

	u := waitFor(t, alice, "rejection", func(u chat.Update) bool {
		return u.Notice != nil
	})
	assert.Equal(t, apperrors.CodeSendRejected, u.Notice.Code)
	assert.Equal(t, "Trade not accepted", u.Notice.Message)

	msgs := alice.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.Equal(t, "Trade not accepted", msgs[0].FailReason)

	code, body := s.call(t, "GET", "/metrics", "", "")
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), "relay_send_message")
	assert.Contains(t, string(body), `outcome="rejected"`)
}

func TestDirectConversationEndToEnd(t *testing.T) {
	s := newTestServer(t)

	carol := s.openAs(t, 3, models.WithPartner(2))
	bob := s.openAs(t, 2, models.WithPartner(3))
	s.waitOnline(t, 2)
	s.waitOnline(t, 3)

	_, err := carol.Send(context.Background(), "fancy a chess game?")
	require.NoError(t, err)

	u := waitFor(t, bob, "direct delivery", func(u chat.Update) bool {
		return len(u.Messages) == 1
	})
	assert.False(t, u.Messages[0].HasRequest())
	assert.Equal(t, "2_3", u.Messages[0].ConversationKey)

	code, body := s.call(t, "GET", "/chat/conversations", s.token(t, 2), "")
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), "fancy a chess game?")
}
