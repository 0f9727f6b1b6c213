package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/realtime"
	"skill-barter/messaging/internal/store"
	"skill-barter/messaging/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	url   string
	hub   *Hub
	auth  *auth.Service
	store *store.Store
}

func startHub(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.New()
	require.NoError(t, s.SeedDemo())
	svc := auth.NewService("test-secret", time.Hour)
	hub := NewHub(svc, s, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &fixture{
		url:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:   hub,
		auth:  svc,
		store: s,
	}
}

func (f *fixture) token(t *testing.T, userID int64) string {
	t.Helper()
	cred, err := f.auth.Issue(userID)
	require.NoError(t, err)
	return cred.Token
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// login dials and registers as userID.
func (f *fixture) login(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	conn := f.dial(t)
	write(t, conn, realtime.FrameRegister, realtime.RegisterPayload{Token: f.token(t, userID)})
	ack := read(t, conn)
	require.Equal(t, realtime.FrameRegisterSuccess, ack.Event)
	return conn
}

func write(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := realtime.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// read returns the raw envelope without normalizing event names.
func read(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f realtime.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestRegister(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)

	write(t, conn, realtime.FrameRegister, realtime.RegisterPayload{Token: "garbage"})
	nack := read(t, conn)
	assert.Equal(t, realtime.FrameRegisterError, nack.Event)
	var fail realtime.FailurePayload
	require.NoError(t, nack.DecodeData(&fail))
	assert.Equal(t, auth.ErrInvalidToken.Error(), fail.Reason)

	write(t, conn, realtime.FrameRegister, realtime.RegisterPayload{Token: f.token(t, 1)})
	ack := read(t, conn)
	assert.Equal(t, realtime.FrameRegisterSuccess, ack.Event)
	var body realtime.RegisterAck
	require.NoError(t, ack.DecodeData(&body))
	assert.Equal(t, int64(1), body.UserID)

	assert.True(t, f.hub.Online(1))
	assert.Equal(t, 1, f.hub.ActiveConnections())
}

func TestSendMessageIsConfirmedAndDelivered(t *testing.T) {
	f := startHub(t)
	alice := f.login(t, 1)
	bob := f.login(t, 2)

	write(t, alice, realtime.FrameSendMessage, realtime.SendMessagePayload{
		Token: f.token(t, 1), ReceiverID: 2, RequestID: models.Int64Ptr(1), Message: "  lesson at 5?  ", ClientID: "c-1",
	})

	confirmed := read(t, alice)
	require.Equal(t, realtime.FrameMessageConfirmed, confirmed.Event)
	var mine models.Message
	require.NoError(t, confirmed.DecodeData(&mine))
	assert.Equal(t, int64(1), mine.ID)
	assert.Equal(t, "lesson at 5?", mine.Body)
	assert.Equal(t, "c-1", mine.ClientID)
	assert.Equal(t, "1_2", mine.ConversationKey)

	delivered := read(t, bob)
	require.Equal(t, realtime.FrameMessageDelivered, delivered.Event)
	var theirs models.Message
	require.NoError(t, delivered.DecodeData(&theirs))
	assert.Equal(t, mine.ID, theirs.ID)
	assert.Equal(t, int64(1), theirs.SenderID)

	assert.Len(t, f.store.RequestHistory(1), 1)
}

func TestSendMessageReachesSendersOtherSessions(t *testing.T) {
	f := startHub(t)
	tab1 := f.login(t, 1)
	tab2 := f.login(t, 1)

	write(t, tab1, realtime.FrameSendMessage, realtime.SendMessagePayload{ReceiverID: 3, Message: "hi carol"})
	assert.Equal(t, realtime.FrameMessageConfirmed, read(t, tab1).Event)
	assert.Equal(t, realtime.FrameMessageConfirmed, read(t, tab2).Event)
}

func TestSendMessageRejections(t *testing.T) {
	f := startHub(t)
	carol := f.login(t, 3)

	cases := []struct {
		payload realtime.SendMessagePayload
		reason  string
	}{
		{realtime.SendMessagePayload{ReceiverID: 1, RequestID: models.Int64Ptr(2), Message: "hola", ClientID: "c-9"}, "Trade not accepted"},
		{realtime.SendMessagePayload{ReceiverID: 0, Message: "to nobody", ClientID: "c-8"}, "receiver_id is required"},
		{realtime.SendMessagePayload{ReceiverID: 1, Message: "   ", ClientID: "c-7"}, "message cannot be empty"},
		{realtime.SendMessagePayload{Token: "bad", ReceiverID: 1, Message: "x", ClientID: "c-6"}, auth.ErrInvalidToken.Error()},
	}
	for _, tc := range cases {
		write(t, carol, realtime.FrameSendMessage, tc.payload)
		got := read(t, carol)
		require.Equal(t, realtime.FrameSendFailed, got.Event, tc.reason)
		var fail realtime.FailurePayload
		require.NoError(t, got.DecodeData(&fail))
		assert.Equal(t, tc.reason, fail.Text())
		assert.Equal(t, tc.payload.ClientID, fail.ClientID)
	}
}

func TestSendWithoutRegistrationNeedsToken(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t)

	write(t, conn, realtime.FrameSendMessage, realtime.SendMessagePayload{ReceiverID: 2, Message: "hi"})
	assert.Equal(t, realtime.FrameSendFailed, read(t, conn).Event)

	write(t, conn, realtime.FrameSendMessage, realtime.SendMessagePayload{Token: f.token(t, 1), ReceiverID: 2, Message: "hi"})
	assert.Equal(t, realtime.FrameMessageConfirmed, read(t, conn).Event)
}

func TestLegacyEventNames(t *testing.T) {
	f := startHub(t, WithLegacyEvents(true))
	alice := f.login(t, 1)
	bob := f.login(t, 2)

	write(t, alice, realtime.FrameSendMessage, realtime.SendMessagePayload{ReceiverID: 2, Message: "hey"})
	assert.Equal(t, "message_sent", read(t, alice).Event)
	assert.Equal(t, "receive_message", read(t, bob).Event)

	write(t, alice, realtime.FrameSendMessage, realtime.SendMessagePayload{ReceiverID: 3, RequestID: models.Int64Ptr(2), Message: "x"})
	nack := read(t, alice)
	assert.Equal(t, "message_error", nack.Event)
	var fail realtime.FailurePayload
	require.NoError(t, nack.DecodeData(&fail))
	assert.Equal(t, "Trade not accepted", fail.Error)
	assert.Empty(t, fail.Reason)
}

func TestDisconnectUnregisters(t *testing.T) {
	f := startHub(t)
	conn := f.login(t, 2)
	require.True(t, f.hub.Online(2))

	conn.Close()
	assert.Eventually(t, func() bool { return !f.hub.Online(2) && f.hub.ActiveConnections() == 0 },
		2*time.Second, 10*time.Millisecond)
}
