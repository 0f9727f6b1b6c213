package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/pkg/config"
	"skill-barter/messaging/pkg/di"
	"skill-barter/messaging/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	router *Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.DevServer.JWTSecret = "router-test"
	cfg.DevServer.RateLimit = 1000
	cfg.DevServer.RateBurst = 1000

	container, err := di.New(cfg, logger.Nop(), di.Options{SeedDemo: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r, err := New(ctx, container)
	require.NoError(t, err)
	r.SetupRoutes()

	srv := httptest.NewServer(r.Engine)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, router: r}
}

func (s *testServer) token(t *testing.T, userID int64) string {
	t.Helper()
	cred, err := s.router.Container.Auth.Issue(userID)
	require.NoError(t, err)
	return cred.Token
}

func (s *testServer) call(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestLoginAndProfile(t *testing.T) {
	s := newTestServer(t)

	code, body := s.call(t, http.MethodPost, "/auth/login", "", `{"username":"bob"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var tok struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(body, &tok))
	assert.Equal(t, int64(2), tok.UserID)

	code, body = s.call(t, http.MethodGet, "/users/me", tok.AccessToken, "")
	require.Equal(t, http.StatusOK, code)
	var me models.User
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "bob", me.Username)

	code, _ = s.call(t, http.MethodPost, "/auth/login", "", `{"username":"mallory"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.call(t, http.MethodPost, "/auth/signup", "", `{"username":"dave"}`)
	assert.Equal(t, http.StatusCreated, code)
	code, _ = s.call(t, http.MethodPost, "/auth/signup", "", `{"username":"dave"}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/users/me", "/trade/requests", "/chat/conversations", "/chat/1", "/chat/user/2"} {
		code, body := s.call(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.Contains(t, string(body), `"detail"`, path)
	}
}

func TestSchemaRejectsBadIDs(t *testing.T) {
	s := newTestServer(t)
	code, body := s.call(t, http.MethodGet, "/users/abc", s.token(t, 1), "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "INVALID_REQUEST")
}

func TestTradeRequestLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice, carol := s.token(t, 1), s.token(t, 3)

	code, body := s.call(t, http.MethodGet, "/trade/requests", alice, "")
	require.Equal(t, http.StatusOK, code)
	var trades models.TradeRequests
	require.NoError(t, json.Unmarshal(body, &trades))
	require.Len(t, trades.Received, 1)
	assert.Equal(t, models.TradeStatusPending, trades.Received[0].Status)

	code, _ = s.call(t, http.MethodPut, "/trade/requests/2/accept", carol, "")
	assert.Equal(t, http.StatusNotFound, code, "only the receiver may accept")

	code, body = s.call(t, http.MethodPut, "/trade/requests/2/accept", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"accepted"}`, string(body))

	code, _ = s.call(t, http.MethodPut, "/trade/requests/2/reject", alice, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.call(t, http.MethodPost, "/trade/requests", carol, `{"receiver_id":2,"skill":"chess"}`)
	require.Equal(t, http.StatusCreated, code)
	var created models.TradeRequest
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "carol", created.Sender)
	assert.Equal(t, "bob", created.Receiver)
}

func TestChatEndpointsStartEmpty(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1)

	code, body := s.call(t, http.MethodGet, "/chat/conversations", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"conversations":[]}`, string(body))

	code, body = s.call(t, http.MethodGet, "/chat/1", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, body = s.call(t, http.MethodGet, "/chat/user/2", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	code, body := s.call(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, code)
	var h map[string]any
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h["status"])

	code, body = s.call(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, s.URL+"/chat/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
