package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/config"
	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, setup func(r *gin.Engine)) (*httptest.Server, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer tok" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
			return
		}
		c.Next()
	})
	setup(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	cfg := config.Load()
	cfg.API.BaseURL = srv.URL
	cfg.API.Timeout = 2 * time.Second
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.RetryTimeout = time.Minute
	return srv, cfg
}

func TestFetchConversationRoutesByScope(t *testing.T) {
	_, cfg := newTestServer(t, func(r *gin.Engine) {
		r.GET("/chat/:id", func(c *gin.Context) {
			c.JSON(http.StatusOK, []gin.H{
				{"id": 1, "sender_id": 9, "receiver_id": 5, "message": "hello", "timestamp": "2024-05-01T10:00:00"},
			})
		})
		r.GET("/chat/user/:id", func(c *gin.Context) {
			c.Data(http.StatusOK, "application/json", []byte("null"))
		})
	})

	client := NewHTTPClient(cfg, auth.NewCredential("tok"))
	defer client.Close()

	msgs, err := client.FetchConversation(context.Background(), models.ByRequest(42))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, int64(9), msgs[0].SenderID)

	direct, err := client.FetchConversation(context.Background(), models.WithPartner(9))
	require.NoError(t, err)
	assert.NotNil(t, direct)
	assert.Empty(t, direct)

	_, err = client.FetchConversation(context.Background(), models.Scope{})
	assert.Error(t, err)
}

func TestFetchConversationSummariesNormalizesMissingCollection(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTestServer(t, func(r *gin.Engine) {
		r.GET("/chat/conversations", func(c *gin.Context) {
			if calls.Add(1) == 1 {
				c.JSON(http.StatusOK, gin.H{})
				return
			}
			c.JSON(http.StatusOK, gin.H{"conversations": []gin.H{
				{"conversation_key": "5_9", "partner_id": 9, "partner_username": "bob",
					"latest_message": "see you", "timestamp": "2024-05-01T10:00:00"},
			}})
		})
	})

	client := NewHTTPClient(cfg, auth.NewCredential("tok"))
	defer client.Close()

	empty, err := client.FetchConversationSummaries(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	list, err := client.FetchConversationSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].PartnerUsername)
	assert.False(t, list[0].SortKey().IsZero())
}

func TestFetchCurrentUserIsCached(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTestServer(t, func(r *gin.Engine) {
		r.GET("/users/me", func(c *gin.Context) {
			calls.Add(1)
			c.JSON(http.StatusOK, gin.H{"id": 5, "username": "alice"})
		})
	})

	client := NewHTTPClient(cfg, auth.NewCredential("tok"))
	defer client.Close()

	for i := 0; i < 3; i++ {
		me, err := client.FetchCurrentUser(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(5), me.ID)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpstreamErrorsAndBreaker(t *testing.T) {
	var calls atomic.Int32
	_, cfg := newTestServer(t, func(r *gin.Engine) {
		r.GET("/trade/requests", func(c *gin.Context) {
			calls.Add(1)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "db down"})
		})
	})

	client := NewHTTPClient(cfg, auth.NewCredential("tok"))
	defer client.Close()

	for i := 0; i < 3; i++ {
		_, err := client.FetchTradeRequests(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeUpstream, apperrors.GetErrorCode(err))
		assert.Contains(t, err.Error(), "db down")
	}

	_, err := client.FetchTradeRequests(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCircuitOpen))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCredentialIsSentOnEveryRequest(t *testing.T) {
	_, cfg := newTestServer(t, func(r *gin.Engine) {
		r.GET("/trade/requests", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"sent": []gin.H{}, "received": []gin.H{{"id": 42, "sender_id": 9, "receiver_id": 5}}})
		})
	})

	_, err := NewHTTPClient(cfg, auth.NewCredential("wrong")).FetchTradeRequests(context.Background())
	assert.Equal(t, http.StatusUnauthorized, apperrors.GetStatusCode(err))

	reqs, err := NewHTTPClient(cfg, auth.NewCredential("tok")).FetchTradeRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs.Received, 1)
	assert.Equal(t, int64(9), reqs.Received[0].Counterpart(5))
}
