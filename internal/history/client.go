// Package history is the client for the REST data service: past messages,
// inbox summaries, trade requests and user profiles.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/cache"
	"skill-barter/messaging/pkg/config"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/metrics"
	"skill-barter/messaging/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client is the consumed surface of the history service.
type Client interface {
	// FetchConversation returns a conversation's messages, oldest first.
	FetchConversation(ctx context.Context, scope models.Scope) ([]models.Message, error)
	FetchConversationSummaries(ctx context.Context) ([]models.ConversationSummary, error)
	FetchTradeRequests(ctx context.Context) (*models.TradeRequests, error)
	FetchCurrentUser(ctx context.Context) (*models.User, error)
	FetchUser(ctx context.Context, id int64) (*models.User, error)
}

const meKey int64 = 0

// HTTPClient implements Client over HTTP with a bearer credential.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	cred    auth.Credential
	breaker *resilience.CircuitBreaker
	users   *cache.Cache[int64, models.User]
	log     *logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *HTTPClient) { h.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *HTTPClient) { h.metrics = m }
}

// NewHTTPClient builds a client for cfg.API.BaseURL. The credential is
// attached to every request.
func NewHTTPClient(cfg *config.Config, cred auth.Credential, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL: cfg.API.BaseURL,
		http:    &http.Client{Timeout: cfg.API.Timeout},
		cred:    cred,
		log:     logger.Nop(),
		tracer:  otel.Tracer("skill-barter/messaging/history"),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.breaker = resilience.NewCircuitBreaker(resilience.Config{
		Name:             "history",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		RetryTimeout:     cfg.Breaker.RetryTimeout,
	}, h.log)
	h.breaker.OnStateChange = func(name string, to resilience.State) {
		h.metrics.Breaker(name, to != resilience.StateClosed)
	}

	if cfg.Cache.Enabled {
		h.users = cache.New[int64, models.User](cache.Options{
			TTL:             cfg.Cache.TTL,
			MaxItems:        cfg.Cache.MaxSize,
			CleanupInterval: cfg.Cache.PurgeWindow,
		})
	}
	return h
}

// Close releases the user cache.
func (h *HTTPClient) Close() {
	if h.users != nil {
		h.users.Close()
	}
}

// FetchConversation implements Client.
func (h *HTTPClient) FetchConversation(ctx context.Context, scope models.Scope) ([]models.Message, error) {
	var path string
	switch {
	case scope.IsRequest():
		path = "/chat/" + strconv.FormatInt(scope.RequestID, 10)
	case scope.PartnerID != 0:
		path = "/chat/user/" + strconv.FormatInt(scope.PartnerID, 10)
	default:
		return nil, fmt.Errorf("fetch conversation: invalid scope %+v", scope)
	}

	var msgs []models.Message
	if err := h.getJSON(ctx, "fetch_conversation", path, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// FetchConversationSummaries implements Client. A response without a
// conversations collection yields an empty slice.
func (h *HTTPClient) FetchConversationSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	var envelope struct {
		Conversations json.RawMessage `json:"conversations"`
	}
	if err := h.getJSON(ctx, "fetch_summaries", "/chat/conversations", &envelope); err != nil {
		return nil, err
	}

	out := []models.ConversationSummary{}
	if len(envelope.Conversations) == 0 || string(envelope.Conversations) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(envelope.Conversations, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out, nil
}

// FetchTradeRequests implements Client.
func (h *HTTPClient) FetchTradeRequests(ctx context.Context) (*models.TradeRequests, error) {
	var reqs models.TradeRequests
	if err := h.getJSON(ctx, "fetch_trade_requests", "/trade/requests", &reqs); err != nil {
		return nil, err
	}
	return &reqs, nil
}

// FetchCurrentUser implements Client.
func (h *HTTPClient) FetchCurrentUser(ctx context.Context) (*models.User, error) {
	return h.cachedUser(ctx, meKey, "fetch_current_user", "/users/me")
}

// FetchUser implements Client.
func (h *HTTPClient) FetchUser(ctx context.Context, id int64) (*models.User, error) {
	return h.cachedUser(ctx, id, "fetch_user", "/users/"+strconv.FormatInt(id, 10))
}

func (h *HTTPClient) cachedUser(ctx context.Context, key int64, op, path string) (*models.User, error) {
	if h.users != nil {
		if u, ok := h.users.Get(key); ok {
			return &u, nil
		}
	}

	var u models.User
	if err := h.getJSON(ctx, op, path, &u); err != nil {
		return nil, err
	}
	if h.users != nil {
		h.users.Set(key, u)
	}
	return &u, nil
}

// getJSON performs an authenticated GET through the circuit breaker and
// decodes the JSON body into out.
func (h *HTTPClient) getJSON(ctx context.Context, op, path string, out any) error {
	ctx, span := h.tracer.Start(ctx, "history."+op, trace.WithAttributes(
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.path", path),
	))
	defer span.End()

	err := h.breaker.Execute(func() error {
		return h.do(ctx, path, out)
	})

	h.metrics.HistoryRequest(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Debug("history request failed", "op", op, "path", path, "error", err)
		return err
	}
	return nil
}

func (h *HTTPClient) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if !h.cred.Empty() {
		req.Header.Set("Authorization", h.cred.Bearer())
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.Upstream(resp.StatusCode, http.MethodGet, path, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
