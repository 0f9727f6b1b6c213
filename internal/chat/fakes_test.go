package chat

import (
	"context"
	"sync"
	"time"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/realtime"
	"skill-barter/messaging/pkg/auth"
)

type fakeHistory struct {
	mu sync.Mutex

	conv      []models.Message
	convErr   error
	convGate  chan struct{}
	summaries []models.ConversationSummary
	sumErr    error
	trades    *models.TradeRequests
	tradeErr  error
	me        *models.User
	meErr     error
	meGate    chan struct{}

	convCalls  int
	tradeCalls int
}

func (f *fakeHistory) FetchConversation(ctx context.Context, _ models.Scope) ([]models.Message, error) {
	f.mu.Lock()
	f.convCalls++
	gate := f.convGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.conv...), f.convErr
}

func (f *fakeHistory) FetchConversationSummaries(context.Context) ([]models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries, f.sumErr
}

func (f *fakeHistory) FetchTradeRequests(context.Context) (*models.TradeRequests, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeCalls++
	if f.tradeErr != nil {
		return nil, f.tradeErr
	}
	if f.trades == nil {
		return &models.TradeRequests{}, nil
	}
	return f.trades, nil
}

func (f *fakeHistory) FetchCurrentUser(ctx context.Context) (*models.User, error) {
	f.mu.Lock()
	gate := f.meGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.me, f.meErr
}

func (f *fakeHistory) FetchUser(_ context.Context, id int64) (*models.User, error) {
	return &models.User{ID: id}, nil
}

func (f *fakeHistory) tradeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tradeCalls
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []models.OutgoingMessage
	sendErr error
	closed  bool

	events chan realtime.Event
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan realtime.Event, 16)}
}

func (f *fakeChannel) Send(msg models.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Events() <-chan realtime.Event {
	return f.events
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeChannel) Sent() []models.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OutgoingMessage(nil), f.sent...)
}

func (f *fakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// openerFor hands out the given channels in order.
func openerFor(chs ...*fakeChannel) (ChannelOpener, func() int) {
	var mu sync.Mutex
	n := 0
	open := func(context.Context, auth.Credential) Channel {
		mu.Lock()
		defer mu.Unlock()
		ch := chs[n]
		n++
		return ch
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
	return open, count
}

func at(sec int) models.Timestamp {
	return models.NewTimestamp(time.Date(2024, 5, 1, 10, 0, sec, 0, time.UTC))
}

func bodies(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
