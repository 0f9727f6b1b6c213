package pubsub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subscribe starts a subscriber and returns what it receives.
func subscribe(t *testing.T, ctx context.Context, b Broker) <-chan string {
	t.Helper()
	got := make(chan string, 8)
	go func() {
		_ = b.Subscribe(ctx, func(p []byte) { got <- string(p) })
	}()
	return got
}

func receive(t *testing.T, got <-chan string) string {
	t.Helper()
	select {
	case p := <-got:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no payload received")
		return ""
	}
}

func TestMemoryFansOutToEverySubscriber(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := subscribe(t, ctx, m), subscribe(t, ctx, m)
	require.Eventually(t, func() bool { return m.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Publish(ctx, []byte("hello")))
	assert.Equal(t, "hello", receive(t, a))
	assert.Equal(t, "hello", receive(t, b))
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory()
	done := make(chan error, 1)
	go func() { done <- m.Subscribe(context.Background(), func([]byte) {}) }()
	require.Eventually(t, func() bool { return m.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.ErrorIs(t, m.Publish(context.Background(), []byte("x")), ErrClosed)
	assert.NoError(t, m.Close())
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}

	r, err := NewRedis(addr, "chat:test:"+t.Name(), nil)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Ping(ctx))

	got := subscribe(t, ctx, r)
	// PUBLISH is fire and forget; keep publishing until the subscriber is up.
	require.Eventually(t, func() bool {
		_ = r.Publish(ctx, []byte("ping"))
		select {
		case p := <-got:
			return p == "ping"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("http://localhost:6379", "", nil)
	assert.Error(t, err)
}
