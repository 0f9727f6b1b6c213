package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"skill-barter/messaging/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// ErrClosed is returned by a closed broker.
var ErrClosed = errors.New("broker closed")

// DefaultChannel is the Redis channel relay instances share.
const DefaultChannel = "chat:deliveries"

// Redis is a Broker backed by Redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

// NewRedis connects to addr, which is either host:port or a redis:// URL.
func NewRedis(addr, channel string, log *logger.Logger) (*Redis, error) {
	if log == nil {
		log = logger.Nop()
	}
	if channel == "" {
		channel = DefaultChannel
	}

	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}

	return &Redis{
		client:  redis.NewClient(opts),
		channel: channel,
		log:     log.With("component", "pubsub", "channel", channel),
	}, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish sends payload to every subscribed instance.
func (r *Redis) Publish(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe blocks, calling handle for each payload, until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, handle func([]byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so publishes that follow
	// are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.log.Info("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			handle([]byte(msg.Payload))
		}
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
