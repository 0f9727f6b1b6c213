// Package pubsub relays opaque payloads between relay server instances.
package pubsub

import (
	"context"
	"sync"
)

// Broker publishes payloads on a shared topic and hands every payload
// published by any instance, including this one, to subscribers.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe calls handle for each payload until ctx is cancelled.
	Subscribe(ctx context.Context, handle func([]byte)) error
	Close() error
}

// Memory is an in-process Broker. Hubs sharing one Memory behave like
// relay instances sharing a Redis channel.
type Memory struct {
	mu     sync.RWMutex
	subs   map[int]chan []byte
	next   int
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]chan []byte)}
}

// Publish fans payload out to current subscribers. A subscriber that is
// not keeping up loses the payload.
func (m *Memory) Publish(ctx context.Context, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe blocks, calling handle for each payload, until ctx is done or
// the broker is closed.
func (m *Memory) Subscribe(ctx context.Context, handle func([]byte)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.next
	m.next++
	ch := make(chan []byte, 256)
	m.subs[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			handle(payload)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close stops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	return nil
}
