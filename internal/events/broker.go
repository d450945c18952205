package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Broker broadcasts encoded envelopes to live stream subscribers.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]struct{})}
}

// Subscribe registers a client channel with the given buffer size. The
// returned cancel func unregisters and closes it.
func (b *Broker) Subscribe(buffer int) (<-chan []byte, func()) {
	ch := make(chan []byte, buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish encodes env as JSON and offers it to every subscriber.
func (b *Broker) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.broadcast(data)
	return nil
}

func (b *Broker) broadcast(data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- data:
		default:
			// slow subscriber, drop
		}
	}
}
