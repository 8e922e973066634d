// Package memory contains an in-memory publisher for local runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a random message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	id := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the payloads published to topic, oldest first.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
