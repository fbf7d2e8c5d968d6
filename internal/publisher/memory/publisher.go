// Package memory records run notifications in process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
}

// Publisher keeps every notification it is handed. Setting Err makes
// subsequent publishes fail.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	Err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the notification and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of what was published to topic, or everything when
// topic is empty.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
