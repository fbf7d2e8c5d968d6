// Package pubsub announces finished runs on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// topicHandle is the part of *pubsub.Topic the publisher needs.
type topicHandle interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type gcpTopic struct {
	topic *pubsub.Topic
}

func (t gcpTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.topic.Publish(ctx, msg)
}

// Publisher publishes JSON payloads to topics of one project.
type Publisher struct {
	open func(name string) topicHandle

	mu     sync.Mutex
	topics map[string]topicHandle
}

// New wraps an existing Pub/Sub client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return newPublisher(func(name string) topicHandle {
		return gcpTopic{topic: client.Topic(name)}
	}), nil
}

func newPublisher(open func(name string) topicHandle) *Publisher {
	return &Publisher{open: open, topics: make(map[string]topicHandle)}
}

// Publish marshals payload to JSON, publishes it to topic and waits for the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content-type": "application/json"},
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Stop flushes and stops every topic that was opened.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if g, ok := t.(gcpTopic); ok {
			g.topic.Stop()
		}
	}
}

func (p *Publisher) topic(name string) topicHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.open(name)
	p.topics[name] = t
	return t
}
