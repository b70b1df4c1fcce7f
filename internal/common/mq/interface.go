package mq

import (
	"context"
	"time"
)

// Producer publishes messages. Messages sharing an ID keep their relative order.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers a topic to a handler until ctx ends or the consumer is closed.
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
}

// Message is the broker-neutral envelope.
type Message struct {
	ID        string
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time
	Attempt   int
}

// HandlerFunc processes one message. A non-nil error retries it.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string
	// Concurrency is the number of messages handled at once. Default 1.
	Concurrency int
	// MaxAttempts per message before it is given up on. Default 3.
	MaxAttempts int
	// RetryDelay doubles after every failed attempt. Default 500ms.
	RetryDelay time.Duration
	// DeadLetterTopic, when set, receives messages that ran out of attempts.
	DeadLetterTopic string
}

func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
}

func NewMessage(body []byte) *Message {
	return &Message{Body: body, Headers: map[string]string{}, Timestamp: time.Now()}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	v, ok := m.Headers[key]
	return v, ok
}
