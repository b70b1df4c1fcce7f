package mq

import (
	"context"
	"errors"
	"sync"
	"time"

	"develevate/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// KafkaConfig is the kafka section of the service config.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	MaxWait      time.Duration `yaml:"maxWait"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
}

// KafkaQueue publishes with one shared writer and consumes with one reader per subscription.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

type subscription struct {
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 20 * time.Millisecond
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	return &KafkaQueue{
		cfg:    cfg,
		dialer: dialer,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
			Transport:              &kafka.Transport{ClientID: cfg.ClientID, DialTimeout: cfg.DialTimeout},
		},
	}, nil
}

func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if message == nil {
		return errors.New("message is nil")
	}
	return k.writer.WriteMessages(ctx, encode(topic, message))
}

// Subscribe starts consuming topic in the background and returns immediately.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var o SubscribeOptions
	if opts != nil {
		o = *opts
	}
	o.SetDefaults()
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "develevate-" + topic
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.cfg.Brokers,
			GroupID:     o.ConsumerGroup,
			Topic:       topic,
			Dialer:      k.dialer,
			MaxWait:     k.cfg.MaxWait,
			StartOffset: kafka.LastOffset,
		}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	k.subs = append(k.subs, sub)
	go k.consume(subCtx, sub, handler, o)
	return nil
}

// Close stops every subscription, waits for in-flight handlers and flushes the writer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	subs := k.subs
	k.subs = nil
	k.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	for _, sub := range subs {
		<-sub.done
		_ = sub.reader.Close()
	}
	return k.writer.Close()
}

func (k *KafkaQueue) consume(ctx context.Context, sub *subscription, handler HandlerFunc, o SubscribeOptions) {
	defer close(sub.done)
	var g errgroup.Group
	g.SetLimit(o.Concurrency)
	defer func() { _ = g.Wait() }()

	for {
		raw, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "kafka fetch failed", zap.String("topic", sub.reader.Config().Topic), zap.Error(err))
			if !wait(ctx, o.RetryDelay) {
				return
			}
			continue
		}
		g.Go(func() error {
			k.deliver(ctx, sub, raw, handler, o)
			return nil
		})
	}
}

func (k *KafkaQueue) deliver(ctx context.Context, sub *subscription, raw kafka.Message, handler HandlerFunc, o SubscribeOptions) {
	msg := decode(raw)
	delay := o.RetryDelay
	for {
		msg.Attempt++
		err := handler(ctx, msg)
		if err == nil {
			break
		}
		logger.Warn(ctx, "message handler failed",
			zap.String("topic", raw.Topic),
			zap.String("message_id", msg.ID),
			zap.Int("attempt", msg.Attempt),
			zap.Error(err),
		)
		if msg.Attempt >= o.MaxAttempts {
			if o.DeadLetterTopic != "" {
				if err := k.Publish(ctx, o.DeadLetterTopic, msg); err != nil {
					logger.Error(ctx, "dead letter publish failed", zap.String("message_id", msg.ID), zap.Error(err))
				}
			}
			break
		}
		if !wait(ctx, delay) {
			return
		}
		delay *= 2
	}
	if err := sub.reader.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "kafka commit failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// encode maps ID onto the partition key and Timestamp onto the record time.
func encode(topic string, m *Message) kafka.Message {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers))
	for key, value := range m.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	return kafka.Message{Topic: topic, Key: []byte(m.ID), Value: m.Body, Headers: headers, Time: ts}
}

func decode(raw kafka.Message) *Message {
	m := &Message{
		ID:        string(raw.Key),
		Body:      raw.Value,
		Headers:   make(map[string]string, len(raw.Headers)),
		Timestamp: raw.Time,
	}
	for _, h := range raw.Headers {
		m.Headers[h.Key] = string(h.Value)
	}
	return m
}
