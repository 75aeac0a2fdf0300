package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
)

// Domain event types written to the events topic.
const (
	EventChatCreated    = "chat.created"
	EventChatDeleted    = "chat.deleted"
	EventMemberJoined   = "member.joined"
	EventMemberLeft     = "member.left"
	EventInviteCreated  = "invite.created"
	EventInviteRedeemed = "invite.redeemed"
	EventMessageCreated = "message.created"
)

// Event is one domain fact. Events of a room share its partition key.
type Event struct {
	Type       string         `json:"type"`
	ChatID     string         `json:"chat_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher ships domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Producer is a Publisher over a sarama SyncProducer.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	retries  int
	backoff  time.Duration
}

// NewProducer creates a new Kafka producer instance.
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Set connection timeouts to prevent hanging
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFrom(producer, cfg), nil
}

// NewProducerFrom wraps an existing SyncProducer.
func NewProducerFrom(producer sarama.SyncProducer, cfg *config.KafkaConfig) *Producer {
	return &Producer{
		producer: producer,
		topic:    cfg.Topic,
		retries:  cfg.MaxRetries,
		backoff:  time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
	}
}

// Publish sends the event keyed by chat id, retrying with exponential backoff.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.Type, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ChatID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(event.Type)},
		},
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, lastErr = p.producer.SendMessage(msg); lastErr == nil {
			return nil
		}
		if attempt < p.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("failed to send %s after %d attempts: %w", event.Type, p.retries+1, lastErr)
}

// Close closes the Kafka producer and releases all resources.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// Nop discards events; used when kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Async hands events to submit (typically a worker pool) so request paths
// never wait on the broker. Failures are logged.
type Async struct {
	next   Publisher
	submit func(func()) error
	logger *zap.Logger
}

func NewAsync(next Publisher, submit func(func()) error, logger *zap.Logger) *Async {
	return &Async{next: next, submit: submit, logger: logger}
}

func (a *Async) Publish(_ context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	err := a.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.next.Publish(ctx, event); err != nil {
			a.logger.Error("publish domain event failed",
				zap.String("type", event.Type),
				zap.String("chat_id", event.ChatID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		a.logger.Warn("domain event dropped", zap.String("type", event.Type), zap.Error(err))
	}
	return nil
}

func (a *Async) Close() error {
	return a.next.Close()
}
