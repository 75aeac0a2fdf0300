package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
)

func testConfig() *config.KafkaConfig {
	return &config.KafkaConfig{Topic: "timechat.events", MaxRetries: 2, RetryBackoffMs: 1}
}

func TestProducer_Publish(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	var sent *sarama.ProducerMessage
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})

	p := NewProducerFrom(mock, testConfig())
	err := p.Publish(context.Background(), Event{
		Type:       EventInviteRedeemed,
		ChatID:     "room-1",
		ActorID:    "u2",
		Attributes: map[string]any{"code": "ABC123"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	require.NotNil(t, sent)
	assert.Equal(t, "timechat.events", sent.Topic)
	key, err := sent.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "room-1", string(key))

	raw, err := sent.Value.Encode()
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, EventInviteRedeemed, got.Type)
	assert.Equal(t, "ABC123", got.Attributes["code"])
	assert.False(t, got.OccurredAt.IsZero())
}

func TestProducer_PublishRetries(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	mock.ExpectSendMessageAndSucceed()

	p := NewProducerFrom(mock, testConfig())
	require.NoError(t, p.Publish(context.Background(), Event{Type: EventChatCreated, ChatID: "r"}))
	require.NoError(t, p.Close())
}

func TestProducer_PublishGivesUp(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	for range 3 {
		mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	}

	p := NewProducerFrom(mock, testConfig())
	err := p.Publish(context.Background(), Event{Type: EventChatDeleted, ChatID: "r"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducer_PublishCancelled(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(mock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Type: EventChatCreated}), context.Canceled)
	require.NoError(t, p.Close())
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestAsync_Publish(t *testing.T) {
	rec := &recorder{err: errors.New("broker down")}
	a := NewAsync(rec, func(job func()) error {
		job()
		return nil
	}, zap.NewNop())

	// failures are logged, never returned to the caller
	assert.NoError(t, a.Publish(context.Background(), Event{Type: EventMessageCreated, ChatID: "r"}))
	require.Len(t, rec.events, 1)
	assert.WithinDuration(t, time.Now(), rec.events[0].OccurredAt, time.Second)

	dropped := NewAsync(rec, func(func()) error { return errors.New("queue full") }, zap.NewNop())
	assert.NoError(t, dropped.Publish(context.Background(), Event{Type: EventMessageCreated}))
	assert.Len(t, rec.events, 1)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
