package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

type mockWriter struct{ mock.Mock }

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func (m *mockWriter) Close() error { return m.Called().Error(0) }

// fakeReader serves a fixed queue and then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
}

func (p *capturePublisher) Publish(_ context.Context, m *ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *capturePublisher) published() []*ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ProducerMessage(nil), p.msgs...)
}

func TestProducer_Publish(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(ms []kafka.Message) bool {
		return len(ms) == 1 && ms[0].Topic == TopicExtractionCompleted && string(ms[0].Key) == "doc-1"
	})).Return(nil).Once()
	p := NewProducerWithWriter(w, ProducerConfig{}, nil)

	err := p.Publish(context.Background(), &ProducerMessage{Topic: TopicExtractionCompleted, Key: []byte("doc-1"), Value: []byte(`{}`)})
	require.NoError(t, err)
	sent, failed := p.Stats()
	assert.Equal(t, int64(1), sent)
	assert.Zero(t, failed)
	w.AssertExpectations(t)
}

func TestProducer_PublishValidation(t *testing.T) {
	p := NewProducerWithWriter(&mockWriter{}, ProducerConfig{MaxMessageBytes: 4}, nil)
	ctx := context.Background()
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &ProducerMessage{Value: []byte("x")}), apperrors.ErrCodeValidation))
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &ProducerMessage{Topic: "t"}), apperrors.ErrCodeValidation))
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &ProducerMessage{Topic: "t", Value: []byte("too long")}), apperrors.ErrCodeValidation))
}

func TestProducer_PublishFailureAndClose(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	w.On("Close").Return(nil).Once()
	p := NewProducerWithWriter(w, ProducerConfig{}, nil)

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrPublishFailed)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")}), ErrProducerClosed)
	w.AssertExpectations(t)
}

func TestProducer_PublishBatchPartialFailure(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(kafka.WriteErrors{nil, errors.New("too big"), nil})
	p := NewProducerWithWriter(w, ProducerConfig{}, nil)

	msgs := []*ProducerMessage{{Topic: "a", Value: []byte("1")}, {Topic: "b", Value: []byte("2")}, {Topic: "c", Value: []byte("3")}}
	res, err := p.PublishBatch(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "b", res.Errors[0].Topic)
}

func TestValidateConfigs(t *testing.T) {
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"k:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"k:9092"}, Security: SecurityConfig{SASLEnabled: true}}))

	assert.Error(t, ValidateConsumerConfig(ConsumerConfig{Brokers: []string{"k:9092"}}))
	assert.Error(t, ValidateConsumerConfig(ConsumerConfig{Brokers: []string{"k:9092"}, GroupID: "g", AutoOffsetReset: "middle"}))
	assert.NoError(t, ValidateConsumerConfig(ConsumerConfig{Brokers: []string{"k:9092"}, GroupID: "g"}))
}

func TestConsumer_DispatchRetryDeadLetter(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Topic: TopicExtractionRequested, Offset: 1, Value: []byte("ok")},
		{Topic: TopicExtractionRequested, Offset: 2, Value: []byte("flaky")},
		{Topic: TopicExtractionRequested, Offset: 3, Value: []byte("poison"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		{Topic: "unknown", Offset: 4},
	}}
	dl := &capturePublisher{}
	c := NewConsumerWithReader(r, ConsumerConfig{
		GroupID: "g",
		Retry:   RetryConfig{MaxRetries: 2, RetryBackoff: time.Millisecond, DeadLetterTopic: TopicDeadLetter},
	}, dl, nil)

	var mu sync.Mutex
	attempts := map[string]int{}
	c.Subscribe(TopicExtractionRequested, func(_ context.Context, m *Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[string(m.Value)]++
		switch string(m.Value) {
		case "flaky":
			if attempts["flaky"] < 2 {
				return errors.New("transient")
			}
		case "poison":
			return errors.New("cannot decode")
		}
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	require.Eventually(t, func() bool { return len(r.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, []int64{1, 2, 3, 4}, r.commits())
	mu.Lock()
	assert.Equal(t, 3, attempts["poison"])
	assert.Equal(t, 2, attempts["flaky"])
	mu.Unlock()

	processed, failed, dead := c.Stats()
	assert.Equal(t, int64(2), processed)
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, int64(1), dead)

	pub := dl.published()
	require.Len(t, pub, 1)
	assert.Equal(t, TopicDeadLetter, pub[0].Topic)
	assert.Equal(t, TopicExtractionRequested, pub[0].Headers["original_topic"])
	assert.Equal(t, "cannot decode", pub[0].Headers["error_message"])
	assert.Equal(t, "x", pub[0].Headers["event_type"])
}

func TestEventEnvelope_RoundTrip(t *testing.T) {
	type payload struct {
		DocumentID string `json:"document_id"`
	}
	env, err := NewEventEnvelope(EventExtractionRequested, "test", payload{DocumentID: "doc-9"})
	require.NoError(t, err)
	pm, err := env.ToMessage(TopicExtractionRequested, "doc-9")
	require.NoError(t, err)
	assert.Equal(t, EventExtractionRequested, pm.Headers["event_type"])

	back, err := MessageToEventEnvelope(&Message{Value: pm.Value})
	require.NoError(t, err)
	var p payload
	require.NoError(t, back.DecodePayload(&p))
	assert.Equal(t, "doc-9", p.DocumentID)

	_, err = MessageToEventEnvelope(&Message{})
	assert.Error(t, err)
	assert.Error(t, (&EventEnvelope{}).DecodePayload(&p))
}

type fakeConn struct {
	existing map[string]bool
	created  []kafka.TopicConfig
}

func (c *fakeConn) CreateTopics(topics ...kafka.TopicConfig) error {
	c.created = append(c.created, topics...)
	return nil
}

func (c *fakeConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if len(topics) == 1 && c.existing[topics[0]] {
		return []kafka.Partition{{Topic: topics[0]}}, nil
	}
	return nil, errors.New("unknown topic")
}

func (c *fakeConn) Close() error { return nil }

func TestTopicManager_EnsureTopics(t *testing.T) {
	conn := &fakeConn{existing: map[string]bool{TopicDeadLetter: true}}
	m := NewTopicManagerWithConn(conn, nil)
	require.NoError(t, m.EnsureTopics(context.Background(), DefaultTopics(1)))
	require.Len(t, conn.created, 2)
	assert.Equal(t, TopicExtractionRequested, conn.created[0].Topic)
	assert.Equal(t, "retention.ms", conn.created[0].ConfigEntries[0].ConfigName)

	assert.Error(t, m.EnsureTopics(context.Background(), []TopicConfig{{Name: "x"}}))
}

//Personal.AI order the ending
