package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// Topics.
const (
	TopicExtractionRequested = "lexextract.extraction.requested"
	TopicExtractionCompleted = "lexextract.extraction.completed"
	TopicDeadLetter          = "lexextract.dead_letter"
)

// Event types.
const (
	EventExtractionRequested = "extraction.requested"
	EventExtractionCompleted = "extraction.completed"
)

// EventEnvelope wraps every payload published by the service.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload. An absent payload is an error.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return apperrors.New(apperrors.ErrCodeValidation, "envelope has no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to unmarshal payload")
	}
	return nil
}

// ToMessage encodes the envelope keyed by key.
func (e *EventEnvelope) ToMessage(topic string, key string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to marshal envelope")
	}
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
		Headers: map[string]string{
			"event_type":     e.EventType,
			"source_service": e.Source,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the service topics.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMessaging, "failed to dial kafka")
	}
	return NewTopicManagerWithConn(conn, logger), nil
}

func NewTopicManagerWithConn(conn ConnInterface, logger logging.Logger) *TopicManager {
	return &TopicManager{conn: conn, logger: logging.OrNop(logger).Named("kafka-topics")}
}

func (m *TopicManager) TopicExists(_ context.Context, name string) bool {
	partitions, err := m.conn.ReadPartitions(name)
	return err == nil && len(partitions) > 0
}

// EnsureTopics creates the missing topics.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, t := range topics {
		if t.Name == "" || t.NumPartitions <= 0 || t.ReplicationFactor <= 0 {
			return apperrors.New(apperrors.ErrCodeValidation, "invalid topic config "+t.Name)
		}
		if m.TopicExists(ctx, t.Name) {
			continue
		}
		kc := kafka.TopicConfig{Topic: t.Name, NumPartitions: t.NumPartitions, ReplicationFactor: t.ReplicationFactor}
		if t.RetentionMs > 0 {
			kc.ConfigEntries = append(kc.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(t.RetentionMs, 10)})
		}
		if t.CleanupPolicy != "" {
			kc.ConfigEntries = append(kc.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: t.CleanupPolicy})
		}
		if err := m.conn.CreateTopics(kc); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeMessaging, "create topic "+t.Name)
		}
		m.logger.Info("topic created", logging.String("topic", t.Name))
	}
	return nil
}

func (m *TopicManager) Close() error { return m.conn.Close() }

// DefaultTopics lists the topics the worker reads and writes.
func DefaultTopics(replication int) []TopicConfig {
	const day = 24 * 3600 * 1000
	return []TopicConfig{
		{Name: TopicExtractionRequested, NumPartitions: 12, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: TopicExtractionCompleted, NumPartitions: 12, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: TopicDeadLetter, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 30 * day},
	}
}

//Personal.AI order the ending
