package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
)

// Delivery is what a sink receives.
type Delivery struct {
	DocumentID string
	Result     *pipeline.ExtractionResult
}

// ResultSink receives every successful extraction.
type ResultSink interface {
	Name() string
	Write(ctx context.Context, d *Delivery) error
}

// ── Kafka ───────────────────────────────────────────────────────────────────

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msg *kafka.ProducerMessage) error
}

// CompletedEvent is the payload of an extraction.completed event.
type CompletedEvent struct {
	DocumentID string                     `json:"document_id"`
	Result     *pipeline.ExtractionResult `json:"result"`
}

type EventSink struct {
	publisher Publisher
	topic     string
	source    string
}

// NewEventSink publishes an extraction.completed envelope keyed by document
// id.
func NewEventSink(p Publisher, topic, source string) *EventSink {
	if topic == "" {
		topic = kafka.TopicExtractionCompleted
	}
	return &EventSink{publisher: p, topic: topic, source: source}
}

func (s *EventSink) Name() string { return "kafka" }

func (s *EventSink) Write(ctx context.Context, d *Delivery) error {
	env, err := kafka.NewEventEnvelope(kafka.EventExtractionCompleted, s.source, &CompletedEvent{DocumentID: d.DocumentID, Result: d.Result})
	if err != nil {
		return err
	}
	env.Metadata = map[string]string{"request_id": d.Result.RequestID, "mode": string(d.Result.Mode)}
	msg, err := env.ToMessage(s.topic, d.DocumentID)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, msg)
}

// ── Neo4j ───────────────────────────────────────────────────────────────────

// GraphWriter is satisfied by *neo4j.GraphWriter.
type GraphWriter interface {
	WriteDocument(ctx context.Context, doc *neo4j.GraphDocument) error
}

type GraphSink struct{ writer GraphWriter }

func NewGraphSink(w GraphWriter) *GraphSink { return &GraphSink{writer: w} }

func (s *GraphSink) Name() string { return "neo4j" }

func (s *GraphSink) Write(ctx context.Context, d *Delivery) error {
	return s.writer.WriteDocument(ctx, &neo4j.GraphDocument{
		DocumentID:    d.DocumentID,
		RequestID:     d.Result.RequestID,
		Mode:          d.Result.Mode,
		Entities:      d.Result.Entities,
		Relationships: d.Result.Relationships,
	})
}

// ── OpenSearch ──────────────────────────────────────────────────────────────

// EntityIndexer is satisfied by *opensearch.EntityIndexer.
type EntityIndexer interface {
	IndexEntities(ctx context.Context, documentID, requestID string, mode common.Mode, entities []common.Entity) (*opensearch.BulkResult, error)
}

type IndexSink struct{ indexer EntityIndexer }

func NewIndexSink(ix EntityIndexer) *IndexSink { return &IndexSink{indexer: ix} }

func (s *IndexSink) Name() string { return "opensearch" }

func (s *IndexSink) Write(ctx context.Context, d *Delivery) error {
	if len(d.Result.Entities) == 0 {
		return nil
	}
	res, err := s.indexer.IndexEntities(ctx, d.DocumentID, d.Result.RequestID, d.Result.Mode, d.Result.Entities)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d entities rejected by index", res.Failed, res.Failed+res.Succeeded)
	}
	return nil
}

// ── MinIO ───────────────────────────────────────────────────────────────────

// Archiver is satisfied by *minio.ResultArchive.
type Archiver interface {
	Archive(ctx context.Context, documentID, requestID string, result any) (string, error)
}

type ArchiveSink struct{ archive Archiver }

func NewArchiveSink(a Archiver) *ArchiveSink { return &ArchiveSink{archive: a} }

func (s *ArchiveSink) Name() string { return "minio" }

func (s *ArchiveSink) Write(ctx context.Context, d *Delivery) error {
	_, err := s.archive.Archive(ctx, d.DocumentID, d.Result.RequestID, d.Result)
	return err
}

// ── Redis lock ──────────────────────────────────────────────────────────────

// RedisLocker adapts redis document leases to Locker.
type RedisLocker struct{ client *redis.Client }

func NewRedisLocker(c *redis.Client) *RedisLocker { return &RedisLocker{client: c} }

func (l *RedisLocker) TryLock(ctx context.Context, documentID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, ok, err := redis.TryLockDocument(ctx, l.client, documentID, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lock.Unlock, true, nil
}

//Personal.AI order the ending
