/*
 * service.go 抽取应用服务：封装流水线入口，并将结果分发至可选下游（Kafka 结果事件、Neo4j 文档图、
 * OpenSearch 实体索引、MinIO 结果归档）。下游失败只记录日志与指标，不影响抽取结果的返回。
 */

// Package extraction is the application layer around the extraction
// pipeline: request handling, result fan-out and the worker message path.
package extraction

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

var (
	ErrDocumentLocked = errors.New(errors.ErrCodeConflict, "document is being processed elsewhere")
	ErrBadMessage     = errors.New(errors.ErrCodeBadRequest, "malformed extraction request")
)

// Request is one extraction job. DocumentID is optional for synchronous
// calls and required on the message path.
type Request struct {
	DocumentID string           `json:"document_id,omitempty"`
	Text       string           `json:"text"`
	Options    pipeline.Options `json:"options"`
}

// Extractor is the part of *pipeline.Pipeline the service needs.
type Extractor interface {
	Extract(ctx context.Context, text string, opts pipeline.Options) (*pipeline.ExtractionResult, error)
	Mode() common.Mode
	Library() *patterns.Library
}

// Locker guards a document against concurrent processing.
type Locker interface {
	TryLock(ctx context.Context, documentID string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// ModeReporter exposes the mode controller state.
type ModeReporter interface {
	Snapshot() mode.Snapshot
}

// Service coordinates extraction and result delivery.
type Service struct {
	extractor Extractor
	sinks     []ResultSink
	locker    Locker
	lockTTL   time.Duration
	modes     ModeReporter
	metrics   *prom.ServiceMetrics
	logger    logging.Logger
}

type Option func(*Service)

func WithSinks(sinks ...ResultSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) { s.locker, s.lockTTL = l, ttl }
}

func WithModeReporter(m ModeReporter) Option { return func(s *Service) { s.modes = m } }

func WithServiceMetrics(m *prom.ServiceMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l logging.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(extractor Extractor, opts ...Option) *Service {
	s := &Service{extractor: extractor, lockTTL: 2 * time.Minute}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrNop(s.logger).Named("extraction")
	return s
}

// Extract runs the pipeline and delivers the result to every sink. Only input
// validation errors are returned.
func (s *Service) Extract(ctx context.Context, req *Request) (*pipeline.ExtractionResult, error) {
	if req == nil {
		return nil, pipeline.ErrInvalidInput.WithDetail("request is empty")
	}
	res, err := s.extractor.Extract(ctx, req.Text, req.Options)
	if err != nil {
		return nil, err
	}
	s.deliver(ctx, req, res)
	return res, nil
}

// deliver writes res to all sinks concurrently and waits for them.
func (s *Service) deliver(ctx context.Context, req *Request, res *pipeline.ExtractionResult) {
	if len(s.sinks) == 0 {
		return
	}
	documentID := req.DocumentID
	if documentID == "" {
		documentID = res.RequestID
	}
	out := &Delivery{DocumentID: documentID, Result: res}
	// Sinks outlive a cancelled caller; the result has already been computed.
	sinkCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, sink := range s.sinks {
		sink := sink
		g.Go(func() error {
			start := time.Now()
			err := sink.Write(sinkCtx, out)
			prom.RecordSinkWrite(s.metrics, sink.Name(), time.Since(start), err)
			if err != nil {
				s.logger.Warn("result sink failed",
					logging.String("sink", sink.Name()),
					logging.String("document_id", documentID),
					logging.RequestID(res.RequestID),
					logging.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ProcessMessage handles one extraction request from Kafka. Malformed or
// invalid requests are logged and acknowledged; a locked document returns
// ErrDocumentLocked so the consumer retries later.
func (s *Service) ProcessMessage(ctx context.Context, msg *kafka.Message) error {
	start := time.Now()
	err := s.processMessage(ctx, msg)
	prom.RecordMessage(s.metrics, msg.Topic, time.Since(start), err)
	return err
}

func (s *Service) processMessage(ctx context.Context, msg *kafka.Message) error {
	req, err := DecodeRequest(msg)
	if err != nil {
		s.logger.Warn("dropping malformed extraction request",
			logging.String("topic", msg.Topic), logging.Int64("offset", msg.Offset), logging.Err(err))
		return nil
	}
	log := s.logger.With(logging.String("document_id", req.DocumentID))

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, req.DocumentID, s.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDocumentLocked.WithDetail(req.DocumentID)
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				log.Warn("document lock release failed", logging.Err(uerr))
			}
		}()
	}

	if _, err := s.Extract(ctx, req); err != nil {
		if errors.IsCode(err, errors.ErrCodeInvalidInput) {
			log.Warn("rejecting invalid extraction request", logging.Err(err))
			return nil
		}
		return err
	}
	return nil
}

// DecodeRequest reads a Request from either an event envelope or a bare
// JSON body.
func DecodeRequest(msg *kafka.Message) (*Request, error) {
	var req Request
	if env, err := kafka.MessageToEventEnvelope(msg); err == nil && env.EventType != "" {
		if env.EventType != kafka.EventExtractionRequested {
			return nil, ErrBadMessage.WithDetail("unexpected event type " + env.EventType)
		}
		if err := env.DecodePayload(&req); err != nil {
			return nil, ErrBadMessage.WithCause(err)
		}
	} else if err := json.Unmarshal(msg.Value, &req); err != nil {
		return nil, ErrBadMessage.WithCause(err)
	}
	if req.DocumentID == "" {
		req.DocumentID = string(msg.Key)
	}
	if req.DocumentID == "" {
		return nil, ErrBadMessage.WithDetail("document_id is required")
	}
	return &req, nil
}

// Mode returns the current mode snapshot, or just the mode when no
// controller is attached.
func (s *Service) Mode() mode.Snapshot {
	if s.modes != nil {
		return s.modes.Snapshot()
	}
	return mode.Snapshot{Mode: s.extractor.Mode()}
}

// PatternStats summarises the active library.
type PatternStats struct {
	Total          int            `json:"total"`
	ByEntityType   map[string]int `json:"by_entity_type"`
	ByJurisdiction map[string]int `json:"by_jurisdiction"`
	Patterns       []PatternInfo  `json:"patterns,omitempty"`
}

type PatternInfo struct {
	ID           string  `json:"id"`
	EntityType   string  `json:"entity_type"`
	Subtype      string  `json:"subtype,omitempty"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	Confidence   float64 `json:"confidence"`
	Priority     int     `json:"priority"`
}

// Patterns lists the active library, optionally filtered. Empty filters
// match everything. Jurisdiction tags compare case-insensitively.
func (s *Service) Patterns(jurisdiction string, entityType common.EntityType) *PatternStats {
	stats := &PatternStats{ByEntityType: map[string]int{}, ByJurisdiction: map[string]int{}}
	lib := s.extractor.Library()
	if lib == nil {
		return stats
	}
	jurisdiction = strings.ToLower(strings.TrimSpace(jurisdiction))
	for _, d := range lib.Patterns() {
		if jurisdiction != "" && d.Jurisdiction != jurisdiction {
			continue
		}
		if entityType != "" && d.EntityType != entityType {
			continue
		}
		stats.Total++
		stats.ByEntityType[string(d.EntityType)]++
		stats.ByJurisdiction[d.Jurisdiction]++
		stats.Patterns = append(stats.Patterns, PatternInfo{
			ID:           d.ID,
			EntityType:   string(d.EntityType),
			Subtype:      d.Subtype,
			Jurisdiction: d.Jurisdiction,
			Confidence:   d.Confidence,
			Priority:     d.Priority,
		})
	}
	return stats
}

//Personal.AI order the ending
