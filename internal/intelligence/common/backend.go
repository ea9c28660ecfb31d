package common

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Inference backend contract
// ---------------------------------------------------------------------------

// StageRequest is the payload sent to the inference backend for one stage
// (or one sub-batch of a stage).
type StageRequest struct {
	Stage        Stage    `json:"stage_name"`
	Entities     []Entity `json:"entities"`
	DocumentText string   `json:"document_text"`
	TimeoutMs    int64    `json:"timeout_ms"`
}

// EntityProposal is the backend's verdict on one entity. ID refers to an
// entity from the request; an empty ID proposes a new entity (error
// correction only). Nil pointer fields mean "no opinion".
type EntityProposal struct {
	ID         string            `json:"id,omitempty"`
	Type       EntityType        `json:"type,omitempty"`
	Subtype    string            `json:"subtype,omitempty"`
	Text       string            `json:"text,omitempty"`
	Span       *Span             `json:"span,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Accept     *bool             `json:"accept,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// RelationshipProposal is one edge proposed by relationship discovery.
type RelationshipProposal struct {
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Type       RelationshipType  `json:"type"`
	Confidence float64           `json:"confidence"`
	Evidence   *Span             `json:"evidence,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// StageResponse is the backend reply for one StageRequest.
type StageResponse struct {
	Entities      []EntityProposal       `json:"entities"`
	Relationships []RelationshipProposal `json:"relationships,omitempty"`
	Annotations   []string               `json:"annotations"`
}

// Validate checks schema conformance. Any violation makes the whole response
// a stage failure.
func (r *StageResponse) Validate(textLen int) error {
	if r == nil {
		return ErrInvalidResponse.WithDetail("nil response")
	}
	for i, p := range r.Entities {
		if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
			return ErrInvalidResponse.WithDetail(fmt.Sprintf("entities[%d].confidence out of range", i))
		}
		if p.Span != nil && !p.Span.Within(textLen) {
			return ErrInvalidResponse.WithDetail(fmt.Sprintf("entities[%d].span %s outside document", i, p.Span))
		}
		if p.Type != "" && !p.Type.Valid() {
			return ErrInvalidResponse.WithDetail(fmt.Sprintf("entities[%d].type %q unknown", i, p.Type))
		}
	}
	for i, rel := range r.Relationships {
		if rel.Confidence < 0 || rel.Confidence > 1 {
			return ErrInvalidResponse.WithDetail(fmt.Sprintf("relationships[%d].confidence out of range", i))
		}
		if rel.SourceID == "" || rel.TargetID == "" {
			return ErrInvalidResponse.WithDetail(fmt.Sprintf("relationships[%d] missing endpoint", i))
		}
	}
	return nil
}

// ProbeStatus is the outcome of one backend health probe.
type ProbeStatus string

const (
	ProbeHealthy     ProbeStatus = "healthy"
	ProbeDegraded    ProbeStatus = "degraded"
	ProbeUnreachable ProbeStatus = "unreachable"
)

// ProbeResult carries a probe outcome.
type ProbeResult struct {
	Status  ProbeStatus   `json:"status"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency"`
}

// ModelBackend runs enhancement stages on an external language-model service.
// Implementations must honour ctx cancellation.
type ModelBackend interface {
	RunStage(ctx context.Context, req *StageRequest) (*StageResponse, error)
	Close() error
}

// HealthProber reports backend health for the mode controller.
type HealthProber interface {
	Probe(ctx context.Context) ProbeResult
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrStageTimeout       = errors.New(errors.ErrCodeStageTimeout, "stage timed out")
	ErrStageBackend       = errors.New(errors.ErrCodeStageBackend, "stage backend error")
	ErrBackendUnavailable = errors.New(errors.ErrCodeBackendUnavailable, "inference backend unavailable")
	ErrInvalidResponse    = errors.New(errors.ErrCodeInvalidResponse, "non-conformant stage response")
	ErrDeadlineExceeded   = errors.New(errors.ErrCodeDeadlineExceeded, "document deadline exceeded")
)

// Stage skip reasons.
const (
	ReasonTimeout         = "timeout"
	ReasonBackendError    = "backend_error"
	ReasonInvalidResponse = "invalid_response"
	ReasonCancelled       = "cancelled"
	ReasonCircuitOpen     = "circuit_open"
	ReasonDeadline        = "deadline_exceeded"
	ReasonUnavailable     = "backend_unavailable"
)

// StageError wraps a stage failure with its skip reason.
type StageError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s skipped (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ClassifyStageError maps a backend failure onto a skip reason.
func ClassifyStageError(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, context.DeadlineExceeded), errors.IsCode(err, errors.ErrCodeStageTimeout):
		return ReasonTimeout
	case stderrors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.IsCode(err, errors.ErrCodeBackendUnavailable):
		return ReasonUnavailable
	case errors.IsCode(err, errors.ErrCodeInvalidResponse):
		return ReasonInvalidResponse
	default:
		return ReasonBackendError
	}
}

// ---------------------------------------------------------------------------
// MockBackend
// ---------------------------------------------------------------------------

// MockBackend is a scriptable ModelBackend and HealthProber for tests and
// local runs without an inference service.
type MockBackend struct {
	RunStageFunc func(ctx context.Context, req *StageRequest) (*StageResponse, error)
	ProbeFunc    func(ctx context.Context) ProbeResult
}

// NewMockBackend returns a backend that accepts every request unchanged.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) RunStage(ctx context.Context, req *StageRequest) (*StageResponse, error) {
	if m.RunStageFunc != nil {
		return m.RunStageFunc(ctx, req)
	}
	return &StageResponse{}, nil
}

func (m *MockBackend) Probe(ctx context.Context) ProbeResult {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return ProbeResult{Status: ProbeHealthy}
}

func (m *MockBackend) Close() error { return nil }

//Personal.AI order the ending
