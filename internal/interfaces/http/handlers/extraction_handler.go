package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/turtacn/LexExtract-Intelligence/internal/application/extraction"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// DefaultMaxBodyBytes caps an extract request body when the handler is built
// without a limit.
const DefaultMaxBodyBytes = 2 << 20

// ExtractionService is the part of *extraction.Service the handler uses.
type ExtractionService interface {
	Extract(ctx context.Context, req *extraction.Request) (*pipeline.ExtractionResult, error)
	Mode() mode.Snapshot
	Patterns(jurisdiction string, entityType common.EntityType) *extraction.PatternStats
}

// ExtractionHandler serves the extraction API.
type ExtractionHandler struct {
	svc          ExtractionService
	maxBodyBytes int64
	logger       logging.Logger
}

// NewExtractionHandler creates an ExtractionHandler. A non-positive
// maxBodyBytes uses DefaultMaxBodyBytes.
func NewExtractionHandler(svc ExtractionService, maxBodyBytes int64, logger logging.Logger) *ExtractionHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &ExtractionHandler{svc: svc, maxBodyBytes: maxBodyBytes, logger: logging.OrNop(logger).Named("http")}
}

// Extract handles POST /api/v1/extract.
func (h *ExtractionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req extraction.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeAppError(w, pipeline.ErrInvalidInput.WithDetail("request body too large"))
		case errors.Is(err, io.EOF):
			writeAppError(w, pipeline.ErrInvalidInput.WithDetail("request body is empty"))
		default:
			writeAppError(w, errors.Wrap(err, errors.ErrCodeBadRequest, "malformed request body"))
		}
		return
	}

	res, err := h.svc.Extract(r.Context(), &req)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeInvalidInput) {
			h.logger.Debug("extract request rejected", logging.Err(err))
		} else {
			h.logger.Error("extract request failed", logging.Err(err))
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Mode handles GET /api/v1/mode.
func (h *ExtractionHandler) Mode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Mode())
}

// Patterns handles GET /api/v1/patterns?jurisdiction=&entity_type=.
func (h *ExtractionHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var et common.EntityType
	if v := q.Get("entity_type"); v != "" {
		parsed, ok := common.ParseEntityType(v)
		if !ok {
			writeAppError(w, errors.New(errors.ErrCodeBadRequest, "unknown entity_type").WithDetail(v))
			return
		}
		et = parsed
	}
	writeJSON(w, http.StatusOK, h.svc.Patterns(q.Get("jurisdiction"), et))
}

//Personal.AI order the ending
