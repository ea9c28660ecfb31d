package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

var (
	ErrIndexCreationFailed = errors.New(errors.ErrCodeExternalService, "index creation failed")
	ErrBulkFailed          = errors.New(errors.ErrCodeExternalService, "bulk request failed")
)

// DefaultEntityIndex receives one search document per extracted entity.
const DefaultEntityIndex = "lexextract-entities"

// IndexerConfig holds configuration for the EntityIndexer.
type IndexerConfig struct {
	Index         string `mapstructure:"index"`
	BulkBatchSize int    `mapstructure:"bulk_batch_size"`
	RefreshPolicy string `mapstructure:"refresh_policy"`
	Shards        int    `mapstructure:"shards"`
	Replicas      int    `mapstructure:"replicas"`
}

// EntityDocument is the indexed form of one entity.
type EntityDocument struct {
	DocumentID   string            `json:"document_id"`
	RequestID    string            `json:"request_id"`
	EntityID     string            `json:"entity_id"`
	Type         string            `json:"type"`
	Subtype      string            `json:"subtype,omitempty"`
	Text         string            `json:"text"`
	Confidence   float64           `json:"confidence"`
	Provenance   string            `json:"provenance"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
	SpanStart    int               `json:"span_start"`
	SpanEnd      int               `json:"span_end"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Mode         string            `json:"mode"`
	IndexedAt    time.Time         `json:"indexed_at"`
}

// BulkItemError describes one rejected document.
type BulkItemError struct {
	DocID     string `json:"doc_id"`
	ErrorType string `json:"error_type"`
	Reason    string `json:"reason"`
}

// BulkResult summarises a bulk indexing run.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// EntityIndexer makes extracted entities searchable.
type EntityIndexer struct {
	client *Client
	config IndexerConfig
	logger logging.Logger
	now    func() time.Time
}

func NewEntityIndexer(client *Client, cfg IndexerConfig, logger logging.Logger) *EntityIndexer {
	if cfg.Index == "" {
		cfg.Index = DefaultEntityIndex
	}
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	return &EntityIndexer{
		client: client,
		config: cfg,
		logger: logging.OrNop(logger).Named("entity-indexer"),
		now:    time.Now,
	}
}

// Index returns the target index name.
func (i *EntityIndexer) Index() string { return i.config.Index }

// EntityIndexMapping is the mapping created by EnsureIndex.
func EntityIndexMapping(shards, replicas int) map[string]any {
	keyword := map[string]any{"type": "keyword"}
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"document_id":  keyword,
				"request_id":   keyword,
				"entity_id":    keyword,
				"type":         keyword,
				"subtype":      keyword,
				"provenance":   keyword,
				"jurisdiction": keyword,
				"mode":         keyword,
				"text": map[string]any{
					"type":   "text",
					"fields": map[string]any{"raw": keyword},
				},
				"confidence": map[string]any{"type": "float"},
				"span_start": map[string]any{"type": "integer"},
				"span_end":   map[string]any{"type": "integer"},
				"attributes": map[string]any{"type": "flattened"},
				"indexed_at": map[string]any{"type": "date"},
			},
		},
	}
}

// IndexExists checks if the entity index exists.
func (i *EntityIndexer) IndexExists(ctx context.Context) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{i.config.Index}}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeExternalService, "failed to check index existence")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	}
	return false, i.handleErrorResponse(resp, ErrIndexCreationFailed)
}

// EnsureIndex creates the entity index when it is missing.
func (i *EntityIndexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.IndexExists(ctx)
	if err != nil || exists {
		return err
	}
	body, err := json.Marshal(EntityIndexMapping(i.config.Shards, i.config.Replicas))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	req := opensearchapi.IndicesCreateRequest{Index: i.config.Index, Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create index")
	}
	defer resp.Body.Close()

	// A concurrent creator wins the race; that is still success.
	if resp.StatusCode == 400 {
		raw, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(raw), "resource_already_exists_exception") {
			return nil
		}
		return ErrIndexCreationFailed.WithDetail(string(raw))
	}
	if resp.IsError() {
		return i.handleErrorResponse(resp, ErrIndexCreationFailed)
	}
	i.logger.Info("entity index created", logging.String("index", i.config.Index))
	return nil
}

// DocumentsFor converts one extraction result into search documents.
func (i *EntityIndexer) DocumentsFor(documentID, requestID string, mode common.Mode, entities []common.Entity) []EntityDocument {
	now := i.now().UTC()
	docs := make([]EntityDocument, 0, len(entities))
	for _, e := range entities {
		docs = append(docs, EntityDocument{
			DocumentID:   documentID,
			RequestID:    requestID,
			EntityID:     e.ID,
			Type:         string(e.Type),
			Subtype:      e.Subtype,
			Text:         e.Text,
			Confidence:   e.Confidence,
			Provenance:   string(e.Provenance),
			Jurisdiction: e.Jurisdiction,
			SpanStart:    e.Span.Start,
			SpanEnd:      e.Span.End,
			Attributes:   e.Attributes,
			Mode:         string(mode),
			IndexedAt:    now,
		})
	}
	return docs
}

// IndexEntities bulk-indexes the entities of one document. Document IDs are
// "<document_id>/<entity_id>" so reindexing a document overwrites in place.
func (i *EntityIndexer) IndexEntities(ctx context.Context, documentID, requestID string, mode common.Mode, entities []common.Entity) (*BulkResult, error) {
	return i.BulkIndex(ctx, i.DocumentsFor(documentID, requestID, mode, entities))
}

// BulkIndex writes docs in batches of BulkBatchSize.
func (i *EntityIndexer) BulkIndex(ctx context.Context, docs []EntityDocument) (*BulkResult, error) {
	result := &BulkResult{}
	for start := 0; start < len(docs); start += i.config.BulkBatchSize {
		end := start + i.config.BulkBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := i.bulkBatch(ctx, docs[start:end], result); err != nil {
			return result, err
		}
	}
	if result.Failed > 0 {
		i.logger.Warn("bulk index completed with failures",
			logging.Int("total", len(docs)),
			logging.Int("succeeded", result.Succeeded),
			logging.Int("failed", result.Failed))
	} else {
		i.logger.Debug("bulk index completed", logging.Int("total", len(docs)))
	}
	return result, nil
}

func (i *EntityIndexer) bulkBatch(ctx context.Context, batch []EntityDocument, result *BulkResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range batch {
		id := d.DocumentID + "/" + d.EntityID
		meta := map[string]any{"index": map[string]any{"_index": i.config.Index, "_id": id}}
		if err := enc.Encode(meta); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk metadata")
		}
		if err := enc.Encode(d); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{DocID: id, ErrorType: "serialization_error", Reason: err.Error()})
			continue
		}
	}

	req := opensearchapi.BulkRequest{Body: bytes.NewReader(buf.Bytes()), Refresh: i.config.RefreshPolicy}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return ErrBulkFailed.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		result.Failed += len(batch)
		err := i.handleErrorResponse(resp, ErrBulkFailed)
		result.Errors = append(result.Errors, BulkItemError{DocID: "batch_error", ErrorType: "http_error", Reason: err.Error()})
		return nil
	}

	type itemInfo struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	var bulkResp struct {
		Errors bool                  `json:"errors"`
		Items  []map[string]itemInfo `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}
	for _, item := range bulkResp.Items {
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{DocID: info.ID, ErrorType: info.Error.Type, Reason: info.Error.Reason})
			}
		}
	}
	return nil
}

// DeleteDocument removes every entity indexed for documentID.
func (i *EntityIndexer) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	body, _ := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"document_id": documentID}},
	})
	req := opensearchapi.DeleteByQueryRequest{Index: []string{i.config.Index}, Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, i.client.GetClient())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeExternalService, "delete by query failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return 0, i.handleErrorResponse(resp, errors.New(errors.ErrCodeExternalService, "delete by query failed"))
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode delete response")
	}
	return out.Deleted, nil
}

func (i *EntityIndexer) handleErrorResponse(resp *opensearchapi.Response, defaultErr *errors.AppError) error {
	var errResp struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error.Reason != "" {
		return defaultErr.WithDetail(errResp.Error.Type + ": " + errResp.Error.Reason)
	}
	return defaultErr.WithDetail("status " + resp.Status())
}

//Personal.AI order the ending
