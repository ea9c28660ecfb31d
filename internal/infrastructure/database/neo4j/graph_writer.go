package neo4j

import (
	"context"
	"fmt"
	"sort"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

const (
	mergeDocumentCypher = `MERGE (d:Document {id: $document_id})
SET d.request_id = $request_id, d.mode = $mode, d.updated_at = datetime()`

	mergeEntitiesCypher = `MATCH (d:Document {id: $document_id})
UNWIND $entities AS e
MERGE (n:LegalEntity {id: e.id})
SET n.type = e.type, n.text = e.text, n.confidence = e.confidence,
    n.provenance = e.provenance, n.span_start = e.span_start, n.span_end = e.span_end,
    n.jurisdiction = e.jurisdiction
MERGE (d)-[:MENTIONS]->(n)`

	// Relationship types cannot be parameters; the label comes from the
	// closed RelationshipType set only.
	mergeRelationshipsCypher = `UNWIND $relationships AS r
MATCH (s:LegalEntity {id: r.source_id})
MATCH (t:LegalEntity {id: r.target_id})
MERGE (s)-[x:%s]->(t)
SET x.confidence = r.confidence, x.origin = r.origin, x.document_id = $document_id`

	deleteDocumentCypher = `MATCH (d:Document {id: $document_id})
OPTIONAL MATCH (d)-[:MENTIONS]->(n:LegalEntity)
DETACH DELETE n, d`
)

// GraphWriter persists extraction results as a document graph: one Document
// node, a LegalEntity node per entity and one typed edge per relationship.
type GraphWriter struct {
	driver DriverInterface
	logger logging.Logger
}

func NewGraphWriter(driver DriverInterface, log logging.Logger) *GraphWriter {
	return &GraphWriter{driver: driver, logger: logging.OrNop(log).Named("graph-writer")}
}

// GraphDocument is the unit written by WriteDocument.
type GraphDocument struct {
	DocumentID    string
	RequestID     string
	Mode          common.Mode
	Entities      []common.Entity
	Relationships []common.Relationship
}

// nodeID scopes entity IDs to their document; entity IDs are only unique
// within one result.
func nodeID(documentID, entityID string) string { return documentID + "/" + entityID }

// WriteDocument merges nodes and edges in one transaction, so retrying a
// write is idempotent.
func (w *GraphWriter) WriteDocument(ctx context.Context, doc *GraphDocument) error {
	if doc == nil || doc.DocumentID == "" {
		return errors.New(errors.ErrCodeBadRequest, "document id is required")
	}
	for _, r := range doc.Relationships {
		if !r.Type.Valid() {
			return errors.New(errors.ErrCodeValidation, "unknown relationship type "+string(r.Type))
		}
	}

	entities := make([]map[string]any, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		entities = append(entities, map[string]any{
			"id":           nodeID(doc.DocumentID, e.ID),
			"type":         string(e.Type),
			"text":         e.Text,
			"confidence":   e.Confidence,
			"provenance":   string(e.Provenance),
			"span_start":   int64(e.Span.Start),
			"span_end":     int64(e.Span.End),
			"jurisdiction": e.Jurisdiction,
		})
	}
	byType := map[common.RelationshipType][]map[string]any{}
	for _, r := range doc.Relationships {
		byType[r.Type] = append(byType[r.Type], map[string]any{
			"source_id":  nodeID(doc.DocumentID, r.SourceID),
			"target_id":  nodeID(doc.DocumentID, r.TargetID),
			"confidence": r.Confidence,
			"origin":     r.Origin,
		})
	}
	types := make([]common.RelationshipType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	_, err := w.driver.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		params := map[string]any{
			"document_id": doc.DocumentID,
			"request_id":  doc.RequestID,
			"mode":        string(doc.Mode),
		}
		if err := run(ctx, tx, mergeDocumentCypher, params); err != nil {
			return nil, err
		}
		if len(entities) > 0 {
			if err := run(ctx, tx, mergeEntitiesCypher, map[string]any{
				"document_id": doc.DocumentID,
				"entities":    entities,
			}); err != nil {
				return nil, err
			}
		}
		for _, t := range types {
			if err := run(ctx, tx, fmt.Sprintf(mergeRelationshipsCypher, t), map[string]any{
				"document_id":   doc.DocumentID,
				"relationships": byType[t],
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	w.logger.Debug("document graph written",
		logging.String("document_id", doc.DocumentID),
		logging.Int("entities", len(entities)),
		logging.Int("relationships", len(doc.Relationships)))
	return nil
}

// DeleteDocument removes a document node and the entities it mentions.
func (w *GraphWriter) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := w.driver.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		return nil, run(ctx, tx, deleteDocumentCypher, map[string]any{"document_id": documentID})
	})
	return err
}

// CountEntities returns how many entities a stored document mentions.
func (w *GraphWriter) CountEntities(ctx context.Context, documentID string) (int64, error) {
	res, err := w.driver.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (:Document {id: $document_id})-[:MENTIONS]->(n) RETURN count(n) AS c`,
			map[string]any{"document_id": documentID})
		if err != nil {
			return nil, err
		}
		counts, err := CollectRecords(ctx, result, func(r *neo4jRecord) (int64, error) {
			v, ok := r.Get("c")
			if !ok {
				return 0, fmt.Errorf("count missing")
			}
			n, _ := v.(int64)
			return n, nil
		})
		if err != nil || len(counts) == 0 {
			return int64(0), err
		}
		return counts[0], nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func run(ctx context.Context, tx Transaction, cypher string, params map[string]any) error {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

//Personal.AI order the ending
