package client

import (
	"context"
	"net/url"
	"time"
)

// ExtractOptions are per-request extraction settings.
type ExtractOptions struct {
	ConfidenceThreshold float64       `json:"confidence_threshold,omitempty"`
	JurisdictionHint    string        `json:"jurisdiction_hint,omitempty"`
	EnabledStages       []string      `json:"enabled_stages,omitempty"`
	Deadline            time.Duration `json:"deadline,omitempty"`
}

// ExtractRequest is the body of POST /api/v1/extract.
type ExtractRequest struct {
	DocumentID string         `json:"document_id,omitempty"`
	Text       string         `json:"text"`
	Options    ExtractOptions `json:"options"`
}

// Span is a half-open byte range in the submitted text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Entity struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Subtype      string            `json:"subtype,omitempty"`
	Text         string            `json:"text"`
	OriginalText string            `json:"original_text"`
	Span         Span              `json:"span"`
	Confidence   float64           `json:"confidence"`
	Provenance   string            `json:"provenance"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Annotations  []string          `json:"annotations,omitempty"`
	Nested       bool              `json:"nested,omitempty"`
	ContainerID  string            `json:"container_id,omitempty"`
	PatternID    string            `json:"pattern_id,omitempty"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
}

type Relationship struct {
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Type       string            `json:"type"`
	Confidence float64           `json:"confidence"`
	Evidence   Span              `json:"evidence"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Origin     string            `json:"origin"`
}

type MatchFault struct {
	PatternID string `json:"pattern_id"`
	Reason    string `json:"reason"`
}

// ExtractionResult is the response of POST /api/v1/extract.
type ExtractionResult struct {
	RequestID        string         `json:"request_id"`
	Entities         []Entity       `json:"entities"`
	Relationships    []Relationship `json:"relationships"`
	Mode             string         `json:"mode"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
	Partial          bool           `json:"partial"`
	Annotations      []string       `json:"annotations,omitempty"`
	MatchFaults      []MatchFault   `json:"match_faults,omitempty"`
	PatternCount     int            `json:"pattern_count"`
}

// ModeSnapshot is the response of GET /api/v1/mode.
type ModeSnapshot struct {
	Mode      string    `json:"mode"`
	Since     time.Time `json:"since"`
	LastProbe struct {
		Status  string        `json:"status"`
		Detail  string        `json:"detail,omitempty"`
		Latency time.Duration `json:"latency"`
	} `json:"last_probe"`
	ProbedAt time.Time `json:"probed_at"`
	Breaker  string    `json:"breaker"`
}

// PatternStats is the response of GET /api/v1/patterns.
type PatternStats struct {
	Total          int            `json:"total"`
	ByEntityType   map[string]int `json:"by_entity_type"`
	ByJurisdiction map[string]int `json:"by_jurisdiction"`
	Patterns       []struct {
		ID           string  `json:"id"`
		EntityType   string  `json:"entity_type"`
		Subtype      string  `json:"subtype,omitempty"`
		Jurisdiction string  `json:"jurisdiction,omitempty"`
		Confidence   float64 `json:"confidence"`
		Priority     int     `json:"priority"`
	} `json:"patterns,omitempty"`
}

// Extract submits one document.
func (c *Client) Extract(ctx context.Context, req *ExtractRequest) (*ExtractionResult, error) {
	var res ExtractionResult
	if err := c.post(ctx, "/api/v1/extract", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Mode returns the server's current operating mode.
func (c *Client) Mode(ctx context.Context) (*ModeSnapshot, error) {
	var snap ModeSnapshot
	if err := c.get(ctx, "/api/v1/mode", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Patterns lists the server's active pattern library. Empty filters match
// everything.
func (c *Client) Patterns(ctx context.Context, jurisdiction, entityType string) (*PatternStats, error) {
	q := url.Values{}
	if jurisdiction != "" {
		q.Set("jurisdiction", jurisdiction)
	}
	if entityType != "" {
		q.Set("entity_type", entityType)
	}
	path := "/api/v1/patterns"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var stats PatternStats
	if err := c.get(ctx, path, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

//Personal.AI order the ending
