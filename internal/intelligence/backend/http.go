/*
 * http.go 推理后端 HTTP 客户端：每个增强阶段一次 POST /v1/stages/{stage}，健康探测 GET /v1/health。
 * 任何非 2xx、解码失败或字段不符都作为阶段失败返回，由编排器统一降级处理。
 */

// Package backend holds the inference backend clients used by the
// enhancement orchestrator and the mode controller.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

const (
	stagePath  = "/v1/stages/"
	healthPath = "/v1/health"

	maxResponseBytes = 8 << 20
)

// HTTPConfig configures the HTTP inference backend.
type HTTPConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	APIKey  string `mapstructure:"api_key" json:"-"`
	// Timeout caps a single HTTP exchange; stage deadlines usually fire first.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// RequestsPerSecond throttles outgoing stage calls. Zero disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst"`
	UserAgent         string  `mapstructure:"user_agent" json:"user_agent"`
}

// HTTPBackend implements common.ModelBackend and common.HealthProber.
type HTTPBackend struct {
	base    *url.URL
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
}

// HTTPOption customises an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		if c != nil {
			b.client = c
		}
	}
}

// NewHTTPBackend validates cfg and creates the client.
func NewHTTPBackend(cfg HTTPConfig, logger logging.Logger, opts ...HTTPOption) (*HTTPBackend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, stderrors.New("backend: base_url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend: invalid base_url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lexextract"
	}
	b := &HTTPBackend{
		base:   base,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger).Named("backend"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// RunStage posts one stage request.
func (b *HTTPBackend) RunStage(ctx context.Context, req *common.StageRequest) (*common.StageResponse, error) {
	if req == nil {
		return nil, common.ErrStageBackend.WithDetail("nil request")
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The limiter refuses waits that would outlast the deadline.
			return nil, common.ErrStageTimeout.WithCause(err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, common.ErrStageBackend.WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(stagePath+url.PathEscape(string(req.Stage))), bytes.NewReader(body))
	if err != nil {
		return nil, common.ErrStageBackend.WithCause(err)
	}
	b.decorate(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.TimeoutMs > 0 {
		httpReq.Header.Set("X-Request-Timeout-Ms", strconv.FormatInt(req.TimeoutMs, 10))
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.ErrBackendUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, common.ErrStageBackend.WithDetail(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	dec.DisallowUnknownFields()
	var out common.StageResponse
	if err := dec.Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.ErrInvalidResponse.WithCause(err)
	}
	b.logger.Debug("stage call",
		logging.Stage(string(req.Stage)),
		logging.Int("entities", len(req.Entities)),
		logging.Duration("took", time.Since(start)))
	return &out, nil
}

type healthBody struct {
	Status           string `json:"status"`
	StructuredOutput *bool  `json:"structured_output"`
}

// Probe checks /v1/health. A reachable service that reports a degraded
// status or no structured-output support is Degraded.
func (b *HTTPBackend) Probe(ctx context.Context) common.ProbeResult {
	start := time.Now()
	result := func(s common.ProbeStatus, detail string) common.ProbeResult {
		return common.ProbeResult{Status: s, Detail: detail, Latency: time.Since(start)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint(healthPath), nil)
	if err != nil {
		return result(common.ProbeUnreachable, err.Error())
	}
	b.decorate(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return result(common.ProbeUnreachable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result(common.ProbeUnreachable, fmt.Sprintf("status %d", resp.StatusCode))
	}
	var hb healthBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&hb); err != nil {
		return result(common.ProbeDegraded, "unreadable health body")
	}
	switch {
	case strings.EqualFold(hb.Status, "degraded"):
		return result(common.ProbeDegraded, "reported degraded")
	case hb.StructuredOutput != nil && !*hb.StructuredOutput:
		return result(common.ProbeDegraded, "structured output unsupported")
	}
	return result(common.ProbeHealthy, "")
}

// Close releases idle connections.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) endpoint(path string) string {
	return b.base.String() + path
}

func (b *HTTPBackend) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.cfg.UserAgent)
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
}

//Personal.AI order the ending
