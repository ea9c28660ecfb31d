package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// StageCache is the subset of the Redis cache the stage cache needs. Any Get
// error is treated as a miss.
type StageCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DefaultCacheTTL bounds how long a stage response is reused.
const DefaultCacheTTL = 24 * time.Hour

// CachedBackend memoises stage responses keyed by request content and
// collapses concurrent identical requests into one backend call.
type CachedBackend struct {
	next    common.ModelBackend
	cache   StageCache
	ttl     time.Duration
	group   singleflight.Group
	logger  logging.Logger
	metrics common.ExtractionMetrics
}

// NewCachedBackend wraps next. A zero ttl uses DefaultCacheTTL.
func NewCachedBackend(next common.ModelBackend, cache StageCache, ttl time.Duration, logger logging.Logger, metrics common.ExtractionMetrics) *CachedBackend {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if metrics == nil {
		metrics = common.NewNoopExtractionMetrics()
	}
	return &CachedBackend{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		logger:  logging.OrNop(logger).Named("stage-cache"),
		metrics: metrics,
	}
}

// CacheKey derives the cache key of req. The timeout budget is excluded.
func CacheKey(req *common.StageRequest) (string, error) {
	keyed := *req
	keyed.TimeoutMs = 0
	raw, err := json.Marshal(&keyed)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "stage:" + string(req.Stage) + ":" + hex.EncodeToString(sum[:]), nil
}

// RunStage serves from cache when possible. Failed calls are never cached.
func (c *CachedBackend) RunStage(ctx context.Context, req *common.StageRequest) (*common.StageResponse, error) {
	key, err := CacheKey(req)
	if err != nil {
		return c.next.RunStage(ctx, req)
	}

	var cached common.StageResponse
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		c.metrics.RecordCacheAccess(ctx, true, req.Stage)
		return &cached, nil
	}
	c.metrics.RecordCacheAccess(ctx, false, req.Stage)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The flight is shared, so it must outlive any single caller.
		sctx, cancel := sharedContext(ctx, req)
		defer cancel()
		resp, err := c.next.RunStage(sctx, req)
		if err != nil {
			return nil, err
		}
		if verr := resp.Validate(len(req.DocumentText)); verr == nil {
			if serr := c.cache.Set(context.WithoutCancel(ctx), key, resp, c.ttl); serr != nil {
				c.logger.Warn("stage cache write failed", logging.Stage(string(req.Stage)), logging.Err(serr))
			}
		}
		return resp, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return cloneResponse(r.Val.(*common.StageResponse)), nil
	}
}

// sharedContext detaches from the caller's cancellation and bounds the call
// by the request's own timeout budget.
func sharedContext(ctx context.Context, req *common.StageRequest) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if req.TimeoutMs > 0 {
		return context.WithTimeout(detached, time.Duration(req.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(detached)
}

// Close closes the wrapped backend.
func (c *CachedBackend) Close() error { return c.next.Close() }

// Probe forwards to the wrapped backend when it is a prober.
func (c *CachedBackend) Probe(ctx context.Context) common.ProbeResult {
	if p, ok := c.next.(common.HealthProber); ok {
		return p.Probe(ctx)
	}
	return common.ProbeResult{Status: common.ProbeUnreachable, Detail: "backend cannot be probed"}
}

// cloneResponse gives every singleflight waiter its own copy.
func cloneResponse(r *common.StageResponse) *common.StageResponse {
	out := &common.StageResponse{
		Entities:      append([]common.EntityProposal(nil), r.Entities...),
		Relationships: append([]common.RelationshipProposal(nil), r.Relationships...),
		Annotations:   append([]string(nil), r.Annotations...),
	}
	return out
}

//Personal.AI order the ending
