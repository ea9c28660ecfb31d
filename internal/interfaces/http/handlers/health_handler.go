// 健康检查 HTTP Handler：
//   - Liveness 不检查外部依赖，仅确认进程存活
//   - Readiness 检查模式库是否已加载以及各下游组件（Redis、Neo4j、OpenSearch、MinIO），任一失败返回 503
//   - 推理后端不可用不影响就绪状态：服务以 RulesOnly 模式继续提供抽取
//   - Detailed 返回每个组件的延迟与状态以及当前运行模式

package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/mode"
)

// HealthChecker is an interface for components that can report their health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.ComponentName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// LibraryChecker fails while the active pattern library is empty.
func LibraryChecker(size func() int) HealthChecker {
	return CheckerFunc{ComponentName: "patterns", Fn: func(context.Context) error {
		if size() == 0 {
			return errors.New("pattern library is empty")
		}
		return nil
	}}
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	checkers []HealthChecker
	modes    func() mode.Snapshot
	version  string
	startAt  time.Time
}

// NewHealthHandler creates a new HealthHandler. modes may be nil.
func NewHealthHandler(version string, modes func() mode.Snapshot, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		modes:    modes,
		version:  version,
		startAt:  time.Now(),
	}
}

// LivenessResponse is the response for liveness probe.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the response for readiness probe.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Mode       string                    `json:"mode,omitempty"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// ComponentCheck represents the health status of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Readiness handles GET /readyz. Returns 200 if all components are healthy,
// 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := h.checkAll(ctx)
	resp := ReadinessResponse{Status: "ready", Components: components}
	if h.modes != nil {
		resp.Mode = string(h.modes().Mode)
	}
	if !allHealthy(components) {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Detailed handles GET /healthz/detail.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	components := h.checkAll(ctx)

	type DetailedResponse struct {
		Status     string                    `json:"status"`
		Version    string                    `json:"version"`
		Uptime     string                    `json:"uptime"`
		Mode       *mode.Snapshot            `json:"mode,omitempty"`
		Components map[string]ComponentCheck `json:"components"`
	}

	resp := DetailedResponse{
		Status:     "healthy",
		Version:    h.version,
		Uptime:     time.Since(h.startAt).Truncate(time.Second).String(),
		Components: components,
	}
	if h.modes != nil {
		snap := h.modes()
		resp.Mode = &snap
	}

	code := http.StatusOK
	if !allHealthy(components) {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func allHealthy(components map[string]ComponentCheck) bool {
	for _, c := range components {
		if c.Status != "healthy" {
			return false
		}
	}
	return true
}

// checkAll runs all health checkers concurrently and returns results.
func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			latency := time.Since(start)

			cc := ComponentCheck{
				Status:  "healthy",
				Latency: latency.Truncate(time.Microsecond).String(),
			}
			if err != nil {
				cc.Status = "unhealthy"
				cc.Error = err.Error()
			}

			mu.Lock()
			results[c.Name()] = cc
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

//Personal.AI order the ending
