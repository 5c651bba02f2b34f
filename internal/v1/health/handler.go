// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
)

// Pinger is any dependency that can answer a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	// Nil checks are skipped: a process running without the durable store
	// is still ready.
	state   Pinger
	durable Pinger
}

// NewHandler wires the probes against the shared state store and the
// optional durable store.
func NewHandler(state, durable Pinger) *Handler {
	return &Handler{state: state, durable: durable}
}

// LivenessResponse is the liveness probe payload.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 whenever the process is
// alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only while every
// configured dependency answers, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis": h.check(ctx, "redis", h.state),
	}
	if h.durable != nil {
		checks["mongodb"] = h.check(ctx, "mongodb", h.durable)
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) check(ctx context.Context, name string, dep Pinger) string {
	if dep == nil {
		return "healthy"
	}
	if err := dep.Ping(ctx); err != nil {
		logging.Error(ctx, "Dependency health check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
