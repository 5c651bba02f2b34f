package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func serve(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health/live", h.Liveness)
	router.GET("/health/ready", h.Readiness)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLiveness(t *testing.T) {
	router := serve(NewHandler(&fakePinger{err: errors.New("down")}, nil))

	// Liveness ignores dependency state entirely.
	w := get(router, "/health/live")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestReadinessAllHealthy(t *testing.T) {
	router := serve(NewHandler(&fakePinger{}, &fakePinger{}))

	w := get(router, "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["redis"])
	assert.Equal(t, "healthy", resp.Checks["mongodb"])
}

func TestReadinessWithoutDurableStore(t *testing.T) {
	router := serve(NewHandler(&fakePinger{}, nil))

	w := get(router, "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Checks, "mongodb")
}

func TestReadinessDependencyDown(t *testing.T) {
	router := serve(NewHandler(&fakePinger{err: errors.New("connection refused")}, &fakePinger{}))

	w := get(router, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["redis"])
	assert.Equal(t, "healthy", resp.Checks["mongodb"])
}
