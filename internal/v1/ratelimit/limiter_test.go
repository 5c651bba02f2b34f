package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New("lots", nil)
	assert.Error(t, err)
}

func TestMiddlewareEnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := New("2-M", nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		router.ServeHTTP(w, req)
		return w
	}

	first := do()
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusTooManyRequests, do().Code)
}

func TestMiddlewareKeysByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := New("1-M", nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1111"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:2222"), "a different client has its own budget")
}

func TestCheckWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := New("1-M", nil)
	require.NoError(t, err)

	check := func() (bool, *httptest.ResponseRecorder) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)
		c.Request.RemoteAddr = "10.1.2.3:5000"
		return rl.CheckWebSocket(c), w
	}

	ok, _ := check()
	assert.True(t, ok)

	ok, w := check()
	assert.False(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
