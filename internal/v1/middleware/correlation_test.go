package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Correlation())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCorrelationEchoesCallerID(t *testing.T) {
	router := newRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "caller-supplied")
	router.ServeHTTP(w, req)

	assert.Equal(t, "caller-supplied", w.Header().Get(HeaderCorrelationID))
}

func TestCorrelationMintsID(t *testing.T) {
	router := newRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	minted := w.Header().Get(HeaderCorrelationID)
	require.NotEmpty(t, minted)
	_, err := uuid.Parse(minted)
	assert.NoError(t, err)
}
