package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/assets"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

type fakeCatalog struct {
	page        *assets.Page
	suggestions []string
	playlist    []types.Video
	embeddable  map[string]bool
	err         error

	lastQuery        string
	lastContinuation string
	lastVideoID      string
	lastPlaylist     string
}

func (f *fakeCatalog) Search(_ context.Context, query, continuation string) (*assets.Page, error) {
	f.lastQuery, f.lastContinuation = query, continuation
	return f.page, f.err
}

func (f *fakeCatalog) Suggestions(_ context.Context, query string) ([]string, error) {
	f.lastQuery = query
	return f.suggestions, f.err
}

func (f *fakeCatalog) ExpandPlaylist(_ context.Context, ref string) ([]types.Video, error) {
	f.lastPlaylist = ref
	return f.playlist, f.err
}

func (f *fakeCatalog) Related(_ context.Context, videoID, continuation string) (*assets.Page, error) {
	f.lastVideoID, f.lastContinuation = videoID, continuation
	return f.page, f.err
}

func (f *fakeCatalog) IsEmbeddable(_ context.Context, videoID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.embeddable[videoID], nil
}

func newTestRouter(catalog *fakeCatalog) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(catalog).Register(router.Group("/api"))
	return router
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return decoded
}

func TestSearch(t *testing.T) {
	catalog := &fakeCatalog{page: &assets.Page{
		Videos:       []types.Video{{ID: "v1", Title: "first"}},
		Continuation: "cursor-1",
	}}
	router := newTestRouter(catalog)

	w := post(router, "/api/search", `{"query":"cats"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cats", catalog.lastQuery)

	body := decodeBody(t, w)
	assert.Equal(t, "cursor-1", body["continuation"])
	assert.Len(t, body["videos"], 1)
}

func TestSearchValidation(t *testing.T) {
	router := newTestRouter(&fakeCatalog{})

	w := post(router, "/api/search", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(router, "/api/search", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchContinuationOnly(t *testing.T) {
	catalog := &fakeCatalog{page: &assets.Page{}}
	router := newTestRouter(catalog)

	w := post(router, "/api/search", `{"continuation":"cursor-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cursor-1", catalog.lastContinuation)
}

func TestSearchBadCursor(t *testing.T) {
	router := newTestRouter(&fakeCatalog{err: assets.ErrBadCursor})
	w := post(router, "/api/search", `{"continuation":"expired"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUpstreamFailure(t *testing.T) {
	router := newTestRouter(&fakeCatalog{err: errors.New("boom")})
	w := post(router, "/api/search", `{"query":"cats"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSuggestions(t *testing.T) {
	catalog := &fakeCatalog{suggestions: []string{"cat videos"}}
	router := newTestRouter(catalog)

	w := post(router, "/api/suggestions", `{"query":"cat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"cat videos"}, decodeBody(t, w)["suggestions"])

	w = post(router, "/api/suggestions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuggestionsNeverNull(t *testing.T) {
	router := newTestRouter(&fakeCatalog{})
	w := post(router, "/api/suggestions", `{"query":"cat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decodeBody(t, w)["suggestions"])
}

func TestPlaylist(t *testing.T) {
	catalog := &fakeCatalog{playlist: []types.Video{{ID: "p1"}, {ID: "p2"}}}
	router := newTestRouter(catalog)

	w := post(router, "/api/playlist", `{"playlistUrlOrId":"PLxyz"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PLxyz", catalog.lastPlaylist)
	assert.Len(t, decodeBody(t, w)["videos"], 2)

	w = post(router, "/api/playlist", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelated(t *testing.T) {
	catalog := &fakeCatalog{page: &assets.Page{Videos: []types.Video{{ID: "r1"}}}}
	router := newTestRouter(catalog)

	w := post(router, "/api/related", `{"videoId":"subject"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "subject", catalog.lastVideoID)

	w = post(router, "/api/related", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckEmbeddable(t *testing.T) {
	catalog := &fakeCatalog{embeddable: map[string]bool{"ok": true}}
	router := newTestRouter(catalog)

	w := post(router, "/api/check-embeddable", `{"videoIds":["ok","blocked"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	results := decodeBody(t, w)["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "ok", first["videoId"])
	assert.Equal(t, true, first["canEmbed"])
	second := results[1].(map[string]any)
	assert.Equal(t, false, second["canEmbed"])

	w = post(router, "/api/check-embeddable", `{"videoIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
