// Package assets adapts the external video catalog. The core only depends
// on the embeddability probe and playlist expansion; the HTTP surface also
// uses search, suggestions and related lookups.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	// requestTimeout is the hard ceiling on any upstream call.
	requestTimeout = 8 * time.Second

	// embedCacheTTL is how long a probe verdict stays cached.
	embedCacheTTL = 15 * 24 * time.Hour
	// embedKeyPrefix namespaces cached probe verdicts in the shared store.
	embedKeyPrefix = "youtube_embed_status:"

	// unplayableMarker appears in the embed page body when playback is
	// disabled for embedding.
	unplayableMarker = "UNPLAYABLE"

	// playlistMax bounds playlist expansion.
	playlistMax = 200

	// cursorTTL is the lifetime of a pagination cursor.
	cursorTTL = 5 * time.Minute
	// searchCursorPrefix and relatedCursorPrefix namespace pagination
	// state in the shared store.
	searchCursorPrefix  = "search-instance:"
	relatedCursorPrefix = "related-instance:"
)

// ErrBadCursor means a continuation token is unknown or expired.
var ErrBadCursor = errors.New("unknown or expired continuation token")

// Page is one page of catalog results plus the token for the next one.
// An empty Continuation means the listing is exhausted.
type Page struct {
	Videos       []types.Video `json:"videos"`
	Continuation string        `json:"continuation,omitempty"`
}

// YouTube talks to the public YouTube surfaces: the embed page for the
// playability probe and the innertube API for search, playlists and
// related videos. Pagination cursors live in the shared store so any
// instance can serve the next page.
type YouTube struct {
	http  *http.Client
	store *store.Service

	// Upstream bases, overridable in tests.
	embedBase   string
	apiBase     string
	suggestBase string
}

// NewYouTube builds the adapter on top of the shared state store.
func NewYouTube(s *store.Service) *YouTube {
	return &YouTube{
		http:        &http.Client{Timeout: requestTimeout},
		store:       s,
		embedBase:   "https://www.youtube.com/embed/",
		apiBase:     innertubeBase,
		suggestBase: suggestionsURL,
	}
}

// IsEmbeddable reports whether the video may be played in an embedded
// context. Verdicts are cached; a probe that cannot complete reports
// false without poisoning the cache.
func (yt *YouTube) IsEmbeddable(ctx context.Context, videoID string) (bool, error) {
	key := embedKeyPrefix + videoID
	if cached, ok, err := yt.store.Get(ctx, key); err == nil && ok {
		return cached == "true", nil
	}

	embeddable, probeErr := yt.probeEmbed(ctx, videoID)
	if probeErr != nil {
		logging.Warn(ctx, "Embed probe failed, treating as not embeddable",
			zap.String("video_id", videoID), zap.Error(probeErr))
		return false, nil
	}

	verdict := "false"
	if embeddable {
		verdict = "true"
	}
	if err := yt.store.Set(ctx, key, verdict, embedCacheTTL); err != nil {
		logging.Warn(ctx, "Could not cache embed verdict", zap.String("video_id", videoID), zap.Error(err))
	}
	return embeddable, nil
}

func (yt *YouTube) probeEmbed(ctx context.Context, videoID string) (bool, error) {
	url := yt.embedBase + videoID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := yt.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return false, err
	}
	return !strings.Contains(string(body), unplayableMarker), nil
}

// ExpandPlaylist resolves a playlist URL or id into its entries, capped at
// 200. Pages beyond the cap are not fetched.
func (yt *YouTube) ExpandPlaylist(ctx context.Context, ref string) ([]types.Video, error) {
	playlistID := extractPlaylistID(ref)
	if playlistID == "" {
		return nil, fmt.Errorf("not a playlist reference: %q", ref)
	}

	videos, continuation, err := yt.browsePlaylist(ctx, playlistID, "")
	if err != nil {
		return nil, err
	}
	for continuation != "" && len(videos) < playlistMax {
		var page []types.Video
		page, continuation, err = yt.browsePlaylist(ctx, playlistID, continuation)
		if err != nil {
			return nil, err
		}
		videos = append(videos, page...)
	}
	if len(videos) > playlistMax {
		videos = videos[:playlistMax]
	}
	return videos, nil
}

// Search returns one page of results for query. A non-empty continuation
// resumes a previous search; the returned continuation, when set, fetches
// the page after this one.
func (yt *YouTube) Search(ctx context.Context, query, continuation string) (*Page, error) {
	var body map[string]any
	if continuation != "" {
		token, err := yt.resolveCursor(ctx, searchCursorPrefix, continuation)
		if err != nil {
			return nil, err
		}
		body = map[string]any{"continuation": token}
	} else {
		body = map[string]any{"query": query}
	}

	raw, err := yt.innertube(ctx, "search", body)
	if err != nil {
		return nil, err
	}
	videos, next := extractVideos(raw)
	return yt.buildPage(ctx, searchCursorPrefix, videos, next)
}

// Related returns one page of videos related to videoID, with the same
// continuation contract as Search.
func (yt *YouTube) Related(ctx context.Context, videoID, continuation string) (*Page, error) {
	var body map[string]any
	if continuation != "" {
		token, err := yt.resolveCursor(ctx, relatedCursorPrefix, continuation)
		if err != nil {
			return nil, err
		}
		body = map[string]any{"continuation": token}
	} else {
		body = map[string]any{"videoId": videoID}
	}

	raw, err := yt.innertube(ctx, "next", body)
	if err != nil {
		return nil, err
	}
	videos, next := extractVideos(raw)
	// The watch-next feed repeats the subject video; callers want neighbors.
	filtered := videos[:0]
	for _, v := range videos {
		if v.ID != videoID {
			filtered = append(filtered, v)
		}
	}
	return yt.buildPage(ctx, relatedCursorPrefix, filtered, next)
}

// Suggestions returns query completions for a partial search string.
func (yt *YouTube) Suggestions(ctx context.Context, query string) ([]string, error) {
	return yt.fetchSuggestions(ctx, query)
}

// buildPage mints an opaque cursor for the upstream continuation, if any,
// so the raw upstream token never reaches clients.
func (yt *YouTube) buildPage(ctx context.Context, prefix string, videos []types.Video, upstream string) (*Page, error) {
	page := &Page{Videos: videos}
	if upstream == "" {
		return page, nil
	}
	token := uuid.NewString()
	if err := yt.store.Set(ctx, prefix+token, upstream, cursorTTL); err != nil {
		// A lost cursor just means no next page; the current page is fine.
		logging.Warn(ctx, "Could not persist pagination cursor", zap.Error(err))
		return page, nil
	}
	page.Continuation = token
	return page, nil
}

func (yt *YouTube) resolveCursor(ctx context.Context, prefix, token string) (string, error) {
	upstream, ok, err := yt.store.Get(ctx, prefix+token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrBadCursor
	}
	return upstream, nil
}

// extractPlaylistID accepts a bare playlist id or any URL carrying a
// list= parameter.
func extractPlaylistID(ref string) string {
	if !strings.Contains(ref, "/") && !strings.Contains(ref, "?") {
		return ref
	}
	marker := "list="
	idx := strings.Index(ref, marker)
	if idx < 0 {
		return ""
	}
	id := ref[idx+len(marker):]
	if amp := strings.IndexAny(id, "&#"); amp >= 0 {
		id = id[:amp]
	}
	return id
}
