package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// The unauthenticated innertube API backs search, playlist and related
// lookups. Responses are deeply nested renderer trees whose exact shape
// shifts over time, so extraction walks the tree generically instead of
// binding to a fixed schema.

const (
	innertubeBase     = "https://www.youtube.com/youtubei/v1/"
	innertubeClient   = "WEB"
	innertubeVersion  = "2.20240701.01.00"
	suggestionsURL    = "https://suggestqueries-clients6.youtube.com/complete/search"
	maxResponseBytes  = 8 << 20
	playlistBrowseTag = "VL"
)

func (yt *YouTube) innertube(ctx context.Context, endpoint string, body map[string]any) (map[string]any, error) {
	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    innertubeClient,
				"clientVersion": innertubeVersion,
			},
		},
	}
	for k, v := range body {
		payload[k] = v
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yt.apiBase+endpoint+"?prettyPrint=false", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := yt.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s request: unexpected status %d", endpoint, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return decoded, nil
}

func (yt *YouTube) browsePlaylist(ctx context.Context, playlistID, continuation string) ([]types.Video, string, error) {
	var body map[string]any
	if continuation != "" {
		body = map[string]any{"continuation": continuation}
	} else {
		body = map[string]any{"browseId": playlistBrowseTag + playlistID}
	}
	raw, err := yt.innertube(ctx, "browse", body)
	if err != nil {
		return nil, "", err
	}
	videos, next := extractVideos(raw)
	return videos, next, nil
}

func (yt *YouTube) fetchSuggestions(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("client", "firefox")
	params.Set("ds", "yt")
	params.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yt.suggestBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := yt.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suggestions request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggestions request: unexpected status %d", resp.StatusCode)
	}

	// Response shape: [query, [suggestion, ...], ...]
	var decoded []any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if len(decoded) < 2 {
		return nil, nil
	}
	rawList, ok := decoded[1].([]any)
	if !ok {
		return nil, nil
	}
	suggestions := make([]string, 0, len(rawList))
	for _, entry := range rawList {
		if s, ok := entry.(string); ok {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions, nil
}

// extractVideos walks a renderer tree collecting video entries in document
// order and the first continuation token it encounters.
func extractVideos(root map[string]any) ([]types.Video, string) {
	var videos []types.Video
	var continuation string
	seen := make(map[string]bool)

	var walk func(node any)
	walk = func(node any) {
		switch n := node.(type) {
		case map[string]any:
			for _, key := range []string{"videoRenderer", "compactVideoRenderer", "playlistVideoRenderer"} {
				if renderer, ok := n[key].(map[string]any); ok {
					if v, ok := rendererVideo(renderer); ok && !seen[v.ID] {
						seen[v.ID] = true
						videos = append(videos, v)
					}
				}
			}
			if cmd, ok := n["continuationCommand"].(map[string]any); ok && continuation == "" {
				continuation, _ = cmd["token"].(string)
			}
			for _, child := range n {
				walk(child)
			}
		case []any:
			for _, child := range n {
				walk(child)
			}
		}
	}
	walk(root)
	return videos, continuation
}

func rendererVideo(renderer map[string]any) (types.Video, bool) {
	id, _ := renderer["videoId"].(string)
	if id == "" {
		return types.Video{}, false
	}

	v := types.Video{
		ID:    id,
		Title: rendererText(renderer["title"]),
		URL:   "https://www.youtube.com/watch?v=" + id,
	}

	if formatted := rendererText(renderer["lengthText"]); formatted != "" {
		v.DurationFormatted = formatted
		v.Duration = parseDurationSeconds(formatted)
	}
	if raw, ok := renderer["lengthSeconds"].(string); ok {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			v.Duration = secs
		}
	}
	v.Thumbnail = rendererThumbnail(renderer["thumbnail"])
	for _, ownerKey := range []string{"ownerText", "shortBylineText", "longBylineText"} {
		if name := rendererText(renderer[ownerKey]); name != "" {
			v.ChannelName = name
			break
		}
	}
	if badges, ok := renderer["ownerBadges"].([]any); ok {
		v.IsChannelVerified = hasVerifiedBadge(badges)
	}
	v.UploadedAt = rendererText(renderer["publishedTimeText"])
	if viewText := rendererText(renderer["viewCountText"]); viewText != "" {
		v.Views = parseViews(viewText)
	}
	return v, true
}

// rendererText handles both text shapes the API uses: {"simpleText": s}
// and {"runs": [{"text": s}, ...]}.
func rendererText(node any) string {
	m, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := m["simpleText"].(string); ok {
		return s
	}
	runs, ok := m["runs"].([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, run := range runs {
		if rm, ok := run.(map[string]any); ok {
			if s, ok := rm["text"].(string); ok {
				b.WriteString(s)
			}
		}
	}
	return b.String()
}

// rendererThumbnail picks the largest available thumbnail url.
func rendererThumbnail(node any) string {
	m, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	list, ok := m["thumbnails"].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	last, ok := list[len(list)-1].(map[string]any)
	if !ok {
		return ""
	}
	u, _ := last["url"].(string)
	return u
}

func hasVerifiedBadge(badges []any) bool {
	for _, badge := range badges {
		bm, ok := badge.(map[string]any)
		if !ok {
			continue
		}
		meta, ok := bm["metadataBadgeRenderer"].(map[string]any)
		if !ok {
			continue
		}
		if style, ok := meta["style"].(string); ok && strings.Contains(style, "VERIFIED") {
			return true
		}
	}
	return false
}

// parseDurationSeconds converts "h:mm:ss" or "m:ss" to seconds. Anything
// unparseable yields 0.
func parseDurationSeconds(formatted string) float64 {
	parts := strings.Split(formatted, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0
	}
	var total float64
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0
		}
		total = total*60 + float64(n)
	}
	return total
}

// parseViews strips everything but digits from strings like
// "1,234,567 views".
func parseViews(text string) int64 {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, _ := strconv.ParseInt(digits.String(), 10, 64)
	return n
}
