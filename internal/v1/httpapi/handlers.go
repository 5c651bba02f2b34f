// Package httpapi exposes the video-catalog surface over HTTP. It is a
// thin validation layer in front of the assets adapter; no room state is
// reachable from here.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/assets"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// Catalog is the slice of the assets adapter this surface consumes.
type Catalog interface {
	Search(ctx context.Context, query, continuation string) (*assets.Page, error)
	Suggestions(ctx context.Context, query string) ([]string, error)
	ExpandPlaylist(ctx context.Context, ref string) ([]types.Video, error)
	Related(ctx context.Context, videoID, continuation string) (*assets.Page, error)
	IsEmbeddable(ctx context.Context, videoID string) (bool, error)
}

// Handler serves the catalog endpoints.
type Handler struct {
	catalog Catalog
}

// NewHandler returns a catalog HTTP handler.
func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// Register mounts all catalog routes on the given group.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/search", h.search)
	r.POST("/suggestions", h.suggestions)
	r.POST("/playlist", h.playlist)
	r.POST("/related", h.related)
	r.POST("/check-embeddable", h.checkEmbeddable)
}

type searchRequest struct {
	Query        string `json:"query"`
	Continuation string `json:"continuation"`
}

func (h *Handler) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Query == "" && req.Continuation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	page, err := h.catalog.Search(c.Request.Context(), req.Query, req.Continuation)
	if err != nil {
		h.upstreamError(c, "search", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type suggestionsRequest struct {
	Query string `json:"query"`
}

func (h *Handler) suggestions(c *gin.Context) {
	var req suggestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	suggestions, err := h.catalog.Suggestions(c.Request.Context(), req.Query)
	if err != nil {
		h.upstreamError(c, "suggestions", err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

type playlistRequest struct {
	Playlist string `json:"playlistUrlOrId"`
}

func (h *Handler) playlist(c *gin.Context) {
	var req playlistRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Playlist == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playlistUrlOrId is required"})
		return
	}

	videos, err := h.catalog.ExpandPlaylist(c.Request.Context(), req.Playlist)
	if err != nil {
		h.upstreamError(c, "playlist", err)
		return
	}
	if videos == nil {
		videos = []types.Video{}
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

type relatedRequest struct {
	VideoID      string `json:"videoId"`
	Continuation string `json:"continuation"`
}

func (h *Handler) related(c *gin.Context) {
	var req relatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.VideoID == "" && req.Continuation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "videoId is required"})
		return
	}

	page, err := h.catalog.Related(c.Request.Context(), req.VideoID, req.Continuation)
	if err != nil {
		h.upstreamError(c, "related", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type checkEmbeddableRequest struct {
	VideoIDs []string `json:"videoIds"`
}

type embeddableResult struct {
	VideoID  string `json:"videoId"`
	CanEmbed bool   `json:"canEmbed"`
}

func (h *Handler) checkEmbeddable(c *gin.Context) {
	var req checkEmbeddableRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.VideoIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "videoIds is required"})
		return
	}

	results := make([]embeddableResult, 0, len(req.VideoIDs))
	for _, id := range req.VideoIDs {
		canEmbed, err := h.catalog.IsEmbeddable(c.Request.Context(), id)
		if err != nil {
			h.upstreamError(c, "check-embeddable", err)
			return
		}
		results = append(results, embeddableResult{VideoID: id, CanEmbed: canEmbed})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) upstreamError(c *gin.Context, endpoint string, err error) {
	if errors.Is(err, assets.ErrBadCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or expired continuation token"})
		return
	}
	logging.Error(c.Request.Context(), "Catalog request failed",
		zap.String("endpoint", endpoint), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream catalog unavailable"})
}
