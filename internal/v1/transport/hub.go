// Package transport owns the WebSocket edge: upgrades, connection
// identity, pump lifecycles, and origin policy. Everything past the socket
// is delegated to the session layer.
package transport

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/ratelimit"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/registry"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// Hub accepts WebSocket upgrades and hands connections to the session
// layer. It holds no room state; that lives in the shared store.
type Hub struct {
	session  Session
	registry *registry.Registry
	limiter  *ratelimit.RateLimiter
	upgrader websocket.Upgrader
}

// NewHub wires the WebSocket edge. allowedOrigins is a comma-separated
// list; empty falls back to localhost development origins.
func NewHub(session Session, reg *registry.Registry, limiter *ratelimit.RateLimiter, allowedOrigins string) *Hub {
	origins := parseOrigins(allowedOrigins)
	return &Hub{
		session:  session,
		registry: reg,
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, origins)
			},
		},
	}
}

// ServeWs upgrades the request and starts the connection's pumps. A client
// may present its previous identity as ?clientId= so rejoin routing works
// across reconnects; otherwise a fresh identity is minted.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.limiter.CheckWebSocket(c) {
		return
	}

	id := types.ClientIDType(c.Query("clientId"))
	if id == "" {
		id = types.ClientIDType(uuid.NewString())
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, id, h.session)
	if prev := h.registry.RegisterConnection(id, client); prev != nil {
		prev.Close("superseded by a new connection")
	}
	metrics.IncConnection()

	ctx := logging.WithClient(c.Request.Context(), string(id))
	logging.Info(ctx, "Connection established", zap.String("remote", c.ClientIP()))
	h.session.HandleConnect(ctx, client)

	go client.writePump()
	go client.readPump()
}

// Shutdown closes every connection on this process with a shutdown reason.
// The pumps drain and run their usual disconnect side-effects.
func (h *Hub) Shutdown() {
	for _, conn := range h.registry.LocalConnections() {
		conn.Close("Server shutting down")
	}
}

func parseOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// originAllowed accepts same-origin requests, requests without an Origin
// header (native clients), and any origin on the allow list. "*" disables
// the check.
func originAllowed(r *http.Request, origins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	for _, allowed := range origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
