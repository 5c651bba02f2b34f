package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// idleWait is how long a connection may stay silent before the read
	// side gives up. Clients ping well inside this window.
	idleWait = 960 * time.Second
	// pingPeriod is the server-side keepalive interval.
	pingPeriod = 30 * time.Second
	// maxFrameBytes caps inbound frame size.
	maxFrameBytes = 512 * 1024
	// sendBuffer is the per-connection outbound queue depth.
	sendBuffer = 256
)

// wsConnection is the slice of *websocket.Conn the client uses, extracted
// so tests can substitute a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is the command layer a connection feeds. Dispatch must not
// retain raw past the call.
type Session interface {
	HandleConnect(ctx context.Context, conn types.Conn)
	HandleDisconnect(ctx context.Context, conn types.Conn)
	Dispatch(ctx context.Context, conn types.Conn, raw []byte)
}

// Client is one live WebSocket connection. It implements types.Conn; the
// bus and dispatcher only ever see that interface.
type Client struct {
	conn    wsConnection
	id      types.ClientIDType
	session Session

	send chan []byte

	mu          sync.Mutex
	closed      bool
	closeReason string
	closeOnce   sync.Once
}

func newClient(conn wsConnection, id types.ClientIDType, session Session) *Client {
	return &Client{
		conn:    conn,
		id:      id,
		session: session,
		send:    make(chan []byte, sendBuffer),
	}
}

// ID returns the connection identity.
func (c *Client) ID() types.ClientIDType {
	return c.id
}

// Send queues a pre-serialized frame without blocking. A full queue or a
// closed connection is an error; the caller decides whether that warrants
// tearing the connection down. The closed check and the channel send happen
// under the same mutex Close holds while closing the channel, so a Send
// racing a Close can never hit a closed channel.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// Close shuts the connection down. The reason travels in the close frame.
// Closing the send channel lets writePump drain buffered frames first.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeReason = reason
		close(c.send)
		c.mu.Unlock()
	})
}

// readPump drives the inbound side until the peer goes away or the idle
// deadline lapses, then runs the disconnect side-effects.
func (c *Client) readPump() {
	ctx := logging.WithClient(context.Background(), string(c.id))
	defer func() {
		c.session.HandleDisconnect(ctx, c)
		c.Close("read loop ended")
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(ctx, "Connection read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// Any inbound traffic counts against the idle deadline.
		_ = c.conn.SetReadDeadline(time.Now().Add(idleWait))
		c.session.Dispatch(ctx, c, data)
	}
}

// writePump owns all writes to the socket: queued frames, keepalive pings,
// and the final close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.mu.Lock()
				reason := c.closeReason
				c.mu.Unlock()
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
