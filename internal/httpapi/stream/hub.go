// Package stream pushes status snapshots to WebSocket clients.
package stream

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Hub fans snapshots out to connected clients. Slow clients miss updates
// rather than stall the monitor.
type Hub struct {
	logger *zap.Logger
	accept *websocket.AcceptOptions

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    *domain.Snapshot
}

type client struct {
	conn *websocket.Conn
	send chan domain.Snapshot
}

// NewHub builds a hub that accepts cross-origin upgrades only from the
// given CORS origins. No origins (or "*") allows every origin, like the
// router's CORS policy.
func NewHub(logger *zap.Logger, origins []string) *Hub {
	return &Hub{
		logger:  logger,
		accept:  acceptOptions(origins),
		clients: make(map[*client]struct{}),
	}
}

func acceptOptions(origins []string) *websocket.AcceptOptions {
	if len(origins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
		// patterns are matched against the Origin host
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: hosts}
}

// Publish implements the monitor's observer hook.
func (h *Hub) Publish(snap domain.Snapshot) {
	h.mu.Lock()
	h.last = &snap
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- snap:
		default:
			h.logger.Debug("ws_client_slow_dropped_update")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- *h.last
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams snapshots until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.logger.Warn("ws_accept_failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan domain.Snapshot, sendBuffer)}
	h.register(c)
	h.logger.Debug("ws_client_connected", zap.String("remote", r.RemoteAddr))

	// clients only listen; CloseRead cancels ctx once they disconnect
	ctx := conn.CloseRead(context.WithoutCancel(r.Context()))
	defer func() {
		h.unregister(c)
		_ = conn.CloseNow()
		h.logger.Debug("ws_client_disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, snap)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
