package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bunger-shield/internal/game"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	wsWriteTimeout = 2 * time.Second
)

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// WebSocketHub fans snapshots out to connected viewers with DoS protection.
// The client set is owned by Run.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int32

	// Connection limiting per IP
	wsLimiter *WebSocketRateLimiter
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewWebSocketHub creates a new hub with connection limiting. Origins in
// extraOrigins are accepted in addition to loopback ones.
func NewWebSocketHub(extraOrigins []string, logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if IsAllowedOrigin(origin, extraOrigins) {
				return true
			}

			// Log rejected origin for security monitoring
			h.logger.Warn("websocket connection rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for conn, client := range h.clients {
				h.drop(conn, client)
			}
			return

		case client := <-h.register:
			h.clients[client.conn] = client
			h.setCount()
			h.logger.Debug("client connected", zap.String("ip", client.ip), zap.Int("total", len(h.clients)))

		case conn := <-h.unregister:
			if client, ok := h.clients[conn]; ok {
				h.drop(conn, client)
				h.logger.Debug("client disconnected", zap.Int("remaining", len(h.clients)))
			}

		case message := <-h.broadcast:
			for conn, client := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.drop(conn, client)
				}
			}
			IncrementWSMessages()
		}
	}
}

// drop closes a connection and releases its slot for the IP
func (h *WebSocketHub) drop(conn *websocket.Conn, client *wsClient) {
	h.wsLimiter.Release(client.ip)
	delete(h.clients, conn)
	conn.Close()
	h.setCount()
}

func (h *WebSocketHub) setCount() {
	h.count.Store(int32(len(h.clients)))
	UpdateWSConnections(len(h.clients))
}

// Broadcast sends a message to all connected clients
func (h *WebSocketHub) Broadcast(event string, data any) {
	jsonBytes, err := json.Marshal(map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		h.logger.Error("marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- jsonBytes:
	default:
		// Channel full, skip (backpressure)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	return int(h.count.Load())
}

// RunBroadcastLoop publishes the latest world snapshot every interval while
// anyone is watching. Returns when ctx is done.
func (h *WebSocketHub) RunBroadcastLoop(ctx context.Context, interval time.Duration, snapshot func() *game.WorldSnapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			snap := snapshot()
			if snap == nil || snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence
			h.Broadcast("world:snapshot", snap)
		}
	}
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get client IP for rate limiting
	ip := GetClientIP(r)

	// Check total connection limit
	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		h.logger.Warn("websocket connection rejected: total limit reached", zap.Int("total", total))
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// Check per-IP connection limit
	if !h.wsLimiter.Allow(ip) {
		h.logger.Warn("websocket connection rejected: per-IP limit reached", zap.String("ip", ip))
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	// Upgrade to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		h.wsLimiter.Release(ip) // Release the slot we reserved
		return
	}

	select {
	case h.register <- &wsClient{conn: conn, ip: ip}:
	case <-h.done:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	// The feed is one-way; reading only detects the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()
}
