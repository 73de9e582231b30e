// WebSocket hub for real-time market broadcasting.
package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddspool/settle-engine/internal/metrics"
)

// WebSocket event types.
const (
	EventMarketCreated  = "market_created"
	EventPositionOpened = "position_opened"
	EventMarketResolved = "market_resolved"
)

// WSMessage is a JSON market snapshot pushed to WebSocket clients
// whenever a market changes. Pool totals are decimal wei strings.
type WSMessage struct {
	Event             string `json:"event"`
	MarketID          uint64 `json:"market_id"`
	Question          string `json:"question"`
	Deadline          int64  `json:"deadline"`
	Resolved          bool   `json:"resolved"`
	OutcomeYes        bool   `json:"outcome_yes"`
	Active            bool   `json:"active"`
	TotalYesMargin    string `json:"total_yes_margin"`
	TotalNoMargin     string `json:"total_no_margin"`
	TotalYesEffective string `json:"total_yes_effective"`
	TotalNoEffective  string `json:"total_no_effective"`
	Odds              *Odds  `json:"odds"`
}

// WSHub manages WebSocket connections and broadcasts market updates to
// all connected clients.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking settlement.
	}
}

// Keepalive timing: a ping every pingPeriod, and the peer has until
// pongWait to answer before the read loop gives up.
const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn
	go h.serveConn(conn)
}

// serveConn owns one connection's lifecycle. The inner goroutine drains
// reads (clients never send anything meaningful, but the read loop is
// what notices a dropped peer); the outer loop pings through proxies
// until either side goes away, then hands the connection back to the
// hub for unregistration.
func (h *WSHub) serveConn(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
