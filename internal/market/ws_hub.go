package market

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DrkMatr1984/GlobalMarket/internal/metrics"
)

// wsNotice is a broadcast envelope: the event plus an optional target
// player. An empty target addresses every viewer.
type wsNotice struct {
	event  Event
	player string
}

type wsViewer struct {
	conn   *websocket.Conn
	player string
	reply  chan bool
}

// Hub manages WebSocket viewer connections. It implements Notifier:
// refresh notices go to the named viewer's connections (or everyone when
// the name is empty) and announcements go to all.
type Hub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan wsNotice
	register   chan wsViewer
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a new viewer hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan wsNotice, 256),
		register:   make(chan wsViewer),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case v := <-h.register:
			h.mu.Lock()
			replaced := false
			for conn, player := range h.clients {
				if player == v.player {
					delete(h.clients, conn)
					conn.Close()
					replaced = true
				}
			}
			h.clients[v.conn] = v.player
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			v.reply <- replaced
			slog.Info("viewer connected", "player", v.player, "replaced", replaced, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case n := <-h.broadcast:
			data, err := json.Marshal(n.event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for conn, player := range h.clients {
				if n.player != "" && player != n.player {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// NotifyViewer tells a viewer (or every viewer, for an empty name) to
// refresh a view.
func (h *Hub) NotifyViewer(player, view string) {
	h.send(wsNotice{
		event:  Event{ID: uuid.NewString(), Type: EventRefresh, Player: player, View: view},
		player: player,
	})
}

// Announce broadcasts a market event to every viewer.
func (h *Hub) Announce(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	h.send(wsNotice{event: e})
}

func (h *Hub) send(n wsNotice) {
	select {
	case h.broadcast <- n:
	default:
		// Drop if buffer full to avoid blocking market operations.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// viewer's name comes from the player query parameter; a second
// connection for the same name replaces the first.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("player")
	if player == "" {
		http.Error(w, "player query parameter required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	reply := make(chan bool, 1)
	h.register <- wsViewer{conn: conn, player: player, reply: reply}
	<-reply

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
