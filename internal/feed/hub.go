// Package feed pushes store changes to websocket clients.
//
// Every message carries a full snapshot of one store, so a client only ever
// needs the latest message of each type. A client that connects late is sent
// the latest message of every type first.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/service"
	"github.com/mmynk/tripsync/internal/store"
)

// Message types.
const (
	TypeUser  = "user"
	TypeTrip  = "trip"
	TypeBills = "bills"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Message is the envelope of everything sent on the feed.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans store changes out to connected clients.
type Hub struct {
	jwt      *auth.JWTManager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	wake       chan struct{}
	done       chan struct{}

	// mu guards latest, pending and clients. Publishers hold it while they
	// read a store so that latest never goes back to an older snapshot.
	mu      sync.Mutex
	latest  map[string][]byte
	pending map[string]struct{}
	clients int
}

// NewHub creates a hub. Run must be called for it to deliver anything.
func NewHub(jwt *auth.JWTManager, logger *slog.Logger) *Hub {
	return &Hub{
		jwt:    jwt,
		logger: logger.With("component", "feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		latest:     make(map[string][]byte),
		pending:    make(map[string]struct{}),
	}
}

// Attach follows the three stores. Each change re-reads the store, so a
// view delivered late by a listener cannot replace a newer one. The
// returned func stops following.
func (h *Hub) Attach(users *store.UserStore, trips *store.TripStore, bills *store.BillStore) (detach func()) {
	cancels := []func(){
		users.OnChange(func(*models.User) {
			h.publishFrom(TypeUser, func() any { return service.ToUser(users.User()) })
		}),
		trips.OnChange(func(store.TripView) {
			h.publishFrom(TypeTrip, func() any { return service.ToTripUpdate(trips.View()) })
		}),
		bills.OnChange(func(store.BillView) {
			h.publishFrom(TypeBills, func() any { return service.ToBillUpdate(bills.View()) })
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// Publish records payload as the latest message of msgType and wakes Run.
// It never blocks. Messages published faster than Run delivers them are
// coalesced per type; the latest one is always delivered.
func (h *Hub) Publish(msgType string, payload any) {
	h.publishFrom(msgType, func() any { return payload })
}

func (h *Hub) publishFrom(msgType string, read func() any) {
	h.mu.Lock()
	payload, err := json.Marshal(read())
	if err == nil {
		var data []byte
		data, err = json.Marshal(Message{Type: msgType, Payload: payload, Timestamp: time.Now()})
		if err == nil {
			h.latest[msgType] = data
			h.pending[msgType] = struct{}{}
		}
	}
	h.mu.Unlock()
	if err != nil {
		h.logger.Error("Failed to marshal feed message", "type", msgType, "error", err)
		return
	}

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// Run delivers messages until ctx is done, then disconnects every client.
// It must be called once.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[string]*client)
	defer func() {
		for id, c := range clients {
			close(c.send)
			delete(clients, id)
		}
		h.setClients(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			clients[c.id] = c
			h.logger.Info("Feed client registered", "client_id", c.id)
			for _, data := range h.snapshot(false) {
				h.trySend(clients, c, data)
			}
			h.setClients(len(clients))

		case c := <-h.unregister:
			if _, ok := clients[c.id]; ok {
				delete(clients, c.id)
				close(c.send)
				h.setClients(len(clients))
				h.logger.Info("Feed client unregistered", "client_id", c.id)
			}

		case <-h.wake:
			for _, data := range h.snapshot(true) {
				for _, c := range clients {
					h.trySend(clients, c, data)
				}
			}
			h.setClients(len(clients))
		}
	}
}

// snapshot returns the latest message of every type, or with onlyPending
// just those published since the last call, and clears the pending marks.
func (h *Hub) snapshot(onlyPending bool) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out [][]byte
	for msgType, data := range h.latest {
		if _, ok := h.pending[msgType]; onlyPending && !ok {
			continue
		}
		out = append(out, data)
	}
	if onlyPending {
		clear(h.pending)
	}
	return out
}

// trySend drops a client whose buffer is full.
func (h *Hub) trySend(clients map[string]*client, c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		if _, ok := clients[c.id]; ok {
			close(c.send)
			delete(clients, c.id)
			h.logger.Warn("Feed client too slow, disconnected", "client_id", c.id)
		}
	}
}

func (h *Hub) setClients(n int) {
	h.mu.Lock()
	h.clients = n
	h.mu.Unlock()
}

// ServeHTTP upgrades the request. The token comes from the Authorization
// header or, for browsers, the token query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		token, err = middleware.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	claims, err := h.jwt.Validate(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.logger.Debug("Feed client connected", "client_id", c.id, "user_id", claims.UserID)

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames; the feed is one-way.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Feed client read failed", "client_id", c.id, "error", err)
			}
			return
		}
	}
}
