package stream

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pingsantohq/watchdog/pkg/types"
)

const (
	clientBuffer = 32
	writeTimeout = 10 * time.Second
)

const (
	MessageSnapshot = "snapshot"
	MessageRemoved  = "removed"
)

// Message is one websocket frame sent to clients.
type Message struct {
	Type       string                  `json:"type"`
	WatchdogID string                  `json:"watchdog_id"`
	Snapshot   *types.WatchdogSnapshot `json:"snapshot,omitempty"`
}

type client struct {
	id   string
	send chan Message
}

// Hub fans watchdog snapshots out to websocket clients. New clients first
// receive the latest snapshot of every watchdog. Clients that fall behind
// are disconnected rather than allowed to block publishers.
type Hub struct {
	allowedOrigins []string
	logger         *zap.Logger

	mu      sync.Mutex
	clients map[string]*client
	latest  map[string]types.WatchdogSnapshot
}

func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("stream"),
		clients:        make(map[string]*client),
		latest:         make(map[string]types.WatchdogSnapshot),
	}
}

func (h *Hub) PublishSnapshot(snap types.WatchdogSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[snap.ID] = snap
	h.broadcastLocked(Message{Type: MessageSnapshot, WatchdogID: snap.ID, Snapshot: &snap})
}

func (h *Hub) Forget(watchdogID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.latest, watchdogID)
	h.broadcastLocked(Message{Type: MessageRemoved, WatchdogID: watchdogID})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcastLocked(msg Message) {
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow stream client", zap.String("client", id))
			delete(h.clients, id)
			close(c.send)
		}
	}
}

func (h *Hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{
		id:   uuid.NewString(),
		send: make(chan Message, clientBuffer+len(h.latest)),
	}
	ids := make([]string, 0, len(h.latest))
	for id := range h.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap := h.latest[id]
		c.send <- Message{Type: MessageSnapshot, WatchdogID: id, Snapshot: &snap}
	}
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, h.allowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := h.register()
	defer h.unregister(c)
	h.logger.Debug("stream client connected", zap.String("client", c.id))

	go func() {
		for msg := range c.send {
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("stream client disconnected", zap.String("client", c.id))
			return
		}
	}
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}

	if len(allowed) > 0 {
		for _, allowedOrigin := range allowed {
			if strings.EqualFold(origin, allowedOrigin) || strings.EqualFold(originHost, allowedOrigin) {
				return true
			}
		}
		return false
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.EqualFold(originHost, host)
}
