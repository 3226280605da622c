package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub fans gate activity out to the porter consoles of each organization. Clients of one
// organization never receive another organization's messages.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]map[*connection]struct{} // stream -> organization -> clients
	upgrader      websocket.Upgrader
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[string]map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection and subscribes it to streams of the organization.
func (h *Hub) Serve(organizationID, userID string, streams []string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithModule("realtime").Warn("upgrade failed", zap.Error(err))
		return
	}

	if len(streams) == 0 {
		streams = DefaultStreams
	}
	client := newConnection(h, conn, organizationID, userID)
	h.subscribe(client, streams)

	go client.writeLoop()
	client.readLoop()
}

// PublishAccessEvents broadcasts committed ledger rows to their organization. Rejected
// scans are also sent on the alerts stream.
func (h *Hub) PublishAccessEvents(events ...models.AccessEvent) {
	for _, event := range events {
		message := Message{Event: EventAccessRecorded, Data: event}
		h.BroadcastToOrganization(StreamAccessEvents, event.OrganizationID, message)
		if event.ScanResult != models.ScanResultValid {
			h.BroadcastToOrganization(StreamAccessAlerts, event.OrganizationID, message)
		}
	}
}

// BroadcastToOrganization delivers a message to every subscriber of the organization on a stream.
func (h *Hub) BroadcastToOrganization(stream, organizationID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || organizationID == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.subscriptions[stream][organizationID]))
	for client := range h.subscriptions[stream][organizationID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	message.Stream = stream
	for _, client := range targets {
		h.enqueue(client, message)
	}
}

// Subscribers returns the number of connections of the organization on a stream.
func (h *Hub) Subscribers(stream, organizationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[normalizeStream(stream)][organizationID])
}

func (h *Hub) subscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if !knownStream(stream) {
			logger.WithModule("realtime").Debug("ignoring unknown stream",
				zap.String("stream", stream), zap.String("user_id", client.userID))
			continue
		}
		if _, exists := client.streams[stream]; exists {
			continue
		}
		if h.subscriptions[stream] == nil {
			h.subscriptions[stream] = make(map[string]map[*connection]struct{})
		}
		if h.subscriptions[stream][client.organizationID] == nil {
			h.subscriptions[stream][client.organizationID] = make(map[*connection]struct{})
		}
		client.streams[stream] = struct{}{}
		h.subscriptions[stream][client.organizationID][client] = struct{}{}
	}
}

func (h *Hub) unsubscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.removeSubscriptionLocked(client, stream)
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range client.streams {
		h.removeSubscriptionLocked(client, stream)
	}
}

func (h *Hub) removeSubscriptionLocked(client *connection, stream string) {
	byOrg, ok := h.subscriptions[stream]
	if !ok {
		return
	}
	clients := byOrg[client.organizationID]
	delete(clients, client)
	if len(clients) == 0 {
		delete(byOrg, client.organizationID)
	}
	if len(byOrg) == 0 {
		delete(h.subscriptions, stream)
	}
	delete(client.streams, stream)
}

func (h *Hub) enqueue(client *connection, message Message) {
	delivered, open := client.trySend(message)
	if open && !delivered {
		logger.WithModule("realtime").Warn("dropping slow client",
			zap.String("organization_id", client.organizationID), zap.String("user_id", client.userID))
		client.close()
	}
}

type connection struct {
	hub            *Hub
	socket         *websocket.Conn
	organizationID string
	userID         string
	streams        map[string]struct{}

	mu       sync.Mutex
	send     chan Message
	isClosed bool
}

func newConnection(hub *Hub, conn *websocket.Conn, organizationID, userID string) *connection {
	return &connection{
		hub:            hub,
		socket:         conn,
		organizationID: organizationID,
		userID:         userID,
		streams:        make(map[string]struct{}),
		send:           make(chan Message, defaultBufferSize),
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := logger.WithModule("realtime").With(zap.String("user_id", c.userID))
	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			log.Debug("invalid control payload", zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Streams)
		case "ping":
			c.hub.enqueue(c, Message{Event: "pong"})
		default:
			log.Debug("unsupported control action", zap.String("action", ctrl.Action))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues a message without blocking. open is false once the connection is closed.
func (c *connection) trySend(message Message) (delivered, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return false, false
	}
	select {
	case c.send <- message:
		return true, true
	default:
		return false, true
	}
}

func (c *connection) close() {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return
	}
	c.isClosed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.unregister(c)
	_ = c.socket.Close()
}

func knownStream(stream string) bool {
	return stream == StreamAccessEvents || stream == StreamAccessAlerts
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	unique := make(map[string]struct{}, len(streams))
	var result []string
	for _, stream := range streams {
		if stream = normalizeStream(stream); stream != "" {
			if _, exists := unique[stream]; !exists {
				unique[stream] = struct{}{}
				result = append(result, stream)
			}
		}
	}
	return result
}
