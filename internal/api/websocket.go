package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelStateChanged carries StateChange payloads.
const ChannelStateChanged = "device.state_changed"

// wsSendBufferSize is the per-client outbound message buffer size.
const wsSendBufferSize = 256

// WSMessage is a frame sent to or received from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, the devices whose
// events are wanted. An empty DeviceIDs list means every device.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// wsRequest is an inbound frame with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSStats counts hub activity since start.
type WSStats struct {
	ConnectedClients int    `json:"connected_clients"`
	Delivered        uint64 `json:"delivered"`
	Dropped          uint64 `json:"dropped"`
}

// Hub fans device and trigger events out to subscribed WebSocket clients.
//
// Thread Safety: all methods are safe for concurrent use.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// subscription is one channel a client listens on. A nil device set
// matches every device.
type subscription struct {
	devices map[string]struct{}
}

func (s subscription) wants(deviceID string) bool {
	if s.devices == nil || deviceID == "" {
		return true
	}
	_, ok := s.devices[deviceID]
	return ok
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subs    map[string]subscription
	mu      sync.RWMutex
	subject string // token subject, empty when auth is disabled
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     wsDefaults(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", client.subject, "clients", n)
}

// Unregister removes a client. Only the call that removes the client
// closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "subject", client.subject, "clients", n)
}

// Broadcast sends payload to every client subscribed to channel. Device
// state changes and trigger events only reach clients whose subscription
// includes the event's device.
func (h *Hub) Broadcast(channel string, payload any) {
	deviceID := eventDevice(payload)

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	recipients := 0
	for _, client := range clients {
		if !client.wants(channel, deviceID) {
			continue
		}
		if client.trySend(data) {
			h.delivered.Add(1)
			recipients++
		} else {
			h.dropped.Add(1)
		}
	}
	if recipients > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "device_id", deviceID, "recipients", recipients)
	}
}

// eventDevice returns the device an event belongs to, or "".
func eventDevice(payload any) string {
	switch p := payload.(type) {
	case StateChange:
		return p.DeviceID
	case trigger.Event:
		return p.DeviceID
	}
	return ""
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns client and delivery counters.
func (h *Hub) Stats() WSStats {
	return WSStats{
		ConnectedClients: h.ClientCount(),
		Delivered:        h.delivered.Load(),
		Dropped:          h.dropped.Load(),
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// StateChange is the payload broadcast on ChannelStateChanged.
type StateChange struct {
	DeviceID   string            `json:"device_id"`
	Name       string            `json:"name"`
	Type       device.Type       `json:"type"`
	State      map[string]any    `json:"state"`
	UIState    map[string]string `json:"ui_state,omitempty"`
	StateImage string            `json:"state_image,omitempty"`
}

// DeviceStateChanged broadcasts the written keys of d. It matches
// device.StateFunc so it can be passed to Registry.OnStateChange.
func (h *Hub) DeviceStateChanged(d *device.Device, updates []device.StateUpdate) {
	change := StateChange{
		DeviceID:   d.ID,
		Name:       d.Name,
		Type:       d.Type,
		State:      make(map[string]any, len(updates)),
		StateImage: d.StateImage,
	}
	for _, u := range updates {
		change.State[u.Key] = u.Value
		if u.UIValue != "" {
			if change.UIState == nil {
				change.UIState = make(map[string]string)
			}
			change.UIState[u.Key] = u.UIValue
		}
	}
	h.Broadcast(ChannelStateChanged, change)
}

// handleWebSocket upgrades the connection. Authentication happens in
// authMiddleware via the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeUnavailable(w, "websocket hub not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		subs:    make(map[string]subscription),
		subject: subjectFrom(r.Context()),
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// wsDefaults fills unset WebSocket timings.
func wsDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Any client frame counts as liveness, not just protocol pongs.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(idle))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil || len(sub.Channels) == 0 {
			c.sendError(req.ID, "payload must list channels")
			return
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(sub)
			c.sendResponse(req.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "device_ids": sub.DeviceIDs})
		} else {
			c.unsubscribe(sub.Channels)
			c.sendResponse(req.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
		}
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// subscribe adds channels. Subscribing again to a channel widens its
// device filter; an unfiltered subscription stays unfiltered.
func (c *WSClient) subscribe(sub WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range sub.Channels {
		existing, had := c.subs[ch]
		switch {
		case len(sub.DeviceIDs) == 0:
			c.subs[ch] = subscription{}
		case had && existing.devices == nil:
		default:
			if existing.devices == nil {
				existing.devices = make(map[string]struct{}, len(sub.DeviceIDs))
			}
			for _, id := range sub.DeviceIDs {
				existing.devices[id] = struct{}{}
			}
			c.subs[ch] = existing
		}
	}
	c.hub.logger.Debug("websocket client subscribed", "subject", c.subject, "channels", sub.Channels, "device_ids", sub.DeviceIDs)
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.subs, ch)
	}
}

func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, ok := c.subs[channel]
	return ok && sub.wants(deviceID)
}

// channels returns the client's subscribed channel names, sorted.
func (c *WSClient) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// trySend queues data without blocking. It reports false when the client
// buffer is full or the client has gone away.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
