package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncflow/server/internal/observability"
)

// WSMessage is the wire envelope for every WebSocket frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Server-sent event types.
const (
	WSTypeMessageAdded    = "message_added"
	WSTypeMessageUpdated  = "message_updated"
	WSTypeMessageDeleted  = "message_deleted"
	WSTypeContactAdded    = "contact_added"
	WSTypeContactUpdated  = "contact_updated"
	WSTypeContactDeleted  = "contact_deleted"
	WSTypeCallAdded       = "call_added"
	WSTypeOutgoingMessage = "outgoing_message"
	WSTypeCallRequest     = "call_request"
	WSTypeTyping          = "typing"
	WSTypeContinuity      = "continuity"
	WSTypeDeviceRemoved   = "device_removed"
	WSTypeKeySyncRequest  = "key_sync_request"
	WSTypeKeySyncResponse = "key_sync_response"
	WSTypeBackfillBatch   = "backfill_batch"
	WSTypePairingUpdate   = "pairing_update"
	WSTypeError           = "error"
)

// Client-sent frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
)

// Subscription channels.
const (
	ChannelMessages = "messages"
	ChannelContacts = "contacts"
	ChannelCalls    = "calls"
	ChannelDevices  = "devices"
	ChannelPresence = "presence"
)

func validChannel(name string) bool {
	switch name {
	case ChannelMessages, ChannelContacts, ChannelCalls, ChannelDevices, ChannelPresence:
		return true
	}
	return false
}

// WSClient represents one authenticated WebSocket connection. Identity is
// fixed at upgrade time, before the client enters the hub.
type WSClient struct {
	ID       string
	UserID   string
	DeviceID string
	Channels map[string]bool
	Conn     *websocket.Conn
	Send     chan []byte
	hub      *Hub
	mu       sync.Mutex
	closed   sync.Once
}

// Hub manages live WebSocket connections, keyed by user and device so event
// fan-out can reach every connection of a user except the one that caused
// the change.
type Hub struct {
	clients     map[*WSClient]bool
	userConns   map[string]map[*WSClient]bool
	deviceConns map[string]map[*WSClient]bool
	register    chan *WSClient
	unregister  chan *WSClient
	broadcast   chan *hubEvent
	mu          sync.RWMutex
	logger      *observability.Logger
}

type hubEvent struct {
	userID        string
	channel       string // when set, only subscribers of this channel
	deviceID      string // when set, only this device's connections
	excludeDevice string // never delivered back to this device
	message       []byte
}

// NewHub creates a new connection hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*WSClient]bool),
		userConns:   make(map[string]map[*WSClient]bool),
		deviceConns: make(map[string]map[*WSClient]bool),
		register:    make(chan *WSClient),
		unregister:  make(chan *WSClient),
		broadcast:   make(chan *hubEvent, 256),
		logger:      observability.GetLogger().WithField("component", "hub"),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.userConns[client.UserID] == nil {
				h.userConns[client.UserID] = make(map[*WSClient]bool)
			}
			h.userConns[client.UserID][client] = true
			if h.deviceConns[client.DeviceID] == nil {
				h.deviceConns[client.DeviceID] = make(map[*WSClient]bool)
			}
			h.deviceConns[client.DeviceID][client] = true
			h.mu.Unlock()
			h.logger.WithField("device_id", client.DeviceID).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if userClients, ok := h.userConns[client.UserID]; ok {
					delete(userClients, client)
					if len(userClients) == 0 {
						delete(h.userConns, client.UserID)
					}
				}
				if deviceClients, ok := h.deviceConns[client.DeviceID]; ok {
					delete(deviceClients, client)
					if len(deviceClients) == 0 {
						delete(h.deviceConns, client.DeviceID)
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()
			h.logger.WithField("device_id", client.DeviceID).Debug("WebSocket client disconnected")

		case event := <-h.broadcast:
			h.mu.RLock()
			var targets map[*WSClient]bool
			if event.deviceID != "" {
				targets = h.deviceConns[event.deviceID]
			} else {
				targets = h.userConns[event.userID]
			}

			for client := range targets {
				if event.excludeDevice != "" && client.DeviceID == event.excludeDevice {
					continue
				}
				if event.channel != "" && !client.subscribed(event.channel) {
					continue
				}
				select {
				case client.Send <- event.message:
				default:
					// Slow consumer; drop the connection rather than block fan-out
					go func(c *WSClient) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *WSClient) {
	h.unregister <- client
}

// Subscribe adds a client to a channel. Unknown channels are ignored.
func (h *Hub) Subscribe(client *WSClient, channel string) bool {
	if !validChannel(channel) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Channels[channel] = true
	return true
}

// Unsubscribe removes a client from a channel.
func (h *Hub) Unsubscribe(client *WSClient, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.Channels, channel)
}

func (c *WSClient) subscribed(channel string) bool {
	// Callers hold the hub read lock; Channels is mutated under the write lock.
	return c.Channels[channel]
}

// BroadcastToUser fans an event out to every subscribed connection of a
// user except the originating device. Empty excludeDeviceID sends to all.
func (h *Hub) BroadcastToUser(userID, channel, excludeDeviceID string, msg WSMessage) {
	msg.Channel = channel
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to marshal WebSocket message")
		return
	}
	h.broadcast <- &hubEvent{
		userID:        userID,
		channel:       channel,
		excludeDevice: excludeDeviceID,
		message:       data,
	}
}

// SendToUser delivers to every connection of a user regardless of channel
// subscriptions. Used for connection-level notices like pairing updates.
func (h *Hub) SendToUser(userID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to marshal WebSocket message")
		return
	}
	h.broadcast <- &hubEvent{userID: userID, message: data}
}

// SendToDevice delivers to one device's connections only.
func (h *Hub) SendToDevice(deviceID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to marshal WebSocket message")
		return
	}
	h.broadcast <- &hubEvent{deviceID: deviceID, message: data}
}

// DisconnectDevice drops all live connections of a device, used when the
// device is unpaired.
func (h *Hub) DisconnectDevice(deviceID string) {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.deviceConns[deviceID]))
	for client := range h.deviceConns[deviceID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.Close()
	}
}

// ConnectedDevices returns the device ids with at least one live connection
// for a user, excluding the given device.
func (h *Hub) ConnectedDevices(userID, excludeDeviceID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	var devices []string
	for client := range h.userConns[userID] {
		if client.DeviceID == excludeDeviceID || seen[client.DeviceID] {
			continue
		}
		seen[client.DeviceID] = true
		devices = append(devices, client.DeviceID)
	}
	return devices
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetUserCount returns the number of users with live connections.
func (h *Hub) GetUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns)
}

// NewClient creates a client bound to this hub. The caller registers it and
// starts both pumps.
func (h *Hub) NewClient(id, userID, deviceID string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:       id,
		UserID:   userID,
		DeviceID: deviceID,
		Channels: make(map[string]bool),
		Conn:     conn,
		Send:     make(chan []byte, 256),
		hub:      h,
	}
}

// Close closes the client connection.
func (c *WSClient) Close() {
	c.closed.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *WSClient) ReadPump(onMessage func(client *WSClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(512 * 1024) // 512KB max message size
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithField("error", err.Error()).Debug("WebSocket read error")
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}
