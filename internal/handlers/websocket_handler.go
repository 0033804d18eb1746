package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens via the token query parameter, not the Origin header.
		return true
	},
}

// WebSocketHandler upgrades authenticated connections and feeds them into
// the hub.
type WebSocketHandler struct {
	hub          *services.Hub
	tokenService *services.TokenService
	metrics      *observability.BusinessMetrics
	logger       *observability.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.Hub, tokenService *services.TokenService, metrics *observability.BusinessMetrics) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		tokenService: tokenService,
		metrics:      metrics,
		logger:       observability.GetLogger().WithField("component", "websocket"),
	}
}

// Serve handles WebSocket upgrade requests
// @Summary WebSocket endpoint
// @Description Upgrade to a WebSocket for event fan-out; authenticate with an access token in the query string
// @Tags websocket
// @Param token query string true "Access token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Router /ws [get]
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on WebSocket upgrades, so the token
	// rides in the query string. Verify before upgrading.
	claims, err := h.tokenService.Verify(r.Context(), r.URL.Query().Get("token"), services.TokenTypeAccess)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := h.hub.NewClient(uuid.New().String(), claims.EffectiveUserID(), claims.DeviceID, conn)
	h.hub.Register(client)
	h.metrics.WSConnected(r.Context())

	go client.WritePump()
	go func() {
		defer h.metrics.WSDisconnected(context.Background())
		client.ReadPump(h.handleFrame)
	}()
}

// handleFrame processes client-sent frames: channel subscriptions and pings.
// Anything else gets an error frame back.
func (h *WebSocketHandler) handleFrame(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendTo(client, services.WSMessage{Type: services.WSTypeError, Data: "invalid frame"})
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if !h.hub.Subscribe(client, msg.Channel) {
			h.sendTo(client, services.WSMessage{Type: services.WSTypeError, Data: "unknown channel: " + msg.Channel})
		}
	case services.WSTypeUnsubscribe:
		h.hub.Unsubscribe(client, msg.Channel)
	case services.WSTypePing:
		h.sendTo(client, services.WSMessage{Type: services.WSTypePong})
	default:
		h.sendTo(client, services.WSMessage{Type: services.WSTypeError, Data: "unknown frame type: " + msg.Type})
	}
}

func (h *WebSocketHandler) sendTo(client *services.WSClient, msg services.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
