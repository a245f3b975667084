// Package websocket provides the WebSocket transport for the conversation
// subsystem
// Following Clean Architecture: This is an Adapter layer component
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/services"
)

const (
	clientBufferSize = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Inbound event names, matched against the frontend's emit calls
const (
	eventJoinChat    = "join_chat"
	eventLeaveChat   = "leave_chat"
	eventSendMessage = "send_message"
	eventTypingStart = "typing_start"
	eventTypingStop  = "typing_stop"
	eventMarkRead    = "mark_read"
)

// ChatHub upgrades HTTP connections, admits them through the registry and
// drives one reader and one writer goroutine per connection.
type ChatHub struct {
	registry *services.ConnectionRegistry
	rooms    *services.RoomBroadcaster
	pipeline *services.MessagePipeline

	mu      sync.RWMutex
	clients map[string]*Client // connection ID -> client

	upgrader websocket.Upgrader
}

// Client is one connected WebSocket peer. Implements services.EventSink
// with a buffered, drop-if-full send channel so a slow client never blocks
// the broadcaster.
type Client struct {
	hub     *ChatHub
	conn    *websocket.Conn
	session *services.Connection
	send    chan services.Event
}

// NewChatHub creates the hub
func NewChatHub(
	registry *services.ConnectionRegistry,
	rooms *services.RoomBroadcaster,
	pipeline *services.MessagePipeline,
) *ChatHub {
	return &ChatHub{
		registry: registry,
		rooms:    rooms,
		pipeline: pipeline,
		clients:  make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin is enforced upstream by the reverse proxy
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeWS handles WebSocket upgrade requests
// Route: /ws/chat?token=ACCESS_TOKEN
func (h *ChatHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan services.Event, clientBufferSize),
	}

	session, err := h.registry.Admit(r.Context(), token, client)
	if err != nil {
		slog.Warn("Connection rejected", "error", err, "remote", r.RemoteAddr)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	client.session = session

	h.mu.Lock()
	h.clients[session.ID] = client
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// Push implements services.EventSink. Non-blocking: when the client's buffer
// is full the event is dropped for this client only.
func (c *Client) Push(ev services.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// DisconnectPrincipal force-closes every live connection of a principal.
// Used when an account is deactivated mid-session.
func (h *ChatHub) DisconnectPrincipal(principalID, reason string) int {
	sessions := h.registry.ConnectionsOf(principalID)

	h.mu.RLock()
	clients := make([]*Client, 0, len(sessions))
	for _, s := range sessions {
		if c, ok := h.clients[s.ID]; ok {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Push(services.Event{Name: services.EventError, Payload: services.ErrorPayload{Message: reason}})
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(writeWait))
		c.conn.Close()
	}

	slog.Info("Force-disconnected principal",
		"principal_id", principalID,
		"connections", len(clients),
		"reason", reason,
	)
	return len(clients)
}

// inboundFrame is the envelope every client frame uses:
// {"event": "send_message", "data": {...}}
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageData struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
}

type markReadData struct {
	MessageIDs []int64 `json:"messageIds"`
}

// readPump drains and dispatches client frames until the connection dies,
// then removes the session from the registry (which evicts it from every
// room it had joined)
func (c *Client) readPump() {
	defer func() {
		c.hub.registry.Remove(c.session)
		c.hub.mu.Lock()
		delete(c.hub.clients, c.session.ID)
		c.hub.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("WebSocket read error", "error", err, "connection_id", c.session.ID)
			}
			break
		}
		c.dispatch(raw)
	}
}

// dispatch handles one inbound frame. Panics are recovered so a malformed
// frame can never take the connection's reader down with it.
func (c *Client) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in event dispatch",
				"panic", r,
				"connection_id", c.session.ID,
			)
		}
	}()

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.pushError("malformed frame")
		return
	}

	ctx := context.Background()

	switch frame.Event {
	case eventJoinChat:
		var data conversationRef
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			c.pushError("conversationId is required")
			return
		}
		if err := c.hub.rooms.Join(ctx, c.session, data.ConversationID); err != nil {
			slog.Warn("Join rejected",
				"error", err,
				"principal_id", c.session.Principal.ID,
				"conversation_id", data.ConversationID,
			)
			c.pushError("failed to join chat")
			return
		}

	case eventLeaveChat:
		var data conversationRef
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			return
		}
		c.hub.rooms.Leave(c.session, data.ConversationID)

	case eventSendMessage:
		var data sendMessageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.pushError("malformed send_message data")
			return
		}
		c.handleSend(ctx, data)

	case eventTypingStart, eventTypingStop:
		var data conversationRef
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			return
		}
		c.hub.rooms.BroadcastExcept(data.ConversationID, c.session, services.Event{
			Name: services.EventUserTyping,
			Payload: services.TypingPayload{
				UserID:   c.session.Principal.ID,
				UserName: c.session.Principal.FullName,
				IsTyping: frame.Event == eventTypingStart,
			},
		})

	case eventMarkRead:
		var data markReadData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		ids, err := c.hub.pipeline.MarkReadByIDs(ctx, data.MessageIDs, c.session.Principal)
		if err != nil {
			slog.Error("Mark read failed", "error", err, "principal_id", c.session.Principal.ID)
			return
		}
		c.Push(services.Event{Name: services.EventMessagesMarkedRead, Payload: services.MarkedReadPayload{
			MessageIDs: ids,
		}})

	default:
		c.pushError("unknown event")
	}
}

// handleSend runs the message pipeline for a send_message frame. A stale
// credential yields token_expired so the client refreshes and retries.
func (c *Client) handleSend(ctx context.Context, data sendMessageData) {
	_, err := c.hub.pipeline.Send(
		ctx,
		data.ConversationID,
		c.session.Principal,
		c.session.Credential,
		data.Content,
		domain.MessageType(data.MessageType),
	)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCredentialExpiring):
		c.Push(services.Event{Name: services.EventTokenExpired, Payload: struct{}{}})
	case errors.Is(err, domain.ErrForbidden):
		c.pushError("not authorized for this conversation")
	case errors.Is(err, domain.ErrValidation):
		c.pushError("message content is empty or invalid")
	default:
		slog.Error("Send failed",
			"error", err,
			"conversation_id", data.ConversationID,
			"principal_id", c.session.Principal.ID,
		)
		c.pushError("failed to send message")
	}
}

func (c *Client) pushError(message string) {
	c.Push(services.Event{Name: services.EventError, Payload: services.ErrorPayload{Message: message}})
}

// writePump serializes queued events to the socket and keeps the connection
// alive with pings. Exits when a write fails; readPump's cleanup then tears
// the session down.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
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

// ClientCount returns the current number of connected clients
func (h *ChatHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
