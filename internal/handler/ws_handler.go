package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/assistly/callcenter-service/internal/services/call"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second

	// Slow consumers get dropped rather than backing up the feed.
	wsSendBuffer = 64
)

// WSMessage is one frame on the live call feed.
type WSMessage struct {
	Type      string      `json:"type"`
	CallID    string      `json:"call_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// WSHandler streams call, phone and workspace events to connected
// operator dashboards over a websocket.
type WSHandler struct {
	service  *call.CallCenterService
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
}

// NewWSHandler creates the feed handler and subscribes it to the event bus.
func NewWSHandler(service *call.CallCenterService) *WSHandler {
	h := &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}

	bus := service.Bus()
	for _, t := range []event.Type{
		event.CallUpserted,
		event.CallEnded,
		event.StoreStale,
		event.StoreRecovered,
		event.IncomingCallActivated,
		event.IncomingCallDismissed,
		event.IncomingCallSuperseded,
		event.IncomingCallExpired,
		event.PhonePhaseChanged,
		event.WorkspaceVisibilityChanged,
	} {
		bus.Subscribe(t, h.onEvent)
	}

	return h
}

func (h *WSHandler) onEvent(evt *event.Event) {
	msg := WSMessage{
		Type:      string(evt.Type),
		CallID:    evt.CallID,
		Timestamp: evt.Timestamp,
		Data:      evt.Data,
	}
	h.broadcast(msg)
}

func (h *WSHandler) broadcast(msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeFeed upgrades the connection and starts streaming events. A
// snapshot of current state is sent first so clients render immediately.
func (h *WSHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan WSMessage, wsSendBuffer)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.sendSnapshot(client)

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *WSHandler) sendSnapshot(c *wsClient) {
	calls := h.service.ActiveCalls()
	snap := WSMessage{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"calls":     calls,
			"stale":     h.service.Stale(),
			"phone":     h.service.PhoneStatus(),
			"workspace": h.service.WorkspaceSnapshot(),
		},
	}
	select {
	case c.send <- snap:
	default:
	}
}

func (h *WSHandler) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(c *wsClient) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	for {
		// Clients never send payloads, the read loop only detects closes.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// ClientCount reports connected feed clients.
func (h *WSHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
