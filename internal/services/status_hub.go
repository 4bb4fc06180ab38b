package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datasync/engine/internal/models"
	"github.com/datasync/engine/internal/observability"
)

// Status event types pushed to websocket subscribers
const (
	WSTypeStateChanged  = "state_changed"
	WSTypeCycleFinished = "cycle_finished"
	WSTypePing          = "ping"
	WSTypePong          = "pong"
)

// WSMessage is the envelope for every websocket frame
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StatePayload is sent on every engine state transition
type StatePayload struct {
	State models.SyncState `json:"state"`
}

// WSClient is one connected status subscriber
type WSClient struct {
	ID         string
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *StatusHub
	mu         sync.Mutex
	closedOnce sync.Once
}

// StatusHub fans engine state transitions and cycle summaries out to
// connected websocket clients. It implements StatusNotifier.
type StatusHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once
	logger     *observability.Logger
	mu         sync.RWMutex
}

// NewStatusHub creates a hub; call Run before registering clients.
func NewStatusHub(logger *observability.Logger) *StatusHub {
	return &StatusHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run drives the hub's event loop until Stop is called
func (h *StatusHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.WithField("clientId", client.ID).Debug("status client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.logger.WithField("clientId", client.ID).Debug("status client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Client buffer full, drop the connection
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends the event loop and disconnects every client. Safe to call
// more than once.
func (h *StatusHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a client to the hub
func (h *StatusHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *StatusHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// NotifyState broadcasts an engine state transition
func (h *StatusHub) NotifyState(state models.SyncState) {
	h.send(WSMessage{Type: WSTypeStateChanged, Payload: StatePayload{State: state}})
}

// NotifyCycle broadcasts a finished cycle's summary
func (h *StatusHub) NotifyCycle(result models.CycleResult) {
	h.send(WSMessage{Type: WSTypeCycleFinished, Payload: result})
}

func (h *StatusHub) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("failed to marshal status event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Broadcast buffer full; status events are advisory and droppable.
	}
}

// ClientCount returns the number of connected clients
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient creates a client bound to this hub
func (h *StatusHub) NewClient(id string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 64),
		hub:  h,
	}
}

// Close closes the client connection
func (c *WSClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps hub messages to the websocket connection
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

// ReadPump consumes inbound frames until the connection closes
func (c *WSClient) ReadPump(onMessage func(client *WSClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithField("error", err.Error()).Debug("websocket read error")
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}
