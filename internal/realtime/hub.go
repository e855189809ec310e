// Package realtime streams booking and calendar changes to WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"resortwala/internal/events"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Message is the envelope pushed to clients.
type Message struct {
	Type       string          `json:"type"`
	PropertyID int64           `json:"property_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

type outbound struct {
	propertyID int64
	data       []byte
}

// Client is one WebSocket connection. PropertyID 0 receives every property.
type Client struct {
	hub        *Hub
	propertyID int64
	send       chan []byte
}

// Hub keeps the connected clients and fans messages out to them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run is the hub loop. It closes every client when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Int64("property_id", c.propertyID).Msg("WebSocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Msg("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.propertyID != 0 && c.propertyID != msg.propertyID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// медленный клиент
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a message for the clients watching propertyID.
func (h *Hub) Publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode realtime message")
		return
	}
	select {
	case h.broadcast <- outbound{propertyID: msg.PropertyID, data: data}:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("Realtime broadcast channel full, dropping message")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach forwards booking and calendar events to the clients.
func (h *Hub) Attach(bus *events.EventBus) {
	bus.SubscribeMany(events.BookingEvents, h.HandleEvent)
	bus.SubscribeMany(events.CalendarEvents, h.HandleEvent)
}

// HandleEvent converts a domain event into a client message.
func (h *Hub) HandleEvent(e *events.Event) error {
	var ref struct {
		PropertyID int64 `json:"property_id"`
	}
	if err := e.Decode(&ref); err != nil {
		return err
	}
	h.Publish(Message{
		Type:       e.Type,
		PropertyID: ref.PropertyID,
		Timestamp:  e.CreatedAt.UTC(),
		Payload:    json.RawMessage(e.Payload),
	})
	return nil
}

// ServeWS upgrades the request. ?property_id= narrows the stream to one
// property.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var propertyID int64
	if v := r.URL.Query().Get("property_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid property_id", http.StatusBadRequest)
			return
		}
		propertyID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &Client{hub: h, propertyID: propertyID, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(conn)
	go c.readPump(conn)
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only keeps the connection alive; clients do not send commands.
func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}
