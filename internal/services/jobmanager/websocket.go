package jobmanager

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans job lifecycle events out to WebSocket clients and in-process
// subscriber channels.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan models.JobEvent
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	mu          sync.RWMutex
	subscribers map[chan<- models.JobEvent]bool

	logger *common.Logger
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a job event hub.
func NewHub(logger *common.Logger) *Hub {
	return &Hub{
		clients:     make(map[*wsClient]bool),
		broadcast:   make(chan models.JobEvent, 256),
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
		done:        make(chan struct{}),
		subscribers: make(map[chan<- models.JobEvent]bool),
		logger:      logger,
	}
}

// Subscribe registers an in-process listener. Events are dropped rather
// than block when the listener falls behind. The returned function
// unsubscribes.
func (h *Hub) Subscribe(ch chan<- models.JobEvent) func() {
	h.mu.Lock()
	h.subscribers[ch] = true
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
}

// Broadcast queues an event for fan-out. Non-blocking: a full hub drops
// the event.
func (h *Hub) Broadcast(event models.JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Msg("Job event channel full, dropping event")
	}
}

// Run is the hub's event loop. Called as a goroutine by the manager.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Msg("Job event client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.dispatch(event)
		}
	}
}

// dispatch delivers one event to every subscriber and WebSocket client,
// disconnecting clients too slow to keep up.
func (h *Hub) dispatch(event models.JobEvent) {
	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	h.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to marshal job event")
		return
	}

	h.mu.RLock()
	var slow []*wsClient
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		}
		h.mu.Unlock()
	}
}

// Stop signals the event loop to exit.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
