package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// TraceHub manages WebSocket subscribers to the live search trace feed.
// Every captured session trace is broadcast to all connected clients.
type TraceHub struct {
	clients        map[clientInterface]bool
	broadcast      chan interface{}
	register       chan clientInterface
	unregister     chan clientInterface
	allowedOrigins map[string]bool
	originPatterns []string
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *TraceHub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewTraceHub creates a hub that accepts connections from the given origins
// (full origins like "http://localhost:6380"). Requests without an Origin
// header are allowed; non-browser clients rarely send one.
func NewTraceHub(allowedOrigins []string) *TraceHub {
	ctx, cancel := context.WithCancel(context.Background())

	origins := make(map[string]bool, len(allowedOrigins))
	patterns := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = true
		trimmed := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		patterns = append(patterns, trimmed)
	}

	return &TraceHub{
		clients:        make(map[clientInterface]bool),
		broadcast:      make(chan interface{}, 256),
		register:       make(chan clientInterface),
		unregister:     make(chan clientInterface),
		allowedOrigins: origins,
		originPatterns: patterns,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *TraceHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Trace feed client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Trace feed client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			// Full lock: the default branch may delete from the map.
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("ERROR: Failed to marshal trace feed message: %v", err)
				h.mu.Unlock()
				continue
			}

			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					// Client's send channel is full, disconnect them.
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			log.Println("Trace feed hub stopping...")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *TraceHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *TraceHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("WARNING: trace feed broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *TraceHub) Register(client clientInterface) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *TraceHub) Unregister(client clientInterface) {
	h.unregister <- client
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *TraceHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowedOrigins[origin] {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()

		if err != nil {
			log.Printf("ERROR: WebSocket write failed: %v", err)
			return
		}
	}
}

// readPump drains messages from the WebSocket connection to detect
// disconnections. The trace feed is one-way.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {
	// No-op for mock client
}
