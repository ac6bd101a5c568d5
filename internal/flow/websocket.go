package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lodestar/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is a published message pushed to all connected clients.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// WebSocketFlow is the streaming channel: connected clients receive the
// coordinator's published events (diagnostic reports, status changes).
type WebSocketFlow struct {
	kind   string
	opts   Options
	src    Source
	logger logging.Logger

	hub *hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// NewWebSocketFlow builds the websocket channel.
func NewWebSocketFlow(kind string, opts Options, src Source, logger logging.Logger) (Flow, error) {
	return &WebSocketFlow{kind: kind, opts: opts, src: src, logger: logger, hub: newHub(logger)}, nil
}

func (f *WebSocketFlow) Kind() string { return f.kind }

// Start binds the listen address, runs the hub loop and begins serving.
func (f *WebSocketFlow) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	listener, err := net.Listen("tcp", f.opts.Addr())
	if err != nil {
		return fmt.Errorf("start websocket flow: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.serveWS)

	f.server = &http.Server{Handler: mux}
	f.listener = listener
	f.running = true

	go f.hub.run()
	go func() {
		if err := f.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.WithError(err).Error("WebSocket flow serve failed")
		}
	}()

	f.logger.WithFields(logging.Fields{"flow": f.kind, "addr": listener.Addr().String()}).Info("Flow started")
	return nil
}

// Stop disconnects all clients and closes the listener.
func (f *WebSocketFlow) Stop(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false

	f.hub.stop()

	done := make(chan error, 1)
	go func() { done <- f.server.Close() }()
	select {
	case err := <-done:
		f.logger.WithField("flow", f.kind).Info("Flow stopped")
		return err
	case <-time.After(timeout):
		f.logger.WithField("flow", f.kind).Warn("WebSocket flow stop timed out")
		return nil
	}
}

func (f *WebSocketFlow) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *WebSocketFlow) Status() map[string]any {
	f.mu.Lock()
	addr := f.opts.Addr()
	if f.listener != nil {
		addr = f.listener.Addr().String()
	}
	running := f.running
	f.mu.Unlock()

	return map[string]any{
		"channel": "websocket",
		"running": running,
		"addr":    addr,
		"clients": f.hub.clientCount(),
	}
}

// Addr returns the bound listen address, for tests that start on port 0.
func (f *WebSocketFlow) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// Publish broadcasts an event to every connected client.
func (f *WebSocketFlow) Publish(v any) {
	data, err := json.Marshal(Event{Type: "update", Data: v, Timestamp: time.Now().UTC()})
	if err != nil {
		f.logger.WithError(err).Error("Failed to marshal websocket event")
		return
	}
	f.hub.broadcastBytes(data)
}

func (f *WebSocketFlow) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	client := &client{hub: f.hub, conn: conn, send: make(chan []byte, 64)}
	select {
	case f.hub.register <- client:
	case <-f.hub.done:
		// Upgrade raced shutdown; the hub loop is gone.
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// hub maintains the set of active clients and broadcasts messages to them
type hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     logging.Logger
	mu         sync.RWMutex
}

func newHub(logger logging.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("client_count", count).Info("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("client_count", count).Info("Client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop the message rather than block the hub.
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *hub) stop() {
	close(h.done)
}

func (h *hub) broadcastBytes(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// client represents a WebSocket client connection
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
