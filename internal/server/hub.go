package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/htmlforge/internal/logging"
	"github.com/conneroisu/htmlforge/internal/metrics"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	sendBuffer   = 16
	maxReadBytes = 4096
)

// Message types pushed to reload clients.
const (
	MessageOK    = "ok"
	MessageClose = "close"
)

// Message is the JSON frame sent to reload clients.
type Message struct {
	Type string `json:"type"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans build notifications out to connected browsers.
type Hub struct {
	clients    map[*websocket.Conn]*client
	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan []byte
	quit       chan []byte

	originPatterns []string
	logger         logging.Logger
	metrics        *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub starts a hub. Close must be called to release it.
func NewHub(logger logging.Logger, m *metrics.Metrics, originPatterns []string) *Hub {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[*websocket.Conn]*client),
		register:       make(chan *client),
		unregister:     make(chan *websocket.Conn),
		broadcast:      make(chan []byte, sendBuffer),
		quit:           make(chan []byte),
		originPatterns: originPatterns,
		logger:         logger.WithComponent("hub"),
		metrics:        m,
		ctx:            ctx,
		cancel:         cancel,
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case c := <-h.register:
			h.add(c)
		case conn := <-h.unregister:
			h.remove(conn)
		case msg := <-h.broadcast:
			h.fanout(msg)
		case msg := <-h.quit:
			h.fanout(msg)
			for conn := range h.clients {
				h.remove(conn)
			}
			return
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.conn] = c
	n := len(h.clients)
	h.metrics.SetClients(n)
	h.mu.Unlock()

	h.wg.Add(1)
	go h.writePump(c)

	h.logger.Debug(h.ctx, "client connected", "clients", n)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(c.send)
	}
	n := len(h.clients)
	h.metrics.SetClients(n)
	h.mu.Unlock()

	if ok {
		h.logger.Debug(h.ctx, "client disconnected", "clients", n)
	}
}

// fanout runs on the hub goroutine only.
func (h *Hub) fanout(msg []byte) {
	h.mu.RLock()
	var slow []*websocket.Conn
	for conn, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.remove(conn)
	}
	h.metrics.ObserveBroadcast()
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and holds the connection until the
// client leaves or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxReadBytes)

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	h.readPump(c)

	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// readPump discards client frames. It returns once the connection is
// closed by either side.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "write to client failed", "error", err)
				_ = c.conn.CloseNow()
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}

// Close sends a close message to every client, disconnects them and
// waits for the hub goroutines to exit.
func (h *Hub) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		data, _ := json.Marshal(Message{Type: MessageClose})
		h.quit <- data
		h.cancel()
		h.wg.Wait()
	})
}
