// Package log_stream relays download notifications to WebSocket clients.
package log_stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"histdata/go_src/download"
)

const (
	// Path the hub is mounted on by NewServer.
	Path = "/logs"

	clientBuffer   = 256
	defaultBacklog = 200
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	addr string
	out  chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub broadcasts events to every connected client. New clients first receive
// the most recent events. A client that cannot keep up is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	backlog [][]byte
	limit   int
	closed  bool
}

// NewHub creates a hub that replays up to backlog events to new clients.
func NewHub(backlog int) *Hub {
	if backlog < 0 {
		backlog = 0
	}
	return &Hub{clients: make(map[*client]struct{}), limit: backlog}
}

// NewDefaultHub creates a hub with the default backlog.
func NewDefaultHub() *Hub {
	return NewHub(defaultBacklog)
}

// NewServer returns an HTTP server exposing hub on Path.
func NewServer(addr string, hub *Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(Path, hub)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

// Publish broadcasts ev as JSON. It implements download.EventSink.
func (h *Hub) Publish(ev download.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.Errorf("log_stream: failed to marshal event: %v", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast sends msg to every client without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.limit > 0 {
		h.backlog = append(h.backlog, msg)
		if len(h.backlog) > h.limit {
			h.backlog = h.backlog[len(h.backlog)-h.limit:]
		}
	}
	for c := range h.clients {
		select {
		case c.out <- msg:
		default:
			logrus.Warnf("log_stream: dropping slow client %s", c.addr)
			delete(h.clients, c)
			c.stop()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Debugf("log_stream: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		out:  make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		return
	}
	logrus.Debugf("log_stream: client %s connected", c.addr)

	go h.readLoop(c)
	h.writeLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	logrus.Debugf("log_stream: client %s disconnected", c.addr)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for _, msg := range h.backlog {
		select {
		case c.out <- msg:
		default:
		}
	}
	h.clients[c] = struct{}{}
	return true
}

// readLoop discards client messages and notices when the client goes away.
func (h *Hub) readLoop(c *client) {
	defer c.stop()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
