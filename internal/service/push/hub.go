// Package push fans published results out to browser websocket clients.
package push

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Envelope is the frame written to clients.
type Envelope struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Command is what clients may send to change their subscriptions.
type Command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	all    bool
	topics map[string]bool
	once   sync.Once
}

func (c *client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.topics[topic]
}

func (c *client) apply(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Action {
	case "subscribe":
		if cmd.Topic == "*" {
			c.all = true
			return
		}
		c.topics[cmd.Topic] = true
	case "unsubscribe":
		if cmd.Topic == "*" {
			c.all = false
			return
		}
		delete(c.topics, cmd.Topic)
	}
}

// Hub implements ResultPublisher over websocket connections at /ws.
// A client whose send buffer is full is disconnected.
type Hub struct {
	log          *logger.Logger
	metrics      domrepo.Metrics
	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var _ domrepo.ResultPublisher = (*Hub)(nil)

type Option func(*Hub)

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// NewHub returns a hub with no clients. Close disconnects everyone.
func NewHub(log *logger.Logger, metrics domrepo.Metrics, opts ...Option) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Hub{
		log:          log.Named("push"),
		metrics:      metrics,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sendBuffer:   64,
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.serve)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish never blocks on slow clients.
func (h *Hub) Publish(topic string, payload interface{}) {
	b, err := json.Marshal(Envelope{Topic: topic, Payload: payload})
	if err != nil {
		h.log.Warn("encode push payload", logger.String("topic", topic), logger.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		if h.metrics != nil {
			h.metrics.RecordError("push_slow_client")
		}
		h.remove(c)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}

func (h *Hub) serve(ctx echo.Context) error {
	conn, err := h.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer), topics: make(map[string]bool)}
	if q := ctx.QueryParam("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.topics[t] = true
			}
		}
	} else {
		c.all = true
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client connected", logger.String("remote", ctx.RealIP()))

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("client read", logger.Error(err))
			}
			return
		}
		c.apply(cmd)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
