package ops

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// subscription is what a connected client asked to watch. A dashboard
// following one account sends {"accounts":["alpha"]} and stops receiving
// everyone else's traffic; the zero value receives everything. Snapshots
// always pass the filter so a narrowing client still sees the full state
// it connected with.
type subscription struct {
	Accounts []string `json:"accounts,omitempty"`
	Events   []string `json:"events,omitempty"`
}

func (s subscription) wants(evt OpsEvent) bool {
	if evt.Type == "snapshot" {
		return true
	}
	if len(s.Accounts) > 0 && !containsFold(s.Accounts, evt.Account) {
		return false
	}
	if len(s.Events) > 0 && !containsFold(s.Events, evt.Event) {
		return false
	}
	return true
}

func containsFold(set []string, want string) bool {
	for _, v := range set {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// Hub fans trade events out to the connected WebSocket clients, applying
// each client's subscription before queueing. A client whose send queue is
// full gets dropped rather than backpressuring the pipeline tap.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "ws-hub"),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "count", n)
}

// remove detaches a client and closes its send queue. Safe to call twice:
// only the call that finds the client in the set closes the channel.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", "count", n)
	}
}

// BroadcastEvent marshals once and queues the payload on every client whose
// subscription matches.
func (h *Hub) BroadcastEvent(evt OpsEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("event marshal failed", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("slow ws client dropped")
		}
	}
}

// Client is one WebSocket connection with its send queue and current
// subscription.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.Mutex
	sub subscription
}

// NewClient registers the connection with the hub and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	hub.add(c)
	go c.writePump()
	go c.readPump()
	return c
}

func (c *Client) wants(evt OpsEvent) bool {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	return sub.wants(evt)
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. A closed send queue means the hub dropped us.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump accepts subscription updates from the client; anything that is
// not a subscription JSON object is dropped. The tap never accepts
// commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", "err", err)
			}
			return
		}
		var sub subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			c.hub.logger.Warn("unparseable ws message dropped", "err", err)
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}
