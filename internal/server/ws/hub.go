// Package ws bridges the Redis event bus to WebSocket clients so UIs can
// follow round transitions, bets, and claims live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperpredict/predictd/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// resubscribeDelay is the pause before reconnecting a dropped bus
	// subscription.
	resubscribeDelay = 2 * time.Second

	// replayBatch caps how many backlog events a fresh connection receives.
	replayBatch = 100
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// EventSource is the bus side of the hub: a stream of decoded events.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// Replayer serves the retained event backlog so reconnecting clients can
// catch up on what they missed. The durable stream behind the bus provides
// this when available.
type Replayer interface {
	ReplayEvents(ctx context.Context, lastID string, count int) ([]domain.Event, string, error)
}

// InstanceLister supplies the instance snapshot sent to clients on connect.
type InstanceLister interface {
	List() []domain.InstanceInfo
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	instances map[string]bool // subscribed instance IDs
	all       bool            // receive events from every instance
}

// subscribeMsg is the JSON message a client sends to manage its instance
// subscriptions. An entry of "*" subscribes to everything.
type subscribeMsg struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Hub manages a set of connected WebSocket clients and fans events from the
// bus out to all subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.Event
	register   chan *client
	unregister chan *client
	bus        EventSource
	replay     Replayer
	instances  InstanceLister
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a hub bridging an event source to WebSocket clients.
// instances may be nil; the connect snapshot is then omitted. Backlog replay
// is offered when the event source also retains a durable stream.
func NewHub(bus EventSource, instances InstanceLister, logger *slog.Logger) *Hub {
	replay, _ := bus.(Replayer)
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		replay:     replay,
		instances:  instances,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, unregistration, and event broadcasting.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev.InstanceID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn("ws: dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump keeps a bus subscription alive and feeds received events into the
// broadcast channel, reconnecting when the stream drops.
func (h *Hub) pump(ctx context.Context) {
	for {
		ch, err := h.bus.Subscribe(ctx)
		if err != nil {
			h.logger.Error("ws: event subscription failed",
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
				continue
			}
		}

		for ev := range ch {
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
			h.logger.Warn("ws: event stream closed, resubscribing")
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. An optional ?instance= query parameter narrows
// the initial subscription; the default is every instance. ?after=<stream id>
// ("0" for everything retained) replays the event backlog before live events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		instances: make(map[string]bool),
		all:       true,
	}
	if id := r.URL.Query().Get("instance"); id != "" {
		c.all = false
		c.instances[id] = true
	}

	h.register <- c
	c.sendSnapshot()
	if after := r.URL.Query().Get("after"); after != "" {
		c.sendBacklog(r.Context(), after)
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wants reports whether the client subscribed to events of instanceID.
func (c *client) wants(instanceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all || instanceID == "" {
		return true
	}
	return c.instances[instanceID]
}

// sendSnapshot queues the initial instance snapshot for a fresh client.
func (c *client) sendSnapshot() {
	if c.hub.instances == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":       "snapshot",
		"started_at": c.hub.startedAt.Format(time.RFC3339),
		"instances":  c.hub.instances.List(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendBacklog queues retained events recorded after the given stream ID.
// Stops early if the client's send buffer fills; live events follow anyway.
func (c *client) sendBacklog(ctx context.Context, after string) {
	if c.hub.replay == nil {
		return
	}
	events, _, err := c.hub.replay.ReplayEvents(ctx, after, replayBatch)
	if err != nil {
		c.hub.logger.Warn("ws: backlog replay failed",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, ev := range events {
		if !c.wants(ev.InstanceID) {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil &&
			(len(sub.Subscribe) > 0 || len(sub.Unsubscribe) > 0) {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range msg.Subscribe {
		if id == "*" {
			c.all = true
			continue
		}
		c.instances[id] = true
	}
	for _, id := range msg.Unsubscribe {
		if id == "*" {
			c.all = false
			continue
		}
		delete(c.instances, id)
	}
}

// writePump writes queued messages to the WebSocket connection and keeps it
// alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
