package storefront

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/obs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

type update struct {
	sessionID string
	seq       uint64
	payload   []byte
}

type registration struct {
	client  *client
	current update
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	onPong    func()
}

// Hub fans checkout snapshots out to the websocket clients watching each
// session. All client bookkeeping happens on the Run goroutine. The hub
// remembers the newest snapshot per session and never forwards one with an
// older or equal Seq, so clients see transitions in order.
type Hub struct {
	register   chan registration
	unregister chan *client
	broadcast  chan update
	drop       chan string
	done       chan struct{}
	clients    map[string]map[*client]bool
	latest     map[string]update
	logger     zerolog.Logger
}

// NewHub constructs a Hub. Call Run before publishing.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan registration),
		unregister: make(chan *client),
		broadcast:  make(chan update),
		drop:       make(chan string),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*client]bool),
		latest:     make(map[string]update),
		logger:     logger.With().Str("component", "storefront.hub").Logger(),
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case reg := <-h.register:
			c := reg.client
			h.advance(reg.current)
			set, ok := h.clients[c.sessionID]
			if !ok {
				set = make(map[*client]bool)
				h.clients[c.sessionID] = set
			}
			set[c] = true
			obs.AddGauge(obs.CheckoutEventStreams, 1)
			c.send <- h.latest[c.sessionID].payload
		case c := <-h.unregister:
			h.remove(c)
		case u := <-h.broadcast:
			if !h.advance(u) {
				h.logger.Debug().Str("session_id", u.sessionID).Uint64("seq", u.seq).Msg("stale_snapshot_dropped")
				continue
			}
			for c := range h.clients[u.sessionID] {
				select {
				case c.send <- u.payload:
				default:
					// slow consumer; it reconnects and re-reads the current snapshot
					h.remove(c)
				}
			}
		case id := <-h.drop:
			for c := range h.clients[id] {
				h.remove(c)
			}
			delete(h.latest, id)
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
					obs.AddGauge(obs.CheckoutEventStreams, -1)
				}
			}
			h.clients = make(map[string]map[*client]bool)
			h.latest = make(map[string]update)
			return
		}
	}
}

// advance records u as the newest snapshot of its session. It reports false
// when u is not newer than what the hub already holds.
func (h *Hub) advance(u update) bool {
	if prev, ok := h.latest[u.sessionID]; ok && u.seq <= prev.seq {
		return false
	}
	h.latest[u.sessionID] = u
	return true
}

func (h *Hub) encode(sessionID string, snap checkout.Snapshot) (update, bool) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("encode_snapshot")
		return update{}, false
	}
	return update{sessionID: sessionID, seq: snap.Seq, payload: payload}, true
}

// Publish sends snap to every client watching sessionID unless a newer
// snapshot of the session has already gone out.
func (h *Hub) Publish(sessionID string, snap checkout.Snapshot) {
	u, ok := h.encode(sessionID, snap)
	if !ok {
		return
	}
	select {
	case h.broadcast <- u:
	case <-h.done:
	}
}

// Drop disconnects every client of sessionID.
func (h *Hub) Drop(sessionID string) {
	select {
	case h.drop <- sessionID:
	case <-h.done:
	}
}

// add registers c and queues the newest known snapshot of its session,
// which is current unless the hub has already seen a later one.
func (h *Hub) add(c *client, current checkout.Snapshot) bool {
	u, ok := h.encode(c.sessionID, current)
	if !ok {
		return false
	}
	select {
	case h.register <- registration{client: c, current: u}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(c *client) {
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
		obs.AddGauge(obs.CheckoutEventStreams, -1)
	}
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.onPong != nil {
			c.onPong()
		}
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
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
