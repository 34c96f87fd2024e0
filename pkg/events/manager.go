package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of ring-buffered events a channel
// retains and replays to a newly-subscribed client. Older events beyond
// this are dropped; a client that has missed more than catchupLimit
// events is told to fall back to a full REST reload instead.
const catchupLimit = 200

// Manager tracks WebSocket connections and channel subscriptions for one
// server process. Unlike the cross-pod ConnectionManager this is adapted
// from, there is no PostgreSQL LISTEN/NOTIFY to coordinate: the embedded
// store is single-process (spec.md §4.1), so Broadcast reaches every
// subscriber directly and a channel's recent history lives in an
// in-memory ring buffer rather than a database table.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool // channel -> set of connection ids
	channelMu sync.RWMutex

	history   map[string][]Event // channel -> bounded recent-event ring buffer
	historyMu sync.Mutex

	nextEventID atomic.Int64

	writeTimeout time.Duration
	logger       *slog.Logger
}

// Connection is a single WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen
// on the single goroutine that owns this connection (HandleConnection's
// read loop and its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewManager constructs a Manager. logger may be nil.
func NewManager(writeTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		history:      make(map[string][]Event),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the HTTP handler after upgrade; blocks until the connection
// closes.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

func (m *Manager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
		m.handleCatchup(c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		since := int64(0)
		if msg.LastEventID != nil {
			since = *msg.LastEventID
		}
		m.handleCatchup(c, msg.Channel, since)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// Publish assigns the next monotonic event id, records the event in
// channel's ring buffer, and broadcasts it to every current subscriber.
func (m *Manager) Publish(channel, eventType string, payload any) Event {
	ev := Event{ID: m.nextEventID.Add(1), Type: eventType, Channel: channel, Payload: payload}

	m.historyMu.Lock()
	buf := append(m.history[channel], ev)
	if len(buf) > catchupLimit {
		buf = buf[len(buf)-catchupLimit:]
	}
	m.history[channel] = buf
	m.historyMu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("failed to marshal event", "channel", channel, "type", eventType, "error", err)
		return ev
	}
	m.broadcast(channel, data)
	return ev
}

// broadcast sends a pre-marshaled event to every connection subscribed to
// channel.
func (m *Manager) broadcast(channel string, data []byte) {
	m.channelMu.RLock()
	subs, ok := m.channels[channel]
	if !ok {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, data); err != nil {
			m.logger.Warn("failed to send to websocket client", "connection_id", conn.ID, "error", err)
		}
	}
}

// History returns a copy of channel's currently ring-buffered events, for
// the REST fallback spec.md §6 offers a client that fell further behind
// than catchupLimit events.
func (m *Manager) History(channel string) []Event {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	return append([]Event(nil), m.history[channel]...)
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *Manager) subscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (m *Manager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup replays channel's ring-buffered events newer than
// sinceID. If the buffer no longer holds the requested range (the client
// fell further behind than catchupLimit events), it tells the client to
// fall back to a full REST reload instead of silently under-delivering.
func (m *Manager) handleCatchup(c *Connection, channel string, sinceID int64) {
	m.historyMu.Lock()
	buf := append([]Event(nil), m.history[channel]...)
	m.historyMu.Unlock()

	overflow := len(buf) >= catchupLimit && buf[0].ID > sinceID+1
	for _, ev := range buf {
		if ev.ID <= sinceID {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, data); err != nil {
			m.logger.Warn("failed to send catchup event", "connection_id", c.ID, "error", err)
			return
		}
	}

	if overflow {
		m.sendJSON(c, map[string]any{"type": "catchup.overflow", "channel": channel, "has_more": true})
	}
}

func (m *Manager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *Manager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to marshal websocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.logger.Warn("failed to send websocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
