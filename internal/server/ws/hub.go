// Package ws relays settlement and position events from the signal bus to
// dashboard websocket clients as protobuf Struct binary frames.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/ecovest/internal/domain"
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
	sendBufferSize = 64

	// replayPage is the stream page size used to find the latest report.
	replayPage = 500
)

// defaultChannels are the bus channels the hub relays.
var defaultChannels = []string{
	domain.ChannelSettlement,
	domain.ChannelPositions,
}

// upgrader configures the WebSocket upgrade parameters. Origins are checked
// by the CORS and auth middleware in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON text frame a client sends to change channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// broadcastMsg carries an encoded frame along with its source channel so the
// hub can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	frame   []byte
}

// Hub manages connected WebSocket clients and broadcasts bus messages to
// them. New clients first receive the most recent settlement report.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	logger     *slog.Logger

	mu     sync.RWMutex
	latest []byte // last settlement frame
}

// NewHub creates a hub bridging bus to websocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	h.loadLatest(ctx)
	for _, ch := range defaultChannels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// loadLatest pages through the settlement stream so that clients connecting
// before the next cycle still see the last report.
func (h *Hub) loadLatest(ctx context.Context) {
	lastID := ""
	var last []byte
	for {
		msgs, err := h.bus.StreamRead(ctx, domain.StreamSettlement, lastID, replayPage)
		if err != nil {
			h.logger.WarnContext(ctx, "ws: read settlement stream failed", slog.String("error", err.Error()))
			break
		}
		if len(msgs) == 0 {
			break
		}
		lastID = msgs[len(msgs)-1].ID
		last = msgs[len(msgs)-1].Payload
		if len(msgs) < replayPage {
			break
		}
	}
	if last == nil {
		return
	}
	frame, err := EncodeFrame(domain.ChannelSettlement, last)
	if err != nil {
		h.logger.WarnContext(ctx, "ws: encode latest report failed", slog.String("error", err.Error()))
		return
	}
	h.setLatest(frame)
}

func (h *Hub) setLatest(frame []byte) {
	h.mu.Lock()
	h.latest = frame
	h.mu.Unlock()
}

// subscribeToChannel forwards bus messages on channel to the broadcast loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.InfoContext(ctx, "ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			frame, err := EncodeFrame(channel, data)
			if err != nil {
				h.logger.WarnContext(ctx, "ws: encode frame failed",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			if channel == domain.ChannelSettlement {
				h.setLatest(frame)
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	h.mu.RLock()
	latest := h.latest
	h.mu.RUnlock()
	if latest != nil {
		c.send <- latest
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump handles subscription changes sent by the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump sends frames as binary messages and keeps the connection alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
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

// EncodeFrame wraps a bus payload in a protobuf Struct
// {"channel": ..., "payload": {...}}. Payloads that are not JSON objects are
// carried as a string under "raw".
func EncodeFrame(channel string, payload []byte) ([]byte, error) {
	fields := map[string]any{"channel": channel}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err == nil && obj != nil {
		fields["payload"] = obj
	} else {
		fields["raw"] = string(payload)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("ws: build frame: %w", err)
	}
	frame, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal frame: %w", err)
	}
	return frame, nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(frame []byte) (channel string, fields map[string]any, err error) {
	var st structpb.Struct
	if err := proto.Unmarshal(frame, &st); err != nil {
		return "", nil, fmt.Errorf("ws: unmarshal frame: %w", err)
	}
	fields = st.AsMap()
	channel, _ = fields["channel"].(string)
	return channel, fields, nil
}
