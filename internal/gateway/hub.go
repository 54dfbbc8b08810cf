// internal/gateway/hub.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Conn is the subset of *websocket.Conn the hub uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Publisher mirrors emitted events elsewhere (see cache.Relay).
type Publisher interface {
	Publish(ctx context.Context, msg cache.RelayMessage) error
}

// HubOptions configures inbound throttling. Zero values fall back to 10/s
// with a burst of 20.
type HubOptions struct {
	RatePerSec float64
	Burst      int
	Relay      Publisher
}

// sendQueueSize bounds the events buffered for one connection. A client
// that falls further behind is disconnected and resyncs on reconnect.
const sendQueueSize = 64

type client struct {
	sessionID uuid.UUID
	playerID  uuid.UUID
	conn      Conn
	limiter   *rate.Limiter
	send      chan []byte
	done      chan struct{}
}

// Hub is the websocket implementation of Gateway. One connection per player.
type Hub struct {
	log   logrus.FieldLogger
	relay Publisher
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	clients  map[uuid.UUID]*client
	handlers map[string][]Handler
}

func NewHub(log logrus.FieldLogger, opts HubOptions) *Hub {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	return &Hub{
		log:      log,
		relay:    opts.Relay,
		limit:    rate.Limit(opts.RatePerSec),
		burst:    opts.Burst,
		clients:  make(map[uuid.UUID]*client),
		handlers: make(map[string][]Handler),
	}
}

// Register binds playerID's connection to a session, replacing any earlier
// connection for that player.
func (h *Hub) Register(sessionID, playerID uuid.UUID, conn Conn) {
	c := &client{
		sessionID: sessionID,
		playerID:  playerID,
		conn:      conn,
		limiter:   rate.NewLimiter(h.limit, h.burst),
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	old := h.clients[playerID]
	h.clients[playerID] = c
	h.mu.Unlock()
	go h.writeLoop(c)

	if old != nil {
		close(old.done)
		if old.conn != conn {
			_ = old.conn.Close(websocket.StatusPolicyViolation, "Replaced by a newer connection.")
		}
	}
}

// writeLoop delivers queued events to one connection in emit order.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Warnf("Failed to write to player %s in session %s: %v", c.playerID, c.sessionID, err)
			}
		}
	}
}

// Unregister drops playerID only if conn is still the registered connection.
func (h *Hub) Unregister(playerID uuid.UUID, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[playerID]
	if !ok || c.conn != conn {
		return false
	}
	delete(h.clients, playerID)
	close(c.done)
	return true
}

// Connected reports whether playerID has a registered connection.
func (h *Hub) Connected(playerID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

func (h *Hub) Subscribe(event string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], handler)
}

// Emit marshals payload once and queues it on every matching connection.
// Each connection receives events in the order they were emitted.
func (h *Hub) Emit(ctx context.Context, target Target, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env := Envelope{Type: event, Payload: body}
	if target.SessionID != uuid.Nil {
		env.SessionID = target.SessionID.String()
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	h.mu.RLock()
	var conns []*client
	for _, c := range h.clients {
		if matchesTarget(c, target) {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case <-c.done:
		case c.send <- msg:
		default:
			h.log.Warnf("Send queue full for player %s in session %s, dropping connection on %s", c.playerID, c.sessionID, event)
			go c.conn.Close(websocket.StatusTryAgainLater, "Too far behind.")
		}
	}

	if h.relay != nil {
		rm := cache.RelayMessage{Event: event, Payload: body}
		if target.SessionID != uuid.Nil {
			rm.SessionID = target.SessionID.String()
		}
		if target.PlayerID != uuid.Nil {
			rm.PlayerID = target.PlayerID.String()
		}
		go func() {
			relayCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := h.relay.Publish(relayCtx, rm); err != nil {
				h.log.Warnf("Failed to relay %s: %v", event, err)
			}
		}()
	}
	return nil
}

func matchesTarget(c *client, t Target) bool {
	if t.PlayerID != uuid.Nil {
		return c.playerID == t.PlayerID && (t.SessionID == uuid.Nil || c.sessionID == t.SessionID)
	}
	return c.sessionID == t.SessionID
}

func (h *Hub) Ping(ctx context.Context, playerID uuid.UUID) error {
	h.mu.RLock()
	c, ok := h.clients[playerID]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return c.conn.Ping(ctx)
}

// Serve reads messages from conn until it fails or ctx ends. ping is
// answered directly; every other type is throttled per connection and
// routed to its subscribers. The caller registers and unregisters conn.
func (h *Hub) Serve(ctx context.Context, sessionID, playerID uuid.UUID, conn Conn) {
	from := Player(sessionID, playerID)
	logger := h.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID})
	limiter := h.limiterFor(playerID)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Info("WebSocket closed normally.")
			} else if strings.Contains(err.Error(), "context canceled") {
				logger.Info("WebSocket context canceled.")
			} else {
				logger.Warnf("Error reading from WebSocket: %v (Status: %d)", err, status)
			}
			return
		}
		if msgType != websocket.MessageText {
			logger.Warnf("Received non-text message type %d. Ignoring.", msgType)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warnf("Invalid JSON received: %v", err)
			h.sendError(ctx, conn, "Invalid JSON format.")
			continue
		}

		if env.Type == MessagePing {
			h.send(ctx, conn, Envelope{Type: EventPong})
			continue
		}
		if !limiter.Allow() {
			logger.Warnf("Rate limit exceeded for message '%s'.", env.Type)
			h.sendError(ctx, conn, "Rate limit exceeded.")
			continue
		}

		h.mu.RLock()
		handlers := h.handlers[env.Type]
		h.mu.RUnlock()
		if len(handlers) == 0 {
			logger.Warnf("Unknown message type '%s'.", env.Type)
			h.sendError(ctx, conn, fmt.Sprintf("Unknown message type: %s", env.Type))
			continue
		}
		for _, handle := range handlers {
			handle(ctx, from, env.Payload)
		}
	}
}

func (h *Hub) limiterFor(playerID uuid.UUID) *rate.Limiter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[playerID]; ok {
		return c.limiter
	}
	return rate.NewLimiter(h.limit, h.burst)
}

func (h *Hub) send(ctx context.Context, conn Conn, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Errorf("Error marshaling WebSocket message: %v", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.log.Debugf("Error writing WebSocket message: %v", err)
	}
}

func (h *Hub) sendError(ctx context.Context, conn Conn, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	h.send(ctx, conn, Envelope{Type: EventError, Payload: payload})
}
