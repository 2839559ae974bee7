package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/wire"
)

// sendQueueSize bounds each connection's outbound queue.
const sendQueueSize = 256

// Conn is one live websocket connection. At most one room binding at a
// time; joining another room replaces it.
type Conn struct {
	hub      *Hub
	sock     *websocket.Conn
	id       string
	clientIP string

	send chan wire.Event
	done chan struct{}

	// sendMu serializes enqueue against closeSend.
	sendMu     sync.Mutex
	sendClosed bool

	mu      sync.Mutex
	roomKey string
	userID  string

	closeOnce sync.Once
}

func newConn(h *Hub, sock *websocket.Conn, clientIP string) *Conn {
	return &Conn{
		hub:      h,
		sock:     sock,
		id:       uuid.New().String(),
		clientIP: clientIP,
		send:     make(chan wire.Event, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// binding returns the current room binding, both empty when unbound.
func (c *Conn) binding() (roomKey, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomKey, c.userID
}

func (c *Conn) setBinding(roomKey, userID string) {
	c.mu.Lock()
	c.roomKey = roomKey
	c.userID = userID
	c.mu.Unlock()
}

// enqueue queues an outbound event. Chat messages block the caller until
// the queue drains, so a slow consumer back-pressures senders. Everything
// else drops the oldest queued event instead; presence and history can be
// reconciled, missed chat cannot.
func (c *Conn) enqueue(ev wire.Event) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}

	if ev.Type == wire.EvMessage {
		// Block rather than drop: the queue filling up back-pressures
		// the sender. The done channel frees us if the socket dies first;
		// a peer still stalled past the wait is disconnected.
		timer := time.NewTimer(c.hub.config.SlowConsumerWait)
		defer timer.Stop()
		select {
		case c.send <- ev:
		case <-c.done:
		case <-timer.C:
			logger.Warn("Outbound queue stalled, dropping slow consumer", "conn_id", c.id)
			c.close(websocket.ClosePolicyViolation, "outbound queue stalled")
		}
		return
	}

	for {
		select {
		case c.send <- ev:
			return
		default:
		}
		select {
		case dropped := <-c.send:
			c.hub.metrics.RecordEventDropped(string(dropped.Type))
			logger.Warn("Outbound queue full, dropping oldest event",
				"conn_id", c.id, "dropped", dropped.Type)
		default:
		}
	}
}

// closeSend stops the writer after the queue drains.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// close tears the connection down with a close frame. Safe to call more
// than once.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.sock.Close()
	})
}

// readPump consumes inbound frames until the connection drops, then runs
// the hub's cleanup. One reader per connection.
func (c *Conn) readPump() {
	defer func() {
		c.closeSend()
		c.close(websocket.CloseNormalClosure, "")
		c.hub.connClosed(c)
	}()

	c.sock.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Connection read error", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))

		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.enqueue(wire.ErrorEvent(wire.CodeInvalidPayload, "malformed event envelope"))
			continue
		}
		c.hub.dispatch(c, ev)
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings. One writer per connection.
func (c *Conn) writePump() {
	pingInterval := c.hub.config.ReadTimeout * 8 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.sock.WriteJSON(ev); err != nil {
				logger.Debug("Connection write error", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
