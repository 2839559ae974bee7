// Package ws terminates the persistent bidirectional connections of the
// session gateway. Each connection runs one reader and one writer
// goroutine; the Hub tracks room subscriptions and implements the fan-out
// surface the room registry notifies through.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cliproom/cliproom/internal/logger"
	"github.com/cliproom/cliproom/pkg/metrics"
	"github.com/cliproom/cliproom/pkg/ratelimit"
	"github.com/cliproom/cliproom/pkg/registry"
	"github.com/cliproom/cliproom/pkg/wire"
)

// Config tunes connection handling.
type Config struct {
	// DisconnectGrace is how long a dropped connection keeps its room
	// membership before the user is removed.
	DisconnectGrace time.Duration
	// ReadTimeout bounds idle reads. Pings go out at a fraction of it.
	ReadTimeout time.Duration
	// MaxMessageSize caps one inbound frame.
	MaxMessageSize int64
	// SlowConsumerWait bounds how long a chat message fan-out may block on
	// one connection's full queue before that peer is dropped.
	SlowConsumerWait time.Duration
	// AllowedOrigins restricts browser connections by Origin header.
	// Empty means any origin.
	AllowedOrigins []string
}

func (c *Config) applyDefaults() {
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 256 * 1024
	}
	if c.SlowConsumerWait == 0 {
		c.SlowConsumerWait = 10 * time.Second
	}
}

// graceKey identifies a pending membership removal.
type graceKey struct {
	roomKey string
	userID  string
}

// Hub owns all live connections and their room subscriptions. It
// implements the registry's Notifier interface.
type Hub struct {
	config   Config
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	metrics  metrics.GatewayMetrics
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*Conn]bool
	rooms  map[string]map[*Conn]bool
	grace  map[graceKey]*time.Timer
	closed bool
}

// NewHub creates the hub. The metrics implementation may be nil.
func NewHub(config Config, reg *registry.Registry, limiter *ratelimit.Limiter, gm metrics.GatewayMetrics) *Hub {
	config.applyDefaults()
	if gm == nil {
		gm = metrics.NopGateway{}
	}
	return &Hub{
		config:   config,
		registry: reg,
		limiter:  limiter,
		metrics:  gm,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
		conns: make(map[*Conn]bool),
		rooms: make(map[string]map[*Conn]bool),
		grace: make(map[graceKey]*time.Timer),
	}
}

// HandleWS upgrades an HTTP request and runs the connection until it drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(h, sock, clientIP(r))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sock.Close()
		return
	}
	h.conns[conn] = true
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.RecordConnectionOpened()
	h.metrics.SetActiveConnections(total)
	logger.Debug("Connection opened", "conn_id", conn.id, "remote_addr", r.RemoteAddr)

	go conn.writePump()
	conn.readPump()
}

// originChecker builds the upgrade origin policy. Non-browser clients send
// no Origin header and always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[strings.TrimSuffix(origin, "/")]
	}
}

// clientIP prefers the RealIP middleware result carried in RemoteAddr.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// bind subscribes a connection to a room after a successful join and
// cancels any pending grace removal for that member.
func (h *Hub) bind(c *Conn, roomKey, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.rooms[roomKey]; ok {
		set[c] = true
	} else {
		h.rooms[roomKey] = map[*Conn]bool{c: true}
	}

	key := graceKey{roomKey: roomKey, userID: userID}
	if timer, ok := h.grace[key]; ok {
		timer.Stop()
		delete(h.grace, key)
	}
}

// unbind drops a connection's room subscription without touching
// membership. Used on leave and on rebinding to another room.
func (h *Hub) unbind(c *Conn, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(c, roomKey)
}

func (h *Hub) unbindLocked(c *Conn, roomKey string) {
	if set, ok := h.rooms[roomKey]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// connClosed runs when a connection's reader returns. A member that drops
// without leaving keeps its membership for the grace window in case the
// client reconnects.
func (h *Hub) connClosed(c *Conn) {
	roomKey, userID := c.binding()

	h.mu.Lock()
	delete(h.conns, c)
	if roomKey != "" {
		h.unbindLocked(c, roomKey)
	}
	total := len(h.conns)
	closed := h.closed
	h.mu.Unlock()

	h.limiter.Forget(c.id)
	h.metrics.RecordConnectionClosed()
	h.metrics.SetActiveConnections(total)

	if roomKey == "" || closed {
		return
	}

	h.registry.SetOnline(roomKey, userID, false)
	h.scheduleGrace(roomKey, userID)
	logger.Debug("Connection dropped while in room", "conn_id", c.id, "room", roomKey, "user_id", userID)
}

// scheduleGrace arms the delayed removal for a member whose connection
// dropped. A reconnect within the window cancels it through bind.
func (h *Hub) scheduleGrace(roomKey, userID string) {
	key := graceKey{roomKey: roomKey, userID: userID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if timer, ok := h.grace[key]; ok {
		timer.Stop()
	}
	h.grace[key] = time.AfterFunc(h.config.DisconnectGrace, func() {
		h.mu.Lock()
		delete(h.grace, key)
		h.mu.Unlock()
		h.registry.Leave(roomKey, userID)
	})
}

// roomConns snapshots the subscribers of a room.
func (h *Hub) roomConns(roomKey string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.rooms[roomKey]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers ev to every member of the room.
func (h *Hub) Broadcast(roomKey string, ev wire.Event) {
	for _, c := range h.roomConns(roomKey) {
		c.enqueue(ev)
	}
}

// BroadcastExcept delivers ev to every member except userID.
func (h *Hub) BroadcastExcept(roomKey, userID string, ev wire.Event) {
	for _, c := range h.roomConns(roomKey) {
		if _, uid := c.binding(); uid == userID {
			continue
		}
		c.enqueue(ev)
	}
}

// SendToUser delivers ev to the connections bound to one member.
func (h *Hub) SendToUser(roomKey, userID string, ev wire.Event) {
	for _, c := range h.roomConns(roomKey) {
		if _, uid := c.binding(); uid == userID {
			c.enqueue(ev)
		}
	}
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection and stops grace timers. Membership
// state is left to the registry's own shutdown.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	for key, timer := range h.grace {
		timer.Stop()
		delete(h.grace, key)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
