// ABOUTME: Connection registry owning the set of live transport connections.
// ABOUTME: Assigns instance ids, replaces duplicates, and fans frames out best-effort.

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/crewline/crew-gateway/internal/protocol"
	"github.com/crewline/crew-gateway/internal/session"
)

// writeTimeout bounds a single frame write so one stalled client cannot
// wedge a broadcast.
const writeTimeout = 5 * time.Second

// socket is the slice of *websocket.Conn the hub needs. Narrowed to an
// interface so hub behavior is testable without real websockets.
type socket interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn is one live transport connection. The socket handle is owned
// exclusively by the hub and never exposed for external mutation.
type Conn struct {
	InstanceID  string
	ConnectedAt time.Time

	sock socket
	mu   sync.Mutex
}

// Send writes a JSON frame to the connection. Best-effort: the caller must
// not assume delivery.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.sock.Write(ctx, websocket.MessageText, data)
}

// close shuts the underlying socket.
func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sock.Close(code, reason)
}

// Hub owns the set of live connections, keyed by instance id. At most one
// live connection exists per instance id at any time.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	sessions *session.Store
	logger   *slog.Logger
}

// NewHub creates a hub updating the given session store on connect,
// activity, and disconnect. Pass nil logger for default.
func NewHub(sessions *session.Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:    make(map[string]*Conn),
		sessions: sessions,
		logger:   logger.With("component", "hub"),
	}
}

// Add registers a new connection under a freshly generated instance id and
// creates its session record. Always succeeds.
func (h *Hub) Add(sock socket) *Conn {
	return h.AddAs(uuid.New().String(), sock)
}

// AddAs registers a connection under a specific instance id. A reused id
// should not normally occur since ids are generated per connect, but when it
// does the old entry is replaced, never duplicated.
func (h *Hub) AddAs(instanceID string, sock socket) *Conn {
	conn := &Conn{
		InstanceID:  instanceID,
		ConnectedAt: time.Now().UTC(),
		sock:        sock,
	}

	h.mu.Lock()
	old, existed := h.conns[instanceID]
	h.conns[instanceID] = conn
	total := len(h.conns)
	h.mu.Unlock()

	if existed {
		old.close(websocket.StatusPolicyViolation, "connection superseded")
		h.logger.Warn("replaced existing connection", "instance_id", instanceID)
	}

	h.sessions.Connect(instanceID)
	h.logger.Info("instance connected", "instance_id", instanceID, "total", total)
	return conn
}

// Rebind moves a connection to the instance id the client identified itself
// with. Any live connection already holding the claimed id is replaced. The
// session record follows the connection.
func (h *Hub) Rebind(conn *Conn, claimedID string) {
	h.mu.Lock()
	oldID := conn.InstanceID
	if oldID == claimedID {
		h.mu.Unlock()
		return
	}
	if h.conns[oldID] == conn {
		delete(h.conns, oldID)
	}
	displaced, existed := h.conns[claimedID]
	conn.InstanceID = claimedID
	h.conns[claimedID] = conn
	h.mu.Unlock()

	if existed {
		displaced.close(websocket.StatusPolicyViolation, "connection superseded")
		h.logger.Warn("replaced existing connection", "instance_id", claimedID)
	}

	h.sessions.Rename(oldID, claimedID)
	h.logger.Info("instance rebound", "old_instance_id", oldID, "instance_id", claimedID)
}

// Remove drops a connection from the registry and marks its session
// disconnected. The session record itself is retained. If the id was
// already taken over by a newer connection, Remove is a no-op.
func (h *Hub) Remove(conn *Conn) {
	h.mu.Lock()
	id := conn.InstanceID
	current, ok := h.conns[id]
	if !ok || current != conn {
		h.mu.Unlock()
		return
	}
	delete(h.conns, id)
	total := len(h.conns)
	h.mu.Unlock()

	h.sessions.MarkDisconnected(id)
	h.logger.Info("instance disconnected", "instance_id", id, "total", total)
}

// Send writes a frame to one instance. Silently no-ops if the connection is
// gone; the caller is responsible for not assuming delivery.
func (h *Hub) Send(instanceID string, v any) {
	h.mu.RLock()
	conn, ok := h.conns[instanceID]
	h.mu.RUnlock()

	if !ok {
		return
	}
	if err := conn.Send(v); err != nil {
		h.logger.Debug("send failed", "instance_id", instanceID, "error", err)
	}
}

// Broadcast writes an envelope to every live connection and returns how
// many writes were attempted. Implements the correlator's Broadcaster.
func (h *Hub) Broadcast(env *protocol.Envelope) int {
	return h.BroadcastExcept("", env)
}

// target pairs a connection with its instance id as captured under the hub
// lock. Conn.InstanceID may be rewritten by Rebind while a fan-out is in
// flight, so it must never be read after the lock is dropped.
type target struct {
	id   string
	conn *Conn
}

// BroadcastExcept fans a frame out to every live connection except the
// named instance. Write failures are logged and skipped.
func (h *Hub) BroadcastExcept(instanceID string, v any) int {
	h.mu.RLock()
	targets := make([]target, 0, len(h.conns))
	for id, conn := range h.conns {
		if instanceID != "" && id == instanceID {
			continue
		}
		targets = append(targets, target{id: id, conn: conn})
	}
	h.mu.RUnlock()

	for _, tgt := range targets {
		if err := tgt.conn.Send(v); err != nil {
			h.logger.Debug("broadcast send failed", "instance_id", tgt.id, "error", err)
		}
	}
	return len(targets)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// IDs returns the instance ids of all live connections.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every live connection during shutdown and marks each
// session disconnected.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	targets := make([]target, 0, len(h.conns))
	for id, conn := range h.conns {
		targets = append(targets, target{id: id, conn: conn})
		delete(h.conns, id)
	}
	h.mu.Unlock()

	for _, tgt := range targets {
		tgt.conn.close(websocket.StatusGoingAway, "gateway shutting down")
		h.sessions.MarkDisconnected(tgt.id)
	}
}
