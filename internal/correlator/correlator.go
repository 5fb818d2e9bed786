// ABOUTME: Tracks in-flight sub-dispatches keyed by request id, each with a timeout.
// ABOUTME: Delete-before-fulfill guarantees every pending request resolves exactly once.

package correlator

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewline/crew-gateway/internal/protocol"
)

// ErrTimeout indicates no matching AGENT_RESPONSE arrived within the window.
var ErrTimeout = errors.New("sub-dispatch timed out")

// ErrClosed indicates the correlator shut down while the request was pending.
var ErrClosed = errors.New("correlator closed")

// Broadcaster fans a sub-request envelope out to every connected transport.
// The target agent is expected to be one of the connected parties; the first
// reply bearing the matching request id wins.
type Broadcaster interface {
	Broadcast(env *protocol.Envelope) int
}

// Result is delivered on the future channel exactly once: either the
// specialist's reply envelope or an error.
type Result struct {
	Reply *protocol.Envelope
	Err   error
}

// pending is one in-flight sub-dispatch. It moves from created to exactly
// one of resolved or timed out; both paths delete the entry before
// fulfilling the channel.
type pending struct {
	targetAgent string
	createdAt   time.Time
	ch          chan Result
	timer       *time.Timer
}

// Correlator owns the pending-request map.
type Correlator struct {
	mu        sync.Mutex
	requests  map[string]*pending
	transport Broadcaster
	logger    *slog.Logger
	closed    bool
}

// New creates a correlator broadcasting sub-requests over transport.
// Pass nil logger for default.
func New(transport Broadcaster, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		requests:  make(map[string]*pending),
		transport: transport,
		logger:    logger.With("component", "correlator"),
	}
}

// Dispatch generates a request id, stores a pending entry, broadcasts the
// sub-request envelope to all connected transports, and arms the timeout.
// The returned channel receives exactly one Result.
func (c *Correlator) Dispatch(targetAgent, instanceID, text string, timeout time.Duration) (string, <-chan Result) {
	requestID := uuid.New().String()
	p := &pending{
		targetAgent: targetAgent,
		createdAt:   time.Now().UTC(),
		ch:          make(chan Result, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.ch <- Result{Err: ErrClosed}
		return requestID, p.ch
	}
	c.requests[requestID] = p
	p.timer = time.AfterFunc(timeout, func() { c.expire(requestID) })
	c.mu.Unlock()

	reached := c.transport.Broadcast(protocol.SubRequest(requestID, targetAgent, instanceID, text))
	c.logger.Debug("sub-request dispatched",
		"request_id", requestID,
		"target_agent", targetAgent,
		"reached", reached,
		"timeout", timeout,
	)
	return requestID, p.ch
}

// Resolve fulfills the pending request with the given reply. If no entry
// exists (already resolved or timed out) it no-ops, which is what makes
// resolution at-most-once.
func (c *Correlator) Resolve(requestID string, reply *protocol.Envelope) {
	c.mu.Lock()
	p, ok := c.requests[requestID]
	if ok {
		delete(c.requests, requestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request ignored", "request_id", requestID)
		return
	}

	p.timer.Stop()
	p.ch <- Result{Reply: reply}
	c.logger.Debug("sub-request resolved",
		"request_id", requestID,
		"target_agent", p.targetAgent,
		"waited", time.Since(p.createdAt),
	)
}

// expire is the timer path: delete the entry if still present, then fulfill
// with a timeout error.
func (c *Correlator) expire(requestID string) {
	c.mu.Lock()
	p, ok := c.requests[requestID]
	if ok {
		delete(c.requests, requestID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	p.ch <- Result{Err: ErrTimeout}
	c.logger.Warn("sub-request timed out",
		"request_id", requestID,
		"target_agent", p.targetAgent,
	)
}

// Pending returns the number of in-flight sub-dispatches.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Has reports whether a request id is still pending.
func (c *Correlator) Has(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.requests[requestID]
	return ok
}

// Close cancels every outstanding request, fulfilling each future with
// ErrClosed. Safe to call once during shutdown.
func (c *Correlator) Close() {
	c.mu.Lock()
	drained := make([]*pending, 0, len(c.requests))
	for id, p := range c.requests {
		delete(c.requests, id)
		drained = append(drained, p)
	}
	c.closed = true
	c.mu.Unlock()

	for _, p := range drained {
		p.timer.Stop()
		p.ch <- Result{Err: ErrClosed}
	}
}
