// ABOUTME: Tests for the connection registry.
// ABOUTME: Asserts one live connection per instance id and replace-on-reuse.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crew-gateway/internal/protocol"
	"github.com/crewline/crew-gateway/internal/session"
)

// fakeSocket records frames and close calls.
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reason string
}

func (f *fakeSocket) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSocket) Close(_ websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
	return nil
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSocket) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	var m map[string]any
	require.NoError(t, json.Unmarshal(f.frames[len(f.frames)-1], &m))
	return m
}

func newTestHub() *Hub {
	return NewHub(session.NewStore(nil), nil)
}

func TestHub_Add_AssignsInstanceID(t *testing.T) {
	h := newTestHub()

	conn := h.Add(&fakeSocket{})
	assert.NotEmpty(t, conn.InstanceID)
	assert.Equal(t, 1, h.Count())
	assert.Contains(t, h.IDs(), conn.InstanceID)
}

func TestHub_AddAs_ReplacesExisting(t *testing.T) {
	h := newTestHub()

	oldSock := &fakeSocket{}
	newSock := &fakeSocket{}

	h.AddAs("i1", oldSock)
	replacement := h.AddAs("i1", newSock)

	assert.Equal(t, 1, h.Count(), "never two live connections per instance id")
	assert.True(t, oldSock.isClosed())
	assert.Equal(t, "connection superseded", oldSock.reason)
	assert.False(t, newSock.isClosed())

	// The replacement connection receives sends for the id.
	h.Send("i1", protocol.AgentReply("alex", "i1", "hello"))
	frame := newSock.lastFrame(t)
	assert.Equal(t, "agent_response", frame["type"])
	assert.Equal(t, replacement.InstanceID, frame["instanceId"])
}

func TestHub_Remove_SupersededConnIsNoOp(t *testing.T) {
	h := newTestHub()

	old := h.AddAs("i1", &fakeSocket{})
	h.AddAs("i1", &fakeSocket{})

	// The old connection's read loop exits and calls Remove; the live
	// replacement must survive.
	h.Remove(old)
	assert.Equal(t, 1, h.Count())
	assert.Contains(t, h.IDs(), "i1")
}

func TestHub_Remove(t *testing.T) {
	sessions := session.NewStore(nil)
	h := NewHub(sessions, nil)

	conn := h.AddAs("i1", &fakeSocket{})
	h.Remove(conn)

	assert.Equal(t, 0, h.Count())

	// The session record survives the disconnect.
	rec, ok := sessions.Get("i1")
	require.True(t, ok)
	assert.NotNil(t, rec.DisconnectedAt)
}

func TestHub_Rebind(t *testing.T) {
	sessions := session.NewStore(nil)
	h := NewHub(sessions, nil)

	conn := h.Add(&fakeSocket{})
	generated := conn.InstanceID

	h.Rebind(conn, "bridge-7")

	assert.Equal(t, "bridge-7", conn.InstanceID)
	assert.Equal(t, 1, h.Count())
	assert.Contains(t, h.IDs(), "bridge-7")
	assert.NotContains(t, h.IDs(), generated)

	_, ok := sessions.Get(generated)
	assert.False(t, ok)
	_, ok = sessions.Get("bridge-7")
	assert.True(t, ok)
}

func TestHub_Rebind_DisplacesHolder(t *testing.T) {
	h := newTestHub()

	holderSock := &fakeSocket{}
	h.AddAs("bridge-7", holderSock)

	conn := h.Add(&fakeSocket{})
	h.Rebind(conn, "bridge-7")

	assert.Equal(t, 1, h.Count())
	assert.True(t, holderSock.isClosed())
}

func TestHub_Send_UnknownInstanceIsSilent(t *testing.T) {
	h := newTestHub()
	h.Send("nobody", protocol.Welcome("nobody"))
}

func TestHub_BroadcastExcept(t *testing.T) {
	h := newTestHub()

	s1 := &fakeSocket{}
	s2 := &fakeSocket{}
	s3 := &fakeSocket{}
	h.AddAs("i1", s1)
	h.AddAs("i2", s2)
	h.AddAs("i3", s3)

	reached := h.BroadcastExcept("i2", protocol.Welcome(""))
	assert.Equal(t, 2, reached)
	assert.Len(t, s1.frames, 1)
	assert.Empty(t, s2.frames)
	assert.Len(t, s3.frames, 1)
}

func TestHub_Broadcast_ReachesAll(t *testing.T) {
	h := newTestHub()

	s1 := &fakeSocket{}
	s2 := &fakeSocket{}
	h.AddAs("i1", s1)
	h.AddAs("i2", s2)

	reached := h.Broadcast(protocol.SubRequest("r1", "sherlock", "i1", "review"))
	assert.Equal(t, 2, reached)
}

// brokenSocket fails every write, driving the send-failure log path.
type brokenSocket struct{}

func (brokenSocket) Write(context.Context, websocket.MessageType, []byte) error {
	return errors.New("write refused")
}

func (brokenSocket) Close(websocket.StatusCode, string) error { return nil }

func TestHub_RebindDuringBroadcast(t *testing.T) {
	h := newTestHub()

	conn := h.AddAs("mover", brokenSocket{})
	for i := 0; i < 8; i++ {
		h.AddAs(fmt.Sprintf("peer-%d", i), brokenSocket{})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.Rebind(conn, fmt.Sprintf("mover-%d", i))
		}
	}()

	for i := 0; i < 200; i++ {
		h.BroadcastExcept("peer-0", protocol.Welcome(""))
	}
	<-done

	assert.Equal(t, 9, h.Count())
}

func TestHub_RebindDuringCloseAll(t *testing.T) {
	h := newTestHub()

	conn := h.AddAs("mover", brokenSocket{})
	for i := 0; i < 8; i++ {
		h.AddAs(fmt.Sprintf("peer-%d", i), brokenSocket{})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.Rebind(conn, fmt.Sprintf("mover-%d", i))
		}
	}()

	h.CloseAll()
	<-done
}

func TestHub_CloseAll(t *testing.T) {
	h := newTestHub()

	s1 := &fakeSocket{}
	s2 := &fakeSocket{}
	h.AddAs("i1", s1)
	h.AddAs("i2", s2)

	h.CloseAll()
	assert.Equal(t, 0, h.Count())
	assert.True(t, s1.isClosed())
	assert.True(t, s2.isClosed())
}
