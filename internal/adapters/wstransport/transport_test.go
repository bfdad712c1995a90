package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveroom/spaces/internal/core"
)

// bridge is a minimal in-process stand-in for the realtime server: it
// acks control frames, serves a scripted presence set and lets tests
// push message frames down to the client.
type bridge struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	attach  map[string]int
	detach  map[string]int
	members []memberState
}

func newBridge(t *testing.T) (*bridge, *Transport) {
	t.Helper()
	b := &bridge{attach: make(map[string]int), detach: make(map[string]int)}

	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	tr := New("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, tr.Connect(context.Background(), 7))
	t.Cleanup(func() { _ = tr.Close() })
	return b, tr
}

func (b *bridge) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case opConnect:
			// fire-and-forget, nothing to ack
		case opAttach:
			b.mu.Lock()
			b.attach[f.Channel]++
			b.mu.Unlock()
			b.write(frame{Op: opAck, ID: f.ID})
		case opDetach:
			b.mu.Lock()
			b.detach[f.Channel]++
			b.mu.Unlock()
			b.write(frame{Op: opAck, ID: f.ID})
		case opPublish:
			b.write(frame{Op: opAck, ID: f.ID})
		case opPresence:
			b.mu.Lock()
			members := b.members
			b.mu.Unlock()
			b.write(frame{Op: opPresenceState, ID: f.ID, Members: members})
		}
	}
}

func (b *bridge) write(f frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.WriteJSON(f)
	}
}

func (b *bridge) push(channel, event string, data map[string]any) {
	b.write(frame{Op: opMessage, Channel: channel, Event: event, Data: data})
}

func (b *bridge) attachCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attach[channel]
}

func (b *bridge) detachCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detach[channel]
}

func recvPayload(t *testing.T, ch <-chan core.Payload) core.Payload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertNoPayload(t *testing.T, ch <-chan core.Payload) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected delivery: %v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAttachSubscribeDeliver(t *testing.T) {
	b, tr := newBridge(t)
	ctx := context.Background()

	got := make(chan core.Payload, 4)
	cancel := tr.Subscribe("user:10", func(channel, event string, payload core.Payload) {
		assert.Equal(t, "user:10", channel)
		got <- payload
	})
	defer cancel()

	require.NoError(t, tr.Attach(ctx, "user:10"))
	assert.Equal(t, 1, b.attachCount("user:10"))

	b.push("user:10", "queue_update", map[string]any{"type": "queue_update"})
	p := recvPayload(t, got)
	assert.Equal(t, "queue_update", p["type"])
}

func TestAttachHoldsSurviveSingleDetach(t *testing.T) {
	b, tr := newBridge(t)
	ctx := context.Background()

	got := make(chan core.Payload, 4)
	cancel := tr.Subscribe("user:10", func(_, _ string, payload core.Payload) {
		got <- payload
	})
	defer cancel()

	// Two independent holds (room routing + a presence cycle); only one
	// attach reaches the bridge.
	require.NoError(t, tr.Attach(ctx, "user:10"))
	require.NoError(t, tr.Attach(ctx, "user:10"))
	assert.Equal(t, 1, b.attachCount("user:10"))

	// Releasing one hold must not silence the channel.
	require.NoError(t, tr.Detach(ctx, "user:10"))
	assert.Equal(t, 0, b.detachCount("user:10"))

	b.push("user:10", "queue_update", map[string]any{"seq": "1"})
	recvPayload(t, got)

	// The last hold releases for real; frames after that are stale.
	require.NoError(t, tr.Detach(ctx, "user:10"))
	assert.Equal(t, 1, b.detachCount("user:10"))

	b.push("user:10", "queue_update", map[string]any{"seq": "2"})
	assertNoPayload(t, got)

	// Detaching a released channel is a no-op success.
	require.NoError(t, tr.Detach(ctx, "user:10"))
	assert.Equal(t, 1, b.detachCount("user:10"))
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	b, tr := newBridge(t)
	ctx := context.Background()

	got := make(chan core.Payload, 4)
	cancel := tr.Subscribe("user:10", func(_, _ string, payload core.Payload) {
		got <- payload
	})
	require.NoError(t, tr.Attach(ctx, "user:10"))

	b.push("user:10", "queue_update", map[string]any{"seq": "1"})
	recvPayload(t, got)

	cancel()
	b.push("user:10", "queue_update", map[string]any{"seq": "2"})
	assertNoPayload(t, got)
}

func TestPublishWaitsForAck(t *testing.T) {
	_, tr := newBridge(t)
	err := tr.Publish(context.Background(), "user:10", "queue_update",
		core.Payload{"type": "queue_update"})
	assert.NoError(t, err)
}

func TestPresenceGetReturnsMembers(t *testing.T) {
	b, tr := newBridge(t)
	b.mu.Lock()
	b.members = []memberState{{ClientID: "10"}, {ClientID: "42"}}
	b.mu.Unlock()

	members, err := tr.PresenceGet(context.Background(), "user:10")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "10", members[0].ClientID)
}

func TestCallsFailWhenNotConnected(t *testing.T) {
	tr := New("ws://localhost:1/realtime")

	err := tr.Attach(context.Background(), "user:10")
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.TransportNotInitialized, te.Kind)
}

func TestRoundTripTimesOutOnSilentBridge(t *testing.T) {
	// A bridge that swallows control frames without acking.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, tr.Connect(context.Background(), 7))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := tr.Attach(ctx, "user:10")
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.TransportTimeout, te.Kind)
}
