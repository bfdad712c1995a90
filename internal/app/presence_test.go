package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

func TestPresenceCheckMarksHostOnline(t *testing.T) {
	transport := newFakeTransport()
	transport.presence["user:10"] = []core.Member{{ClientID: "10"}}
	e := newTestEngine(t, transport, nil)
	sp := testSpace(1, 10)
	sp.IsHostOnline = false
	e.PutSpace(sp)
	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	events, cancel := e.Bus().Subscribe(16)
	defer cancel()

	e.presence.checkOnce(context.Background(), 1, 10)

	got, _ := e.Space(1)
	assert.True(t, got.IsHostOnline)

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	change, ok := evs[0].(HostPresenceChanged)
	require.True(t, ok)
	assert.True(t, change.IsOnline)
}

func TestStalePresenceCheckIsDiscarded(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil)
	roomA := testSpace(1, 10)
	roomA.IsHostOnline = false
	roomB := testSpace(2, 20)
	roomB.IsHostOnline = false
	e.PutSpace(roomA)
	e.PutSpace(roomB)

	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	// The user navigates to room B while room A's check is in flight.
	require.NoError(t, e.SetActiveSpace(context.Background(), 2))

	// Room A's check resolves with "host online"; it must mutate
	// neither room.
	e.applyHostPresence(1, 10, true)

	a, _ := e.Space(1)
	b, _ := e.Space(2)
	assert.False(t, a.IsHostOnline)
	assert.False(t, b.IsHostOnline)
}

func TestPresenceErrorsDoNotFlipStatus(t *testing.T) {
	transport := newFakeTransport()
	transport.presenceErr = &core.TransportError{Kind: core.TransportNetwork}
	e := newTestEngine(t, transport, nil)
	sp := testSpace(1, 10)
	sp.IsHostOnline = true
	e.PutSpace(sp)
	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	e.presence.Stop() // drive the cycle by hand

	e.presence.checkOnce(context.Background(), 1, 10)

	got, _ := e.Space(1)
	assert.True(t, got.IsHostOnline, "a failed cycle is no information, not offline")
}

func TestPresenceAttachErrorSkipsCycleAndStaysPaired(t *testing.T) {
	transport := newFakeTransport()
	transport.attachErr = &core.TransportError{Kind: core.TransportNetwork}
	e := newTestEngine(t, transport, nil)
	sp := testSpace(1, 10)
	sp.IsHostOnline = true
	e.PutSpace(sp)

	e.presence.checkOnce(context.Background(), 1, 10)

	got, _ := e.Space(1)
	assert.True(t, got.IsHostOnline)
}

func TestPresenceCycleSkippedWhileJoinInFlight(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil)
	sp := testSpace(1, 10)
	sp.IsHostOnline = true
	sp.Speakers = append(sp.Speakers, domain.Participant{ID: 7, Name: "me"})
	e.PutSpace(sp)
	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	before := transport.attachCalls

	e.BeginJoin()
	e.presence.checkOnce(context.Background(), 1, 10)
	assert.Equal(t, before, transport.attachCalls, "no presence traffic during a join")

	e.FinishJoin("peer-1", true)
	got, _ := e.Space(1)
	p, ok := got.Speaker(7)
	require.True(t, ok)
	require.NotNil(t, p.PeerID)
	assert.Equal(t, "peer-1", *p.PeerID)
}

func TestRoomChannelKeepsDeliveringAfterPresenceCycle(t *testing.T) {
	transport := newFakeTransport()
	transport.presence["user:10"] = []core.Member{{ClientID: "10"}}
	e := newTestEngine(t, transport, nil)
	e.PutSpace(testSpace(1, 10))
	require.NoError(t, e.SetActiveSpace(context.Background(), 1))

	require.True(t, transport.deliver("user:10", TypeQueueUpdate,
		queueUpdateFlat(1, queueEntry(42, "alice", 1))))
	sp, _ := e.Space(1)
	require.Len(t, sp.Queue.Users, 1)

	// The cycle attaches and detaches its own hold on the room channel;
	// the hold SetActiveSpace took must survive it.
	e.presence.checkOnce(context.Background(), 1, 10)

	require.True(t, transport.deliver("user:10", TypeQueueUpdate,
		queueUpdateFlat(1, queueEntry(43, "bob", 2))),
		"room channel must keep delivering after a presence cycle")
	sp, _ = e.Space(1)
	assert.Len(t, sp.Queue.Users, 2)
}

func TestPresenceDetachPairedAfterGet(t *testing.T) {
	transport := newFakeTransport()
	transport.presence["user:10"] = []core.Member{{ClientID: "10"}}
	e := newTestEngine(t, transport, nil)
	e.PutSpace(testSpace(1, 10))
	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	attaches, detaches := transport.attachCalls, transport.detachCalls

	e.presence.checkOnce(context.Background(), 1, 10)

	assert.Equal(t, attaches+1, transport.attachCalls)
	assert.Equal(t, detaches+1, transport.detachCalls)
}
