package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueAppendAssignsTailPosition(t *testing.T) {
	var q Queue
	assert.True(t, q.Append(QueueUser{ID: 1, Name: "alice"}))
	assert.True(t, q.Append(QueueUser{ID: 2, Name: "bob"}))
	assert.False(t, q.Append(QueueUser{ID: 1, Name: "alice again"}), "duplicate id")

	require.Len(t, q.Users, 2)
	assert.Equal(t, 1, q.Users[0].Position)
	assert.Equal(t, 2, q.Users[1].Position)

	// Positions grow past gaps left by removals.
	q.Remove(2)
	q.Append(QueueUser{ID: 3, Name: "carol"})
	u, ok := q.User(3)
	require.True(t, ok)
	assert.Equal(t, 2, u.Position, "max remaining position + 1")
}

func TestQueueUpsertKeepsPositionOrder(t *testing.T) {
	var q Queue
	q.Upsert(QueueUser{ID: 2, Position: 5})
	q.Upsert(QueueUser{ID: 1, Position: 2})
	q.Upsert(QueueUser{ID: 3, Position: 9})

	assert.Equal(t, UserID(1), q.Users[0].ID)
	assert.Equal(t, UserID(2), q.Users[1].ID)
	assert.Equal(t, UserID(3), q.Users[2].ID)

	// Replacing an entry with a new position re-sorts.
	q.Upsert(QueueUser{ID: 1, Position: 7})
	assert.Equal(t, UserID(2), q.Users[0].ID)
	assert.Equal(t, UserID(1), q.Users[1].ID)
	require.Len(t, q.Users, 3)
}

func TestQueueRemoveLeavesGaps(t *testing.T) {
	var q Queue
	q.Append(QueueUser{ID: 1})
	q.Append(QueueUser{ID: 2})
	q.Append(QueueUser{ID: 3})

	assert.True(t, q.Remove(2))
	assert.False(t, q.Remove(2))

	require.Len(t, q.Users, 2)
	assert.Equal(t, 1, q.Users[0].Position)
	assert.Equal(t, 3, q.Users[1].Position)
}

func TestQueueNextWaitingSkipsInvitedAndGone(t *testing.T) {
	var q Queue
	_, ok := q.NextWaiting()
	assert.False(t, ok, "empty queue")

	q.Upsert(QueueUser{ID: 1, Position: 1, IsInvited: true})
	q.Upsert(QueueUser{ID: 2, Position: 2, HasLeft: true})
	q.Upsert(QueueUser{ID: 3, Position: 3})

	next, ok := q.NextWaiting()
	require.True(t, ok)
	assert.Equal(t, UserID(3), next.ID)
}

func TestQueueHasOutstandingInvite(t *testing.T) {
	var q Queue
	assert.False(t, q.HasOutstandingInvite())

	q.Upsert(QueueUser{ID: 1, Position: 1, IsInvited: true})
	assert.True(t, q.HasOutstandingInvite())

	// An invited user who left no longer blocks the next invite.
	u, _ := q.User(1)
	u.HasLeft = true
	assert.False(t, q.HasOutstandingInvite())
}

func TestQueueCloneIsDeep(t *testing.T) {
	var q Queue
	q.Append(QueueUser{ID: 1, Name: "alice"})

	cp := q.Clone()
	cp.Users[0].Name = "changed"
	cp.Upsert(QueueUser{ID: 2, Position: 2})

	assert.Equal(t, "alice", q.Users[0].Name)
	assert.Len(t, q.Users, 1)
}
