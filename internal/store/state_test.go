package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *StateStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPositionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, _, ok := s.LoadPosition("feed")
	assert.False(t, ok, "nothing saved yet")

	require.NoError(t, s.SavePosition("feed", 45, 3))
	index, page, ok := s.LoadPosition("feed")
	require.True(t, ok)
	assert.Equal(t, 45, index)
	assert.Equal(t, 3, page)

	// Listings are independent keys.
	_, _, ok = s.LoadPosition("following")
	assert.False(t, ok)

	// Saving again overwrites.
	require.NoError(t, s.SavePosition("feed", 7, 1))
	index, page, ok = s.LoadPosition("feed")
	require.True(t, ok)
	assert.Equal(t, 7, index)
	assert.Equal(t, 1, page)
}

func TestPendingTopicLifecycle(t *testing.T) {
	s := openTestStore(t)

	_, ok := s.PendingTopic(1)
	assert.False(t, ok)

	require.NoError(t, s.SavePendingTopic(1, "golang"))
	topic, ok := s.PendingTopic(1)
	require.True(t, ok)
	assert.Equal(t, "golang", topic)

	require.NoError(t, s.DeletePendingTopic(1))
	_, ok = s.PendingTopic(1)
	assert.False(t, ok)

	// Deleting a missing topic is not an error.
	assert.NoError(t, s.DeletePendingTopic(1))
}

func TestOpenRejectsBadPath(t *testing.T) {
	_, err := Open("/no/such/dir/state.db")
	assert.Error(t, err)
}
