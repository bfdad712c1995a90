package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSpeakerIsIdempotent(t *testing.T) {
	sp := NewSpace(1, 10, Participant{Name: "host"})

	sp.UpsertSpeaker(Participant{ID: 42, Name: "alice"})
	sp.UpsertSpeaker(Participant{ID: 42, Name: "alice"})
	require.Len(t, sp.Speakers, 2)

	sp.UpsertSpeaker(Participant{ID: 42, Name: "alice v2", IsMuted: true})
	got, ok := sp.Speaker(42)
	require.True(t, ok)
	assert.Equal(t, "alice v2", got.Name)
	assert.True(t, got.IsMuted)
}

func TestRemoveSpeakerProtectsHost(t *testing.T) {
	sp := NewSpace(1, 10, Participant{Name: "host"})
	sp.UpsertSpeaker(Participant{ID: 42, Name: "alice"})

	assert.False(t, sp.RemoveSpeaker(10), "host stays while the space is active")
	assert.True(t, sp.RemoveSpeaker(42))
	assert.False(t, sp.RemoveSpeaker(42))

	_, ok := sp.Speaker(10)
	assert.True(t, ok)
}

func TestSpaceCloneIsDeep(t *testing.T) {
	sp := NewSpace(1, 10, Participant{Name: "host"})
	sp.Topics = []string{"go"}
	sp.Categories[3] = struct{}{}
	sp.Queue.Append(QueueUser{ID: 42, Name: "alice"})

	cp := sp.Clone()
	cp.Speakers[0].Name = "changed"
	cp.Topics[0] = "changed"
	cp.Queue.Users[0].Name = "changed"
	cp.Categories[7] = struct{}{}

	assert.Equal(t, "host", sp.Speakers[0].Name)
	assert.Equal(t, "go", sp.Topics[0])
	assert.Equal(t, "alice", sp.Queue.Users[0].Name)
	assert.NotContains(t, sp.Categories, int64(7))
}

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "user:42", Channel(42))
}
