package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/domain"
)

// EventKind discriminates engine domain events.
type EventKind int

const (
	EventHostPresenceChanged EventKind = iota + 1
	EventQueueUpdated
	EventRoomEnded
	EventSpaceJoinRequest
	EventRoomOpen
	EventInviteNextPrompt
)

// Event is a domain event published by the engine. Consumers (the UI
// layer) subscribe through the Bus; the engine never calls into them.
type Event interface {
	Kind() EventKind
}

type HostPresenceChanged struct {
	HostID   domain.UserID
	IsOnline bool
}

func (HostPresenceChanged) Kind() EventKind { return EventHostPresenceChanged }

type QueueUpdated struct {
	SpaceID domain.SpaceID
	Queue   domain.Queue
}

func (QueueUpdated) Kind() EventKind { return EventQueueUpdated }

type RoomEnded struct {
	SpaceID domain.SpaceID
}

func (RoomEnded) Kind() EventKind { return EventRoomEnded }

type SpaceJoinRequest struct {
	SpaceID domain.SpaceID
	User    domain.QueueUser
}

func (SpaceJoinRequest) Kind() EventKind { return EventSpaceJoinRequest }

// RoomOpen signals that the media-transport join for a freshly created
// room may proceed. Actually joining the audio graph is up to the caller.
type RoomOpen struct {
	SpaceID     domain.SpaceID
	HostID      domain.UserID
	MediaRoomID string
	Topic       string
}

func (RoomOpen) Kind() EventKind { return EventRoomOpen }

// InviteNextPrompt surfaces the "invite the next person?" decision after
// a speaker left while the queue is non-empty. The engine never invites
// automatically; a human decides.
type InviteNextPrompt struct {
	SpaceID domain.SpaceID
}

func (InviteNextPrompt) Kind() EventKind { return EventInviteNextPrompt }

// Bus is a typed fan-out of engine events. Publish never blocks: a
// subscriber with a full buffer misses the event.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscriber. The returned cancel func
// closes the channel and must be called exactly once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("module", "app.bus").Int("kind", int(ev.Kind())).Msg("subscriber buffer full, event dropped")
		}
	}
}
