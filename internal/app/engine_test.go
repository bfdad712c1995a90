package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

type published struct {
	channel string
	event   string
	payload core.Payload
}

// fakeTransport records calls, counts attachment holds the way the real
// adapters do and serves scripted presence sets.
type fakeTransport struct {
	mu          sync.Mutex
	attached    map[string]int
	published   []published
	handlers    map[string][]core.MessageHandler
	presence    map[string][]core.Member
	attachErr   error
	publishErr  error
	presenceErr error
	attachCalls int
	detachCalls int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		attached: make(map[string]int),
		handlers: make(map[string][]core.MessageHandler),
		presence: make(map[string][]core.Member),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, identity domain.UserID) error { return nil }
func (f *fakeTransport) Close() error                                              { return nil }

func (f *fakeTransport) Attach(ctx context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[channel]++
	return nil
}

func (f *fakeTransport) Detach(ctx context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls++
	if f.attached[channel] > 0 {
		f.attached[channel]--
	}
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, channel, event string, payload core.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{channel: channel, event: event, payload: payload})
	return nil
}

func (f *fakeTransport) Subscribe(channel string, h core.MessageHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[channel] = append(f.handlers[channel], h)
	return func() {}
}

func (f *fakeTransport) PresenceGet(ctx context.Context, channel string) ([]core.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presenceErr != nil {
		return nil, f.presenceErr
	}
	return f.presence[channel], nil
}

func (f *fakeTransport) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// deliver pushes a message like the adapters do: only channels with a
// live attachment hold reach their handlers. Returns whether delivery
// happened.
func (f *fakeTransport) deliver(channel, event string, payload core.Payload) bool {
	f.mu.Lock()
	attached := f.attached[channel] > 0
	handlers := append([]core.MessageHandler(nil), f.handlers[channel]...)
	f.mu.Unlock()
	if !attached {
		return false
	}
	for _, h := range handlers {
		h(channel, event, payload)
	}
	return true
}

// fakeListing serves scripted pages and counts fetches.
type fakeListing struct {
	mu    sync.Mutex
	pages map[int][]domain.Space
	errs  map[int]error
	calls map[int]int
}

func newFakeListing() *fakeListing {
	return &fakeListing{
		pages: make(map[int][]domain.Space),
		errs:  make(map[int]error),
		calls: make(map[int]int),
	}
}

func (f *fakeListing) ListRooms(ctx context.Context, page, pageSize int) ([]domain.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[page]++
	if err := f.errs[page]; err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeListing) RoomByHost(ctx context.Context, hostID domain.UserID) (*domain.Space, error) {
	return nil, nil
}

func (f *fakeListing) callCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func newTestEngine(t *testing.T, transport *fakeTransport, listing *fakeListing) *Engine {
	t.Helper()
	if transport == nil {
		transport = newFakeTransport()
	}
	if listing == nil {
		listing = newFakeListing()
	}
	e := New(Options{
		Identity:         7,
		Transport:        transport,
		Listing:          listing,
		PageSize:         20,
		CallTimeout:      time.Second,
		PresenceInterval: time.Hour, // ticks never fire; tests drive cycles directly
		RetryInterval:    time.Millisecond,
	})
	t.Cleanup(e.presence.Stop)
	return e
}

func testSpace(id domain.SpaceID, hostID domain.UserID) domain.Space {
	return domain.Space{
		ID:     id,
		HostID: hostID,
		Speakers: []domain.Participant{
			{ID: hostID, Name: "host"},
		},
		Categories: map[int64]struct{}{},
	}
}

// drainEvents collects everything currently buffered on the channel.
func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *fakeTransport) holds(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached[channel]
}

func TestReviewingSameRoomKeepsOneChannelHold(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil)
	e.PutSpace(testSpace(1, 10))

	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	assert.Equal(t, 1, transport.holds("user:10"), "re-viewing must not stack holds")

	require.True(t, transport.deliver("user:10", TypeQueueUpdate,
		queueUpdateFlat(1, queueEntry(42, "alice", 1))))

	e.ClearActiveSpace(context.Background())
	assert.Equal(t, 0, transport.holds("user:10"), "leaving releases the last hold")
}

func TestSwitchingRoomsReleasesPreviousChannel(t *testing.T) {
	transport := newFakeTransport()
	e := newTestEngine(t, transport, nil)
	e.PutSpace(testSpace(1, 10))
	e.PutSpace(testSpace(2, 20))

	require.NoError(t, e.SetActiveSpace(context.Background(), 1))
	require.NoError(t, e.SetActiveSpace(context.Background(), 2))

	assert.Equal(t, 0, transport.holds("user:10"))
	assert.Equal(t, 1, transport.holds("user:20"))
	assert.False(t, transport.deliver("user:10", TypeQueueUpdate,
		queueUpdateFlat(1, queueEntry(42, "alice", 1))))
}
