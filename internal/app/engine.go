// Package app holds the room coordination engine: one owning coordinator
// that serializes every mutation of the room model, fed by transport
// push, the presence poll and user intents.
package app

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

const (
	defaultPageSize         = 20
	defaultCallTimeout      = 10 * time.Second
	defaultPresenceInterval = 15 * time.Second
	defaultRetryInterval    = 2 * time.Second
	defaultListingKey       = "feed"
)

// Options wires the engine's collaborators. Transport and Listing are
// required; Store may be nil, in which case nothing is persisted.
type Options struct {
	Identity domain.UserID

	Transport core.Transport
	Listing   core.Listing
	Store     core.StateStore

	PageSize         int
	CallTimeout      time.Duration
	PresenceInterval time.Duration
	RetryInterval    time.Duration
	ListingKey       string
}

// Engine owns the room model. All mutations funnel through its mutex;
// callers only read deep-copied snapshots and submit intents.
type Engine struct {
	identity  domain.UserID
	transport core.Transport
	listing   core.Listing
	store     core.StateStore
	bus       *Bus
	presence  *PresenceReconciler

	pageSize      int
	callTimeout   time.Duration
	retryInterval time.Duration
	listingKey    string

	mu           sync.Mutex
	spaces       map[domain.SpaceID]*domain.Space
	order        []domain.SpaceID
	activeSpace  domain.SpaceID
	joinInFlight bool

	cur          cursor
	loadingFirst bool
	loadingMore  bool
	gen          uint64
	lastError    string

	ownCancel  func()
	hostCancel func()
	hostChan   string
}

func New(opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = defaultPresenceInterval
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.ListingKey == "" {
		opts.ListingKey = defaultListingKey
	}

	e := &Engine{
		identity:      opts.Identity,
		transport:     opts.Transport,
		listing:       opts.Listing,
		store:         opts.Store,
		bus:           NewBus(),
		pageSize:      opts.PageSize,
		callTimeout:   opts.CallTimeout,
		retryInterval: opts.RetryInterval,
		listingKey:    opts.ListingKey,
		spaces:        make(map[domain.SpaceID]*domain.Space),
		cur:           newCursor(),
	}
	e.presence = newPresenceReconciler(e, opts.PresenceInterval, opts.CallTimeout)
	return e
}

// Bus exposes the engine's event stream for subscription.
func (e *Engine) Bus() *Bus { return e.bus }

// Identity returns the current identity the engine filters inbound
// addressing against.
func (e *Engine) Identity() domain.UserID { return e.identity }

// Start connects the transport and attaches the identity's own inbox
// channel. Everything arriving there is implicitly addressed to us.
func (e *Engine) Start(ctx context.Context) error {
	err := core.WithCallTimeout(ctx, e.callTimeout, func(ctx context.Context) error {
		return e.transport.Connect(ctx, e.identity)
	})
	if err != nil {
		return err
	}

	own := domain.Channel(e.identity)
	err = core.WithCallTimeout(ctx, e.callTimeout, func(ctx context.Context) error {
		return e.transport.Attach(ctx, own)
	})
	if err != nil {
		return &core.ChannelError{Kind: core.ChannelAttachFailed, Channel: own, Err: err}
	}

	cancel := e.transport.Subscribe(own, func(_, _ string, payload core.Payload) {
		e.Route(payload)
	})
	e.mu.Lock()
	e.ownCancel = cancel
	e.mu.Unlock()

	log.Info().Str("module", "app.engine").Int64("identity", int64(e.identity)).Str("channel", own).Msg("engine started")
	return nil
}

// Stop tears down subscriptions, the presence poll and the transport.
func (e *Engine) Stop(ctx context.Context) {
	e.presence.Stop()

	e.mu.Lock()
	ownCancel, hostCancel := e.ownCancel, e.hostCancel
	hostChan := e.hostChan
	e.ownCancel, e.hostCancel, e.hostChan = nil, nil, ""
	e.mu.Unlock()

	if hostCancel != nil {
		hostCancel()
	}
	if hostChan != "" {
		_ = e.transport.Detach(ctx, hostChan)
	}
	if ownCancel != nil {
		ownCancel()
	}
	_ = e.transport.Detach(ctx, domain.Channel(e.identity))
	if err := e.transport.Close(); err != nil {
		log.Warn().Str("module", "app.engine").Err(err).Msg("transport close")
	}
	log.Info().Str("module", "app.engine").Msg("engine stopped")
}

// SetActiveSpace marks the space as the one being viewed: the previous
// room channel is detached, the new host channel attached and the
// presence poll restarted when the host is reported online.
func (e *Engine) SetActiveSpace(ctx context.Context, id domain.SpaceID) error {
	e.mu.Lock()
	sp, ok := e.spaces[id]
	if !ok {
		e.mu.Unlock()
		return &core.ChannelError{Kind: core.ChannelNotFound, Channel: strconv.FormatInt(int64(id), 10)}
	}
	prevCancel, prevChan := e.hostCancel, e.hostChan
	hostID := sp.HostID
	hostOnline := sp.IsHostOnline
	newChan := domain.Channel(hostID)
	e.activeSpace = id
	e.hostCancel, e.hostChan = nil, ""
	e.mu.Unlock()

	e.presence.Stop()

	if prevCancel != nil {
		prevCancel()
	}

	// Attach before releasing the previous hold so re-viewing the same
	// room keeps exactly one hold on its channel throughout.
	err := core.WithCallTimeout(ctx, e.callTimeout, func(ctx context.Context) error {
		return e.transport.Attach(ctx, newChan)
	})
	if err != nil {
		if prevChan != "" {
			_ = e.transport.Detach(ctx, prevChan)
		}
		return &core.ChannelError{Kind: core.ChannelAttachFailed, Channel: newChan, Err: err}
	}
	if prevChan != "" {
		_ = e.transport.Detach(ctx, prevChan)
	}
	cancel := e.transport.Subscribe(newChan, func(_, _ string, payload core.Payload) {
		e.Route(payload)
	})

	e.mu.Lock()
	e.hostCancel, e.hostChan = cancel, newChan
	e.mu.Unlock()

	if hostOnline {
		e.presence.Monitor(id, hostID)
	}
	log.Info().Str("module", "app.engine").Int64("space", int64(id)).Str("channel", newChan).Msg("active space set")
	return nil
}

// ClearActiveSpace stops viewing the current room. The room channel is
// detached so it stops receiving (and mis-routing) messages.
func (e *Engine) ClearActiveSpace(ctx context.Context) {
	e.mu.Lock()
	cancel, ch := e.hostCancel, e.hostChan
	e.activeSpace = 0
	e.hostCancel, e.hostChan = nil, ""
	e.mu.Unlock()

	e.presence.Stop()
	if cancel != nil {
		cancel()
	}
	if ch != "" {
		_ = e.transport.Detach(ctx, ch)
	}
}

// BeginJoin flags a media-transport join as in flight; the presence poll
// skips its cycles until FinishJoin to avoid racing the join.
func (e *Engine) BeginJoin() {
	e.mu.Lock()
	e.joinInFlight = true
	e.mu.Unlock()
}

// FinishJoin clears the in-flight flag. On success the local user is in
// the live audio graph, so host monitoring stops and the local
// participant's peer id is recorded.
func (e *Engine) FinishJoin(peerID string, joined bool) {
	e.mu.Lock()
	e.joinInFlight = false
	if joined {
		if sp, ok := e.spaces[e.activeSpace]; ok {
			if p, ok := sp.Speaker(e.identity); ok {
				p.PeerID = &peerID
			}
		}
	}
	e.mu.Unlock()

	if joined {
		e.presence.Stop()
	}
}

func (e *Engine) joinBlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joinInFlight
}

// Spaces returns the ordered listing as deep copies.
func (e *Engine) Spaces() []domain.Space {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Space, 0, len(e.order))
	for _, id := range e.order {
		if sp, ok := e.spaces[id]; ok {
			out = append(out, *sp.Clone())
		}
	}
	return out
}

// Space returns a deep copy of one space.
func (e *Engine) Space(id domain.SpaceID) (domain.Space, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sp, ok := e.spaces[id]
	if !ok {
		return domain.Space{}, false
	}
	return *sp.Clone(), true
}

// ActiveSpace returns the id of the space being viewed, 0 when none.
func (e *Engine) ActiveSpace() domain.SpaceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSpace
}

// LastError returns the user-facing message from the most recent failed
// listing load, empty when the last load succeeded.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// PutSpace merges a fetched snapshot into the model, e.g. a RoomByHost
// result. Local realtime state wins over snapshot state.
func (e *Engine) PutSpace(sp domain.Space) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeSpaceLocked(sp, false)
}

// mergeSpaceLocked upserts a snapshot by id. Metadata comes from the
// snapshot; queue, speakers and host-online status stay local once the
// space is already known, since realtime events are fresher than a page
// fetch. Returns true when the space was new.
func (e *Engine) mergeSpaceLocked(sp domain.Space, prepend bool) bool {
	if cur, ok := e.spaces[sp.ID]; ok {
		cur.Title = sp.Title
		cur.HostID = sp.HostID
		cur.Topics = append([]string(nil), sp.Topics...)
		cur.Listeners = sp.Listeners
		cur.HostLocation = sp.HostLocation
		if len(sp.Categories) > 0 {
			cur.Categories = make(map[int64]struct{}, len(sp.Categories))
			for k := range sp.Categories {
				cur.Categories[k] = struct{}{}
			}
		}
		cur.CreatedAt = sp.CreatedAt
		cur.UpdatedAt = sp.UpdatedAt
		return false
	}

	cp := sp.Clone()
	if cp.Categories == nil {
		cp.Categories = make(map[int64]struct{})
	}
	e.spaces[cp.ID] = cp
	if prepend {
		e.order = append([]domain.SpaceID{cp.ID}, e.order...)
	} else {
		e.order = append(e.order, cp.ID)
	}
	return true
}

// applyHostPresence is the stale-check guard for presence polls: the
// result is discarded unless the space the check started for is still
// the one being viewed.
func (e *Engine) applyHostPresence(spaceID domain.SpaceID, hostID domain.UserID, online bool) {
	e.mu.Lock()
	if e.activeSpace != spaceID {
		e.mu.Unlock()
		log.Debug().Str("module", "app.engine").Int64("space", int64(spaceID)).Msg("stale presence check discarded")
		return
	}
	sp, ok := e.spaces[spaceID]
	if !ok || sp.HostID != hostID {
		e.mu.Unlock()
		return
	}
	changed := sp.IsHostOnline != online
	sp.IsHostOnline = online
	if host, ok := sp.Speaker(hostID); ok {
		v := online
		host.IsOnline = &v
	}
	e.mu.Unlock()

	if changed {
		e.hostPresenceChanged(spaceID, hostID, online)
	}
}

// hostPresenceChanged publishes the event and drives the reconciler's
// Idle/Monitoring transitions.
func (e *Engine) hostPresenceChanged(spaceID domain.SpaceID, hostID domain.UserID, online bool) {
	e.bus.Publish(HostPresenceChanged{HostID: hostID, IsOnline: online})
	if !online {
		e.presence.Stop()
		return
	}
	if e.ActiveSpace() == spaceID && !e.joinedMediaGraph(spaceID) {
		e.presence.Monitor(spaceID, hostID)
	}
}

func (e *Engine) joinedMediaGraph(spaceID domain.SpaceID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		return false
	}
	p, ok := sp.Speaker(e.identity)
	return ok && p.PeerID != nil
}

// publish sends an outbound payload with a bounded timeout.
func (e *Engine) publish(ctx context.Context, channel, event string, payload core.Payload) error {
	return core.WithCallTimeout(ctx, e.callTimeout, func(ctx context.Context) error {
		return e.transport.Publish(ctx, channel, event, payload)
	})
}
