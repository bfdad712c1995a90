// Package wstransport realizes the pub/sub transport over a single
// websocket connection to a realtime bridge (centrifugo-style): frames
// carry an op, a channel and an opaque data map.
package wstransport

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

const (
	opConnect       = "connect"
	opAttach        = "attach"
	opDetach        = "detach"
	opPublish       = "publish"
	opPresence      = "presence"
	opMessage       = "message"
	opAck           = "ack"
	opPresenceState = "presence_state"
	opError         = "error"

	writeWait = 5 * time.Second
)

type frame struct {
	Op      string         `json:"op"`
	ID      string         `json:"id,omitempty"`
	Client  string         `json:"client,omitempty"`
	Channel string         `json:"channel,omitempty"`
	Event   string         `json:"event,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Members []memberState  `json:"members,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type memberState struct {
	ClientID string         `json:"clientId"`
	Data     map[string]any `json:"data,omitempty"`
}

type handlerEntry struct {
	id string
	h  core.MessageHandler
}

// Transport is a websocket realization of core.Transport.
type Transport struct {
	url string

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	clientID string
	attached map[string]int
	handlers map[string][]handlerEntry
	pending  map[string]chan frame
	closed   bool
}

var _ core.Transport = (*Transport)(nil)

func New(url string) *Transport {
	return &Transport{
		url:      url,
		attached: make(map[string]int),
		handlers: make(map[string][]handlerEntry),
		pending:  make(map[string]chan frame),
	}
}

func (t *Transport) Connect(ctx context.Context, identity domain.UserID) error {
	if t.url == "" {
		return &core.TransportError{Kind: core.TransportNotInitialized}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return &core.TransportError{Kind: core.TransportNetwork, Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.clientID = strconv.FormatInt(int64(identity), 10)
	t.closed = false
	t.mu.Unlock()

	if err := t.write(frame{Op: opConnect, Client: t.clientID}); err != nil {
		_ = conn.Close()
		return err
	}

	go t.readLoop(conn)
	log.Info().Str("module", "adapters.ws").Str("client", t.clientID).Str("url", t.url).Msg("connected")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.closed = true
	t.conn = nil
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Attach takes a hold on the channel. The first hold subscribes on the
// bridge; further holds only bump the count, so independent callers
// (room routing, presence cycles) can attach the same channel without
// tearing each other down on detach.
func (t *Transport) Attach(ctx context.Context, channel string) error {
	t.mu.Lock()
	if t.attached[channel] > 0 {
		t.attached[channel]++
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if _, err := t.roundTrip(ctx, frame{Op: opAttach, Channel: channel}); err != nil {
		return err
	}

	t.mu.Lock()
	t.attached[channel]++
	t.mu.Unlock()
	return nil
}

// Detach releases one hold; the bridge subscription goes away with the
// last one. Safe when not attached.
func (t *Transport) Detach(ctx context.Context, channel string) error {
	t.mu.Lock()
	n := t.attached[channel]
	switch {
	case n == 0:
		t.mu.Unlock()
		return nil
	case n > 1:
		t.attached[channel] = n - 1
		t.mu.Unlock()
		return nil
	}
	delete(t.attached, channel)
	t.mu.Unlock()

	_, err := t.roundTrip(ctx, frame{Op: opDetach, Channel: channel})
	return err
}

// Publish sends a payload to a channel and waits for the bridge ack.
func (t *Transport) Publish(ctx context.Context, channel, event string, payload core.Payload) error {
	_, err := t.roundTrip(ctx, frame{
		Op:      opPublish,
		Channel: channel,
		Event:   event,
		Data:    map[string]any(payload),
	})
	return err
}

func (t *Transport) Subscribe(channel string, h core.MessageHandler) (cancel func()) {
	id := uuid.NewString()
	t.mu.Lock()
	t.handlers[channel] = append(t.handlers[channel], handlerEntry{id: id, h: h})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		entries := t.handlers[channel]
		for i, e := range entries {
			if e.id == id {
				t.handlers[channel] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// PresenceGet asks the bridge for the point-in-time member set.
func (t *Transport) PresenceGet(ctx context.Context, channel string) ([]core.Member, error) {
	resp, err := t.roundTrip(ctx, frame{Op: opPresence, Channel: channel})
	if err != nil {
		return nil, err
	}
	members := make([]core.Member, 0, len(resp.Members))
	for _, m := range resp.Members {
		members = append(members, core.Member{ClientID: m.ClientID, Data: m.Data})
	}
	return members, nil
}

// roundTrip sends a frame with a correlation id and waits for its reply.
func (t *Transport) roundTrip(ctx context.Context, f frame) (frame, error) {
	t.mu.Lock()
	if t.conn == nil || t.closed {
		t.mu.Unlock()
		return frame{}, &core.TransportError{Kind: core.TransportNotInitialized}
	}
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)
	t.pending[f.ID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, f.ID)
		t.mu.Unlock()
	}()

	if err := t.write(f); err != nil {
		return frame{}, err
	}

	select {
	case <-ctx.Done():
		return frame{}, &core.TransportError{Kind: core.TransportTimeout, Err: ctx.Err()}
	case resp, ok := <-ch:
		if !ok {
			return frame{}, &core.TransportError{Kind: core.TransportNetwork}
		}
		if resp.Op == opError {
			return frame{}, &core.ChannelError{Kind: core.ChannelAttachFailed, Channel: f.Channel, Err: errString(resp.Error)}
		}
		return resp, nil
	}
}

func (t *Transport) write(f frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn := t.conn
	if conn == nil {
		return &core.TransportError{Kind: core.TransportNotInitialized}
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return &core.TransportError{Kind: core.TransportNetwork, Err: err}
	}
	if err := conn.WriteJSON(f); err != nil {
		return &core.TransportError{Kind: core.TransportNetwork, Err: err}
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Msg("read loop closing")
		_ = t.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				log.Warn().Str("module", "adapters.ws").Err(err).Msg("read error")
			}
			return
		}

		switch f.Op {
		case opMessage:
			t.dispatch(f)
		case opAck, opPresenceState, opError:
			t.mu.Lock()
			if ch, ok := t.pending[f.ID]; ok {
				ch <- f
			}
			t.mu.Unlock()
		default:
			log.Debug().Str("module", "adapters.ws").Str("op", f.Op).Msg("unknown frame op")
		}
	}
}

func (t *Transport) dispatch(f frame) {
	t.mu.Lock()
	attached := t.attached[f.Channel] > 0
	entries := append([]handlerEntry(nil), t.handlers[f.Channel]...)
	t.mu.Unlock()

	// Frames for channels we detached from are stale bridge traffic.
	if !attached {
		return
	}
	for _, e := range entries {
		e.h(f.Channel, f.Event, core.Payload(f.Data))
	}
}

type errString string

func (e errString) Error() string { return string(e) }
