// Package redistransport realizes the pub/sub transport on redis:
// messages travel over redis pub/sub, presence is a set of keys with a
// TTL heartbeat per attached client.
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

const (
	channelPrefix  = "ch:"
	presencePrefix = "presence:"
)

type wireMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type attachment struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	refs   int
}

type handlerEntry struct {
	id string
	h  core.MessageHandler
}

// Transport is a redis realization of core.Transport.
type Transport struct {
	addr        string
	presenceTTL time.Duration

	mu       sync.Mutex
	rdb      *redis.Client
	clientID string
	attached map[string]*attachment
	handlers map[string][]handlerEntry
}

var _ core.Transport = (*Transport)(nil)

func New(addr string, presenceTTL time.Duration) *Transport {
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}
	return &Transport{
		addr:        addr,
		presenceTTL: presenceTTL,
		attached:    make(map[string]*attachment),
		handlers:    make(map[string][]handlerEntry),
	}
}

func (t *Transport) Connect(ctx context.Context, identity domain.UserID) error {
	if t.addr == "" {
		return &core.TransportError{Kind: core.TransportNotInitialized}
	}
	rdb := redis.NewClient(&redis.Options{Addr: t.addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return &core.TransportError{Kind: core.TransportNetwork, Err: err}
	}

	t.mu.Lock()
	t.rdb = rdb
	t.clientID = strconv.FormatInt(int64(identity), 10)
	t.mu.Unlock()

	log.Info().Str("module", "adapters.redis").Str("client", t.clientID).Str("addr", t.addr).Msg("connected")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	rdb := t.rdb
	atts := t.attached
	t.attached = make(map[string]*attachment)
	t.rdb = nil
	t.mu.Unlock()

	for _, att := range atts {
		att.cancel()
		_ = att.pubsub.Close()
	}
	if rdb != nil {
		return rdb.Close()
	}
	return nil
}

func (t *Transport) presenceKey(channel, clientID string) string {
	return fmt.Sprintf("%s%s:%s", presencePrefix, channel, clientID)
}

// Attach takes a hold on the channel. The first hold marks our presence
// and starts consuming the pub/sub stream; further holds only bump the
// count, so a presence cycle detaching its own hold never silences a
// channel another caller still uses.
func (t *Transport) Attach(ctx context.Context, channel string) error {
	t.mu.Lock()
	rdb, clientID := t.rdb, t.clientID
	if rdb == nil {
		t.mu.Unlock()
		return &core.TransportError{Kind: core.TransportNotInitialized}
	}
	if att, ok := t.attached[channel]; ok {
		att.refs++
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	key := t.presenceKey(channel, clientID)
	if err := rdb.SetEx(ctx, key, "1", t.presenceTTL).Err(); err != nil {
		return &core.ChannelError{Kind: core.ChannelAttachFailed, Channel: channel, Err: err}
	}

	pubsub := rdb.Subscribe(ctx, channelPrefix+channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = rdb.Del(context.Background(), key).Err()
		_ = pubsub.Close()
		return &core.ChannelError{Kind: core.ChannelAttachFailed, Channel: channel, Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	att := &attachment{pubsub: pubsub, cancel: cancel, refs: 1}

	t.mu.Lock()
	if winner, ok := t.attached[channel]; ok {
		// Lost the race with a concurrent attach; hold the winner.
		winner.refs++
		t.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil
	}
	t.attached[channel] = att
	t.mu.Unlock()

	go t.consume(loopCtx, channel, pubsub)
	go t.heartbeat(loopCtx, key)
	return nil
}

// Detach releases one hold. The presence key and consumer go away with
// the last one. Safe when not attached.
func (t *Transport) Detach(ctx context.Context, channel string) error {
	t.mu.Lock()
	rdb, clientID := t.rdb, t.clientID
	att, ok := t.attached[channel]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	att.refs--
	if att.refs > 0 {
		t.mu.Unlock()
		return nil
	}
	delete(t.attached, channel)
	t.mu.Unlock()

	att.cancel()
	_ = att.pubsub.Close()
	if rdb != nil {
		if err := rdb.Del(ctx, t.presenceKey(channel, clientID)).Err(); err != nil {
			return &core.TransportError{Kind: core.TransportNetwork, Err: err}
		}
	}
	return nil
}

func (t *Transport) Publish(ctx context.Context, channel, event string, payload core.Payload) error {
	t.mu.Lock()
	rdb := t.rdb
	t.mu.Unlock()
	if rdb == nil {
		return &core.TransportError{Kind: core.TransportNotInitialized}
	}

	raw, err := json.Marshal(wireMessage{Event: event, Data: map[string]any(payload)})
	if err != nil {
		return err
	}
	if err := rdb.Publish(ctx, channelPrefix+channel, raw).Err(); err != nil {
		return &core.TransportError{Kind: core.TransportNetwork, Err: err}
	}
	return nil
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

// PresenceGet scans the channel's presence keys; every live key is one
// attached member.
func (t *Transport) PresenceGet(ctx context.Context, channel string) ([]core.Member, error) {
	t.mu.Lock()
	rdb := t.rdb
	t.mu.Unlock()
	if rdb == nil {
		return nil, &core.TransportError{Kind: core.TransportNotInitialized}
	}

	prefix := fmt.Sprintf("%s%s:", presencePrefix, channel)
	var members []core.Member
	iter := rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		clientID := strings.TrimPrefix(iter.Val(), prefix)
		members = append(members, core.Member{ClientID: clientID})
	}
	if err := iter.Err(); err != nil {
		return nil, &core.TransportError{Kind: core.TransportNetwork, Err: err}
	}
	return members, nil
}

func (t *Transport) consume(ctx context.Context, channel string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var wire wireMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				log.Warn().Str("module", "adapters.redis").Err(err).Str("channel", channel).Msg("undecodable message dropped")
				continue
			}
			t.mu.Lock()
			entries := append([]handlerEntry(nil), t.handlers[channel]...)
			t.mu.Unlock()
			for _, e := range entries {
				e.h(channel, wire.Event, core.Payload(wire.Data))
			}
		}
	}
}

// heartbeat keeps the presence key alive while attached; losing it is
// how other clients see us go offline.
func (t *Transport) heartbeat(ctx context.Context, key string) {
	interval := t.presenceTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			rdb := t.rdb
			t.mu.Unlock()
			if rdb == nil {
				return
			}
			if err := rdb.Expire(ctx, key, t.presenceTTL).Err(); err != nil {
				log.Warn().Str("module", "adapters.redis").Err(err).Str("key", key).Msg("presence heartbeat failed")
			}
		}
	}
}
