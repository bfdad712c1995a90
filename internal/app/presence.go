package app

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

// PresenceReconciler resolves authoritative host-online status by
// polling the transport's presence set, because push presence events
// can be missed while backgrounded or across reconnect gaps.
//
// State machine: Idle <-> Monitoring. Monitor() enters Monitoring for
// one space/host pair; Stop() returns to Idle. Each cycle captures its
// target at start, and the result is discarded when the viewed space
// changed underneath it.
type PresenceReconciler struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
}

func newPresenceReconciler(e *Engine, interval, timeout time.Duration) *PresenceReconciler {
	return &PresenceReconciler{engine: e, interval: interval, timeout: timeout}
}

// Monitor starts the poll loop for the given space. A running loop for
// another target is stopped first.
func (r *PresenceReconciler) Monitor(spaceID domain.SpaceID, hostID domain.UserID) {
	e := r.engine
	e.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	e.mu.Unlock()

	log.Info().Str("module", "app.presence").Int64("space", int64(spaceID)).Int64("host", int64(hostID)).Msg("monitoring host presence")
	go r.loop(ctx, spaceID, hostID)
}

// Stop returns the reconciler to Idle. Safe to call when already idle.
func (r *PresenceReconciler) Stop() {
	e := r.engine
	e.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	e.mu.Unlock()
}

func (r *PresenceReconciler) loop(ctx context.Context, spaceID domain.SpaceID, hostID domain.UserID) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkOnce(ctx, spaceID, hostID)
		}
	}
}

// checkOnce runs one attach -> presenceGet -> detach cycle. Errors mean
// "no information this cycle": the status is left as-is and the next
// tick retries, so transient blips never flap the host offline.
func (r *PresenceReconciler) checkOnce(ctx context.Context, spaceID domain.SpaceID, hostID domain.UserID) {
	if r.engine.joinBlocked() {
		log.Debug().Str("module", "app.presence").Msg("join in flight, skipping presence cycle")
		return
	}

	channel := domain.Channel(hostID)
	transport := r.engine.transport

	err := core.WithCallTimeout(ctx, r.timeout, func(ctx context.Context) error {
		return transport.Attach(ctx, channel)
	})
	if err != nil {
		log.Warn().Str("module", "app.presence").Err(err).Str("channel", channel).Msg("presence attach failed, skipping cycle")
		return
	}
	// Attach/detach stay paired even when the presence read fails.
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := transport.Detach(dctx, channel); err != nil {
			log.Warn().Str("module", "app.presence").Err(err).Str("channel", channel).Msg("presence detach failed")
		}
	}()

	var members []core.Member
	err = core.WithCallTimeout(ctx, r.timeout, func(ctx context.Context) error {
		var perr error
		members, perr = transport.PresenceGet(ctx, channel)
		return perr
	})
	if err != nil {
		log.Warn().Str("module", "app.presence").Err(err).Str("channel", channel).Msg("presence get failed, skipping cycle")
		return
	}

	hostKey := strconv.FormatInt(int64(hostID), 10)
	online := false
	for _, m := range members {
		if m.ClientID == hostKey {
			online = true
			break
		}
	}

	// Check-then-apply: applyHostPresence discards the result when the
	// viewed space changed while this cycle was running.
	r.engine.applyHostPresence(spaceID, hostID, online)
}
