package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

// Queue coordination. Per-entry state machine:
// Waiting -> Invited -> (Speaking | Removed), Waiting -> Removed,
// Speaking -> Left. Invites are serialized: at most one outstanding.

// Enqueue appends a candidate at the queue tail. No-op when the id is
// already queued.
func (e *Engine) Enqueue(spaceID domain.SpaceID, user domain.QueueUser) bool {
	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	added := sp.Queue.Append(user)
	var snapshot domain.Queue
	if added {
		snapshot = sp.Queue.Clone()
	}
	e.mu.Unlock()

	if added {
		e.bus.Publish(QueueUpdated{SpaceID: spaceID, Queue: snapshot})
	}
	return added
}

// InviteNext invites the lowest-position waiting user and publishes the
// invite to that user's inbox channel. No-op while another invite is
// outstanding or when nobody waits.
func (e *Engine) InviteNext(ctx context.Context, spaceID domain.SpaceID) (domain.UserID, bool) {
	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		return 0, false
	}
	if sp.Queue.HasOutstandingInvite() {
		e.mu.Unlock()
		log.Debug().Str("module", "app.queue").Int64("space", int64(spaceID)).Msg("invite already outstanding")
		return 0, false
	}
	next, ok := sp.Queue.NextWaiting()
	if !ok {
		e.mu.Unlock()
		return 0, false
	}
	next.IsInvited = true
	invited := *next
	queueID := sp.Queue.ID
	snapshot := sp.Queue.Clone()
	e.mu.Unlock()

	payload := core.Payload{
		"type":        TypeQueueUpdate,
		"channelType": channelTypeOwn,
		"spaceId":     int64(spaceID),
		"data": map[string]any{
			"queueId": queueID,
			"spaceId": int64(spaceID),
			"users": []any{map[string]any{
				"id":        int64(invited.ID),
				"name":      invited.Name,
				"image":     invited.Image,
				"isInvited": true,
				"position":  invited.Position,
			}},
		},
	}
	if err := e.publish(ctx, domain.Channel(invited.ID), TypeQueueUpdate, payload); err != nil {
		// Roll the invite back so the next attempt is not blocked by a
		// publish that never went out.
		e.mu.Lock()
		if sp, ok := e.spaces[spaceID]; ok {
			if qu, ok := sp.Queue.User(invited.ID); ok {
				qu.IsInvited = false
			}
		}
		e.mu.Unlock()
		log.Warn().Str("module", "app.queue").Err(err).Int64("user", int64(invited.ID)).Msg("invite publish failed")
		return 0, false
	}

	e.bus.Publish(QueueUpdated{SpaceID: spaceID, Queue: snapshot})
	log.Info().Str("module", "app.queue").Int64("space", int64(spaceID)).Int64("user", int64(invited.ID)).Msg("invited next in queue")
	return invited.ID, true
}

// RemoveFromQueue drops an entry regardless of its state. Positions are
// not compacted; relative order still holds.
func (e *Engine) RemoveFromQueue(spaceID domain.SpaceID, userID domain.UserID) bool {
	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	removed := sp.Queue.Remove(userID)
	var snapshot domain.Queue
	if removed {
		snapshot = sp.Queue.Clone()
	}
	e.mu.Unlock()

	if removed {
		e.bus.Publish(QueueUpdated{SpaceID: spaceID, Queue: snapshot})
	}
	return removed
}

// PromoteToSpeaker moves a queued user onto the speaker list.
func (e *Engine) PromoteToSpeaker(spaceID domain.SpaceID, userID domain.UserID) bool {
	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	qu, inQueue := sp.Queue.User(userID)
	if !inQueue {
		e.mu.Unlock()
		return false
	}
	speaker := domain.Participant{
		ID:       userID,
		Name:     qu.Name,
		ImageURL: qu.Image,
	}
	sp.Queue.Remove(userID)
	if _, already := sp.Speaker(userID); !already {
		sp.UpsertSpeaker(speaker)
	}
	snapshot := sp.Queue.Clone()
	e.mu.Unlock()

	e.bus.Publish(QueueUpdated{SpaceID: spaceID, Queue: snapshot})
	log.Info().Str("module", "app.queue").Int64("space", int64(spaceID)).Int64("user", int64(userID)).Msg("promoted to speaker")
	return true
}

// SetMuted applies a local mute change and tells the room about it. A
// failed publish rolls the local change back so the model never shows a
// state the room was not told about.
func (e *Engine) SetMuted(ctx context.Context, spaceID domain.SpaceID, userID domain.UserID, muted bool) error {
	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		return &core.ChannelError{Kind: core.ChannelNotFound}
	}
	hostID := sp.HostID
	var prev, applied bool
	if p, ok := sp.Speaker(userID); ok {
		prev = p.IsMuted
		p.IsMuted = muted
		applied = true
	}
	e.mu.Unlock()

	payload := core.Payload{
		"type":         TypeUserUpdate,
		"channelType":  channelTypeOwn,
		"spaceId":      int64(spaceID),
		"id":           int64(userID),
		"targetUserId": int64(userID),
		"isMuted":      muted,
	}
	if err := e.publish(ctx, domain.Channel(hostID), TypeUserUpdate, payload); err != nil {
		if applied {
			e.mu.Lock()
			if sp, ok := e.spaces[spaceID]; ok {
				if p, ok := sp.Speaker(userID); ok {
					p.IsMuted = prev
				}
			}
			e.mu.Unlock()
		}
		log.Warn().Str("module", "app.queue").Err(err).Int64("user", int64(userID)).Msg("mute publish failed")
		return err
	}
	return nil
}
