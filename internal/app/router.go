package app

import (
	"context"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

// Inbound message kinds.
const (
	TypeSpaceJoinRequest = "space_join_request"
	TypeRoomCreated      = "room_created"
	TypeQueueUpdate      = "queue_update"
	TypeUserUpdate       = "user_update"
	TypeEndRoom          = "end_room"
)

const channelTypeOwn = "own"

type inboundEnvelope struct {
	Type         string `mapstructure:"type"`
	ChannelType  string `mapstructure:"channelType"`
	TargetUserID *int64 `mapstructure:"targetUserId"`
}

// decodePayload maps a dynamic payload into a typed struct. Weak typing
// tolerates JSON numbers arriving as float64.
func decodePayload(p core.Payload, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(p))
}

// Route classifies one inbound payload, decides whether it is addressed
// to the current identity and dispatches the mutation. Delivery is
// at-least-once, so every mutation applied here is an upsert.
func (e *Engine) Route(payload core.Payload) {
	var env inboundEnvelope
	if err := decodePayload(payload, &env); err != nil {
		log.Warn().Str("module", "app.router").Err(err).Msg("undecodable payload dropped")
		return
	}

	// Addressing: the personal inbox channel is implicitly ours, so
	// channelType "own" overrides any targetUserId check. On any other
	// channel an explicit matching target is required; absent targeting
	// info is untrusted and dropped.
	if env.ChannelType != channelTypeOwn {
		if env.TargetUserID == nil {
			log.Debug().Str("module", "app.router").Str("type", env.Type).Msg("untargeted message on non-own channel dropped")
			return
		}
		if domain.UserID(*env.TargetUserID) != e.identity {
			log.Debug().Str("module", "app.router").Str("type", env.Type).Int64("target", *env.TargetUserID).Msg("message for another identity dropped")
			return
		}
	}

	switch env.Type {
	case TypeSpaceJoinRequest:
		e.handleSpaceJoinRequest(payload)
	case TypeRoomCreated:
		e.handleRoomCreated(payload)
	case TypeQueueUpdate:
		e.handleQueueUpdate(payload)
	case TypeUserUpdate:
		e.handleUserUpdate(payload)
	case TypeEndRoom:
		e.handleEndRoom(payload)
	default:
		log.Warn().Str("module", "app.router").Str("type", env.Type).Msg("unknown message type dropped")
	}
}

type joinRequestPayload struct {
	UserID  int64   `mapstructure:"userId"`
	Name    string  `mapstructure:"name"`
	Image   string  `mapstructure:"image"`
	Topic   *string `mapstructure:"topic"`
	SpaceID *int64  `mapstructure:"spaceId"`
}

func (e *Engine) handleSpaceJoinRequest(payload core.Payload) {
	var p joinRequestPayload
	if err := decodePayload(payload, &p); err != nil {
		log.Warn().Str("module", "app.router").Err(err).Msg("bad join request payload")
		return
	}
	if p.UserID == 0 {
		e.dropSchema(TypeSpaceJoinRequest, "userId")
		return
	}

	spaceID := e.ActiveSpace()
	if p.SpaceID != nil {
		spaceID = domain.SpaceID(*p.SpaceID)
	}

	// The topic rides along so the host can pick it up when the room
	// actually starts.
	if p.Topic != nil && p.SpaceID != nil && e.store != nil {
		if err := e.store.SavePendingTopic(spaceID, *p.Topic); err != nil {
			log.Warn().Str("module", "app.router").Err(err).Msg("pending topic not persisted")
		}
	}

	candidate := domain.QueueUser{
		ID:    domain.UserID(p.UserID),
		Name:  p.Name,
		Image: p.Image,
		Topic: p.Topic,
	}

	e.mu.Lock()
	if sp, ok := e.spaces[spaceID]; ok {
		sp.Queue.Append(candidate)
	}
	e.mu.Unlock()

	e.bus.Publish(SpaceJoinRequest{SpaceID: spaceID, User: candidate})
}

type roomCreatedPayload struct {
	MediaRoomID  string `mapstructure:"hmsRoomId"`
	SpaceID      *int64 `mapstructure:"spaceId"`
	TargetUserID *int64 `mapstructure:"targetUserId"`
	HostID       *int64 `mapstructure:"hostId"`
}

func (e *Engine) handleRoomCreated(payload core.Payload) {
	var p roomCreatedPayload
	if err := decodePayload(payload, &p); err != nil {
		log.Warn().Str("module", "app.router").Err(err).Msg("bad room_created payload")
		return
	}
	switch {
	case p.MediaRoomID == "":
		e.dropSchema(TypeRoomCreated, "hmsRoomId")
		return
	case p.SpaceID == nil:
		e.dropSchema(TypeRoomCreated, "spaceId")
		return
	case p.TargetUserID == nil:
		e.dropSchema(TypeRoomCreated, "targetUserId")
		return
	case p.HostID == nil:
		e.dropSchema(TypeRoomCreated, "hostId")
		return
	}

	// Checked again here even though addressing already filtered:
	// room_created triggers a media join, so the target must match.
	if domain.UserID(*p.TargetUserID) != e.identity {
		log.Debug().Str("module", "app.router").Int64("target", *p.TargetUserID).Msg("room_created for another identity dropped")
		return
	}

	spaceID := domain.SpaceID(*p.SpaceID)
	topic := ""
	if e.store != nil {
		if t, ok := e.store.PendingTopic(spaceID); ok {
			topic = t
			_ = e.store.DeletePendingTopic(spaceID)
		}
	}

	e.bus.Publish(RoomOpen{
		SpaceID:     spaceID,
		HostID:      domain.UserID(*p.HostID),
		MediaRoomID: p.MediaRoomID,
		Topic:       topic,
	})
}

type queueUserPayload struct {
	ID        int64   `mapstructure:"id"`
	Name      string  `mapstructure:"name"`
	Image     string  `mapstructure:"image"`
	Topic     *string `mapstructure:"topic"`
	IsInvited bool    `mapstructure:"isInvited"`
	HasLeft   bool    `mapstructure:"hasLeft"`
	Position  int     `mapstructure:"position"`
}

type queueUpdatePayload struct {
	QueueID  int64              `mapstructure:"queueId"`
	SpaceID  *int64             `mapstructure:"spaceId"`
	IsClosed *bool              `mapstructure:"isClosed"`
	Users    []queueUserPayload `mapstructure:"users"`
}

// normalizeQueueDelta handles both wire shapes: the newer format nests
// the delta under "data", the legacy format is the delta itself. The
// outer spaceId is copied in when the nested delta lacks one.
func normalizeQueueDelta(payload core.Payload) core.Payload {
	nested, ok := payload["data"].(map[string]any)
	if !ok {
		return payload
	}
	if _, has := nested["spaceId"]; !has {
		if sid, outerHas := payload["spaceId"]; outerHas {
			nested = cloneMap(nested)
			nested["spaceId"] = sid
		}
	}
	return core.Payload(nested)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (e *Engine) handleQueueUpdate(payload core.Payload) {
	var p queueUpdatePayload
	if err := decodePayload(normalizeQueueDelta(payload), &p); err != nil {
		log.Warn().Str("module", "app.router").Err(err).Msg("bad queue_update payload")
		return
	}

	spaceID := e.ActiveSpace()
	if p.SpaceID != nil {
		spaceID = domain.SpaceID(*p.SpaceID)
	}

	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		log.Debug().Str("module", "app.router").Int64("space", int64(spaceID)).Msg("queue_update for unknown space dropped")
		return
	}
	if p.QueueID != 0 {
		sp.Queue.ID = p.QueueID
	}
	if p.IsClosed != nil {
		sp.Queue.IsClosed = *p.IsClosed
	}
	for _, u := range p.Users {
		sp.Queue.Upsert(domain.QueueUser{
			ID:        domain.UserID(u.ID),
			Name:      u.Name,
			Image:     u.Image,
			Topic:     u.Topic,
			IsInvited: u.IsInvited,
			HasLeft:   u.HasLeft,
			Position:  u.Position,
		})
	}
	snapshot := sp.Queue.Clone()
	e.mu.Unlock()

	e.bus.Publish(QueueUpdated{SpaceID: spaceID, Queue: snapshot})
}

type userUpdatePayload struct {
	ID       int64   `mapstructure:"id"`
	SpaceID  *int64  `mapstructure:"spaceId"`
	Name     string  `mapstructure:"name"`
	Username string  `mapstructure:"username"`
	ImageURL string  `mapstructure:"imageUrl"`
	IsMuted  *bool   `mapstructure:"isMuted"`
	IsOnline *bool   `mapstructure:"isOnline"`
	PeerID   *string `mapstructure:"peerId"`
	HasLeft  *bool   `mapstructure:"hasLeft"`
}

func (e *Engine) handleUserUpdate(payload core.Payload) {
	var p userUpdatePayload
	if err := decodePayload(payload, &p); err != nil {
		log.Warn().Str("module", "app.router").Err(err).Msg("bad user_update payload")
		return
	}
	if p.ID == 0 {
		e.dropSchema(TypeUserUpdate, "id")
		return
	}

	spaceID := e.ActiveSpace()
	if p.SpaceID != nil {
		spaceID = domain.SpaceID(*p.SpaceID)
	}
	userID := domain.UserID(p.ID)

	e.mu.Lock()
	sp, ok := e.spaces[spaceID]
	if !ok {
		e.mu.Unlock()
		return
	}

	if p.HasLeft != nil && *p.HasLeft {
		wasSpeaker := sp.RemoveSpeaker(userID)
		if qu, ok := sp.Queue.User(userID); ok {
			qu.HasLeft = true
		}
		queueWaiting := false
		if _, ok := sp.Queue.NextWaiting(); ok {
			queueWaiting = true
		}
		e.mu.Unlock()
		if wasSpeaker && queueWaiting {
			e.bus.Publish(InviteNextPrompt{SpaceID: spaceID})
		}
		return
	}

	cur, exists := sp.Speaker(userID)
	next := domain.Participant{ID: userID}
	if exists {
		next = *cur
	}
	if p.Name != "" {
		next.Name = p.Name
	}
	if p.Username != "" {
		next.Username = p.Username
	}
	if p.ImageURL != "" {
		next.ImageURL = p.ImageURL
	}
	if p.IsMuted != nil {
		next.IsMuted = *p.IsMuted
	}
	if p.IsOnline != nil {
		next.IsOnline = p.IsOnline
	}
	if p.PeerID != nil {
		next.PeerID = p.PeerID
	}
	sp.UpsertSpeaker(next)

	hostID := sp.HostID
	hostFlip := false
	var hostOnline bool
	if userID == hostID && p.IsOnline != nil && sp.IsHostOnline != *p.IsOnline {
		sp.IsHostOnline = *p.IsOnline
		hostFlip = true
		hostOnline = *p.IsOnline
	}
	e.mu.Unlock()

	if hostFlip {
		e.hostPresenceChanged(spaceID, hostID, hostOnline)
	}
}

type endRoomPayload struct {
	SpaceID *int64 `mapstructure:"spaceId"`
}

func (e *Engine) handleEndRoom(payload core.Payload) {
	var p endRoomPayload
	if err := decodePayload(payload, &p); err != nil {
		log.Warn().Str("module", "app.router").Err(err).Msg("bad end_room payload")
		return
	}
	if p.SpaceID == nil {
		e.dropSchema(TypeEndRoom, "spaceId")
		return
	}
	spaceID := domain.SpaceID(*p.SpaceID)

	e.mu.Lock()
	_, known := e.spaces[spaceID]
	delete(e.spaces, spaceID)
	for i, id := range e.order {
		if id == spaceID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	wasActive := e.activeSpace == spaceID
	if wasActive {
		e.activeSpace = 0
	}
	e.mu.Unlock()

	if wasActive {
		e.presence.Stop()
		e.ClearActiveSpace(context.Background())
	}
	if known {
		e.bus.Publish(RoomEnded{SpaceID: spaceID})
	}
}

func (e *Engine) dropSchema(msgType, field string) {
	err := &core.SchemaError{MessageType: msgType, Field: field}
	log.Warn().Str("module", "app.router").Err(err).Msg("payload dropped")
}
