// Package core declares the interfaces the engine consumes and the error
// taxonomy shared across the module. Implementations live in adapters.
package core

import (
	"context"
	"time"

	"github.com/waveroom/spaces/internal/domain"
)

// Payload is an opaque key/value message body. Values may be strings,
// numbers, bools or nested maps; the router decodes them into typed
// structs at its boundary.
type Payload map[string]any

// Member is a point-in-time presence entry on a channel.
type Member struct {
	ClientID string
	Data     map[string]any
}

// MessageHandler receives one inbound message. Delivery is at-least-once;
// handlers must tolerate duplicates.
type MessageHandler func(channel string, event string, payload Payload)

// Transport abstracts the pub/sub realtime layer. Two interchangeable
// realizations exist (websocket bridge, redis); the engine never depends
// on which one it was given.
//
// Attachments are counted holds: each Attach takes one, each Detach
// releases one, and the channel is only torn down when the last hold is
// gone. Independent callers may attach the same channel without
// coordinating their detaches. Detach is safe to call when not attached.
type Transport interface {
	Connect(ctx context.Context, identity domain.UserID) error
	Close() error

	Attach(ctx context.Context, channel string) error
	Detach(ctx context.Context, channel string) error

	Publish(ctx context.Context, channel, event string, payload Payload) error
	Subscribe(channel string, h MessageHandler) (cancel func())

	PresenceGet(ctx context.Context, channel string) ([]Member, error)
}

// WithCallTimeout bounds a transport or listing call. The underlying
// calls have no native cancellation, so expiry is surfaced as a timeout
// TransportError at the call site rather than interrupting the work.
func WithCallTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return &TransportError{Kind: TransportTimeout, Err: err}
	}
	return err
}
