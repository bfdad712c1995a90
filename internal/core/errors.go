package core

import (
	"errors"
	"fmt"
)

// TransportErrorKind discriminates transport-level failures.
type TransportErrorKind int

const (
	TransportNotInitialized TransportErrorKind = iota
	TransportNetwork
	TransportTimeout
)

type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportNotInitialized:
		return "transport: not initialized"
	case TransportTimeout:
		return fmt.Sprintf("transport: timeout: %v", e.Err)
	default:
		return fmt.Sprintf("transport: network: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChannelErrorKind discriminates channel lifecycle failures.
type ChannelErrorKind int

const (
	ChannelAttachFailed ChannelErrorKind = iota
	ChannelNotFound
)

type ChannelError struct {
	Kind    ChannelErrorKind
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Kind == ChannelNotFound {
		return fmt.Sprintf("channel %q: not found", e.Channel)
	}
	return fmt.Sprintf("channel %q: attach failed: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// SchemaError marks a required field missing from an inbound payload.
// Always non-fatal: the message is dropped and logged.
type SchemaError struct {
	MessageType string
	Field       string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("payload %q: missing field %q", e.MessageType, e.Field)
}

// APIErrorKind discriminates listing API failures.
type APIErrorKind int

const (
	APIUnauthorized APIErrorKind = iota
	APINetwork
	APIDecode
	APIUnknown
)

type APIError struct {
	Kind   APIErrorKind
	Status int
	Err    error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case APIUnauthorized:
		return "api: unauthorized"
	case APIDecode:
		return fmt.Sprintf("api: decode failure: %v", e.Err)
	case APINetwork:
		return fmt.Sprintf("api: network: %v", e.Err)
	default:
		return fmt.Sprintf("api: status %d: %v", e.Status, e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == TransportTimeout
}
