// Package transport abstracts the realtime pub/sub channel the registry
// publishes to and consumes events from.
package transport

import (
	"context"
	"encoding/json"
)

// Handler receives an event name and its raw JSON payload.
type Handler func(event string, payload []byte)

// Transport is the outbound boundary of the engine. ClientID returns the
// transport-assigned client identity, or "" when the backend has none
// (callers fall back to the authenticated user id).
type Transport interface {
	Subscribe(channel string, h Handler) (unsubscribe func(), err error)
	Publish(ctx context.Context, channel, event string, payload []byte) error
	ClientID() string
	Close() error
}

// Envelope is the wire frame shared by the redis and websocket backends.
type Envelope struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
