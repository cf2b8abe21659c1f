package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
)

// Requester sends a query and waits for the raw result.
type Requester interface {
	Request(ctx context.Context, kind kinds.Kind, input any) (json.RawMessage, error)
}

// PacketSource delivers pushed packets to subscribers.
type PacketSource interface {
	Subscribe(kind kinds.Kind, handler PacketHandler) Unsubscribe
}

// Publisher pushes packets to the peer.
type Publisher interface {
	Publish(ctx context.Context, kind kinds.Kind, payload any) error
}

// HandlerRegistry accepts handlers for inbound queries.
type HandlerRegistry interface {
	Handle(kind kinds.Kind, handler QueryHandler)
}

var (
	_ Requester       = (*Conn)(nil)
	_ PacketSource    = (*Conn)(nil)
	_ Publisher       = (*Conn)(nil)
	_ HandlerRegistry = (*Conn)(nil)
)

// Query sends a typed query and decodes its result.
func Query[I, O any](ctx context.Context, r Requester, q kinds.Query[I, O], in I) (O, error) {
	return request[O](ctx, r, q, in)
}

// Call sends a typed daemon call and decodes its result.
func Call[I, O any](ctx context.Context, r Requester, call kinds.Call[I, O], in I) (O, error) {
	return request[O](ctx, r, call, in)
}

func request[O any](ctx context.Context, r Requester, kind kinds.Kind, in any) (O, error) {
	var out O

	raw, err := r.Request(ctx, kind, in)
	if err != nil {
		return out, err
	}
	if err := Decode(raw, &out); err != nil {
		return out, fmt.Errorf("%w: result of %s: %v", ErrMalformedEnvelope, kind.Kind(), err)
	}
	return out, nil
}

// Decode unmarshals a payload into v. An absent or null payload leaves v untouched.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Listen subscribes a typed handler to packets of kind p. Payloads that do not decode
// are reported as handler errors.
func Listen[P any](src PacketSource, p kinds.Packet[P], handler func(ctx context.Context, payload P) error) Unsubscribe {
	return src.Subscribe(p, func(ctx context.Context, raw json.RawMessage) error {
		var payload P
		if err := Decode(raw, &payload); err != nil {
			return fmt.Errorf("%w: payload of %s: %v", ErrMalformedEnvelope, p.Kind(), err)
		}
		return handler(ctx, payload)
	})
}

// Publish pushes a typed packet.
func Publish[P any](ctx context.Context, pub Publisher, p kinds.Packet[P], payload P) error {
	return pub.Publish(ctx, p, payload)
}

// Handle registers a typed handler for inbound queries of kind q.
func Handle[I, O any](reg HandlerRegistry, q kinds.Query[I, O], handler func(ctx context.Context, in I) (O, error)) {
	handle(reg, q, handler)
}

// HandleCall registers a typed handler for inbound daemon calls.
func HandleCall[I, O any](reg HandlerRegistry, call kinds.Call[I, O], handler func(ctx context.Context, in I) (O, error)) {
	handle(reg, call, handler)
}

func handle[I, O any](reg HandlerRegistry, kind kinds.Kind, handler func(ctx context.Context, in I) (O, error)) {
	reg.Handle(kind, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in I
		if err := Decode(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: input of %s: %v", ErrMalformedEnvelope, kind.Kind(), err)
		}
		return handler(ctx, in)
	})
}
