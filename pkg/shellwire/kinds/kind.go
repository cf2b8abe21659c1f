// Package kinds declares the message kinds exchanged between the shell, the backend
// process and the local daemon.
//
// A kind is a process-lifetime constant: it is declared once in a catalog and never
// mutated. Typed descriptors (Query, Packet, Modal, Call) carry the input and output
// shapes as type parameters so that every send and receive site is checked by the
// compiler, while the wire only ever sees the kind's name.
package kinds

import "fmt"

// Direction tells which channel and pattern a kind belongs to.
type Direction int

const (
	DirectionQuery Direction = iota
	DirectionPacket
	DirectionModal
	DirectionDaemonCall
)

func (d Direction) String() string {
	switch d {
	case DirectionQuery:
		return "query"
	case DirectionPacket:
		return "packet"
	case DirectionModal:
		return "modal"
	case DirectionDaemonCall:
		return "daemon-call"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MessageKind is the untyped descriptor of a message kind. Two kinds with the same
// name are the same kind.
type MessageKind struct {
	name       string
	direction  Direction
	idempotent bool
}

// Kind is implemented by every typed descriptor.
type Kind interface {
	Kind() MessageKind
}

func (k MessageKind) Name() string         { return k.name }
func (k MessageKind) Direction() Direction { return k.direction }

// Idempotent reports whether a call of this kind may be retried safely.
func (k MessageKind) Idempotent() bool { return k.idempotent }

// IsZero reports whether k is the zero MessageKind.
func (k MessageKind) IsZero() bool { return k.name == "" }

func (k MessageKind) Kind() MessageKind { return k }

func (k MessageKind) String() string {
	return k.direction.String() + ":" + k.name
}

// Same reports whether k and other share an identity.
func (k MessageKind) Same(other Kind) bool {
	return other != nil && k.name == other.Kind().name
}

// Query is a request/response kind addressed at the backend process.
type Query[I, O any] struct {
	kind MessageKind
}

func NewQuery[I, O any](name string) Query[I, O] {
	return Query[I, O]{kind: newKind(name, DirectionQuery)}
}

func (q Query[I, O]) Kind() MessageKind { return q.kind }
func (q Query[I, O]) Name() string      { return q.kind.name }

// Packet is a push notification kind sent by the backend.
type Packet[P any] struct {
	kind MessageKind
}

func NewPacket[P any](name string) Packet[P] {
	return Packet[P]{kind: newKind(name, DirectionPacket)}
}

func (p Packet[P]) Kind() MessageKind { return p.kind }
func (p Packet[P]) Name() string      { return p.kind.name }

// Modal is a dialog kind: P is the parameter shape, R the result shape.
type Modal[P, R any] struct {
	kind MessageKind
}

func NewModal[P, R any](name string) Modal[P, R] {
	return Modal[P, R]{kind: newKind(name, DirectionModal)}
}

func (m Modal[P, R]) Kind() MessageKind { return m.kind }
func (m Modal[P, R]) Name() string      { return m.kind.name }

// Call is a request/response kind addressed at the daemon.
type Call[I, O any] struct {
	kind MessageKind
}

// CallOption tweaks a daemon call descriptor.
type CallOption func(*MessageKind)

// Idempotent marks a call as safe to retry.
func Idempotent() CallOption {
	return func(k *MessageKind) {
		k.idempotent = true
	}
}

func NewCall[I, O any](name string, opts ...CallOption) Call[I, O] {
	k := newKind(name, DirectionDaemonCall)
	for _, opt := range opts {
		opt(&k)
	}
	return Call[I, O]{kind: k}
}

func (c Call[I, O]) Kind() MessageKind { return c.kind }
func (c Call[I, O]) Name() string      { return c.kind.name }

func newKind(name string, direction Direction) MessageKind {
	if name == "" {
		panic("kinds: message kind name must not be empty")
	}
	return MessageKind{name: name, direction: direction}
}

// Empty is the shape of messages that carry no data.
type Empty struct{}
