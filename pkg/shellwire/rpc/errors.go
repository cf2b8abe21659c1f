package rpc

import (
	"errors"
	"fmt"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/wire"
)

var (
	// ErrTimeout is returned when no response arrives within the request window.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionClosed is returned for requests that were pending when the
	// connection closed, and for any use of a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrDaemonUnavailable is returned when the daemon cannot be reached, or its
	// connection dropped while a call was in flight.
	ErrDaemonUnavailable = errors.New("daemon unavailable")

	// ErrMalformedEnvelope is returned for frames or payloads that do not match the
	// shape declared by their kind.
	ErrMalformedEnvelope = wire.ErrMalformed

	// ErrDuplicateResolution is returned when a modal request is resolved twice.
	ErrDuplicateResolution = errors.New("modal request already resolved")

	// ErrUnknownKind is returned when a name does not resolve to a declared kind.
	ErrUnknownKind = kinds.ErrUnknownKind

	// ErrNotConnected is returned when a connection is used before it is open.
	ErrNotConnected = errors.New("not connected")
)

// RemoteError carries an error reported by the remote side in reply to a query.
type RemoteError struct {
	Kind   string
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error for %s: %s", e.Kind, e.Detail)
}
