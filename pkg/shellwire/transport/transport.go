// Package transport abstracts the duplex frame stream under a connection. The
// connection core only needs to read whole frames, write whole frames and close.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Read and Write once the transport has been closed locally.
var ErrClosed = errors.New("transport closed")

// Transport is a duplex stream of frames. Read is only ever called from one goroutine,
// and so is Write; the two may run concurrently.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(reason string) error
}

// Dialer opens a new transport to a fixed endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
