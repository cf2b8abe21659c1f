// Package socket is the shell's client for its backend process: typed queries and
// packet subscriptions over one WebSocket connection.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
)

// Socket is the connection to the backend. Create it with NewSocket().
type Socket struct {
	dialer       transport.Dialer
	logger       *zap.Logger
	queryTimeout time.Duration
	catalog      *kinds.Catalog
	monitor      rpc.Monitor
	o11y         o11y.Config

	mu   sync.RWMutex
	conn *rpc.Conn
}

var (
	_ rpc.Requester    = (*Socket)(nil)
	_ rpc.PacketSource = (*Socket)(nil)
)

// Connect dials the backend and opens the connection. A socket can connect again once
// its previous connection has closed.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.conn.State() < rpc.StateClosing {
		return fmt.Errorf("socket is already connected")
	}

	tr, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}

	conn, err := rpc.NewConn().
		WithName("backend").
		WithTransport(tr).
		WithLogger(s.logger).
		WithCatalog(s.catalog).
		WithTimeout(s.queryTimeout).
		WithMonitor(s.monitor).
		WithObservability(s.o11y).
		Build()
	if err != nil {
		tr.Close("build failed")
		return err
	}

	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.logger.Info("Connected to backend")
	return nil
}

// Disconnect closes the connection. Pending queries fail with ErrConnectionClosed and
// every subscription is dropped. It does not wait for the connection goroutines; use
// Done for that.
func (s *Socket) Disconnect() error {
	conn := s.current()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// State returns the state of the current connection, or StateClosed if the socket never
// connected.
func (s *Socket) State() rpc.State {
	conn := s.current()
	if conn == nil {
		return rpc.StateClosed
	}
	return conn.State()
}

// Done is closed once the current connection has fully shut down.
func (s *Socket) Done() <-chan struct{} {
	conn := s.current()
	if conn == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return conn.Done()
}

func (s *Socket) current() *rpc.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Request implements rpc.Requester.
func (s *Socket) Request(ctx context.Context, kind kinds.Kind, input any) (json.RawMessage, error) {
	conn := s.current()
	if conn == nil {
		return nil, rpc.ErrNotConnected
	}
	return conn.Request(ctx, kind, input)
}

// Subscribe implements rpc.PacketSource. Subscribing while disconnected returns a
// no-op.
func (s *Socket) Subscribe(kind kinds.Kind, handler rpc.PacketHandler) rpc.Unsubscribe {
	conn := s.current()
	if conn == nil {
		s.logger.Warn("Subscribe on a socket that never connected", zap.String("kind", kind.Kind().Name()))
		return func() {}
	}
	return conn.Subscribe(kind, handler)
}

// Query sends a typed query to the backend.
func Query[I, O any](ctx context.Context, s *Socket, q kinds.Query[I, O], in I) (O, error) {
	return rpc.Query(ctx, s, q, in)
}

// Subscribe listens for a typed packet from the backend.
func Subscribe[P any](s *Socket, p kinds.Packet[P], handler func(ctx context.Context, payload P) error) rpc.Unsubscribe {
	return rpc.Listen(s, p, handler)
}
