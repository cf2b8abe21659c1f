package daemon

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/stream"
)

// Server answers daemon calls on every connection accepted from a listener. Handlers
// are registered once on the server and installed on each new connection.
type Server struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]handlerEntry
	conns    map[*rpc.Conn]struct{}
	wg       sync.WaitGroup
}

type handlerEntry struct {
	kind    kinds.Kind
	handler rpc.QueryHandler
}

var _ rpc.HandlerRegistry = (*Server)(nil)

// NewServer creates a server with no handlers.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:   logger,
		handlers: make(map[string]handlerEntry),
		conns:    make(map[*rpc.Conn]struct{}),
	}
}

// Handle implements rpc.HandlerRegistry. It only affects connections accepted later.
func (s *Server) Handle(kind kinds.Kind, handler rpc.QueryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind.Kind().Name()] = handlerEntry{kind: kind, handler: handler}
}

// Serve accepts connections until ctx is cancelled or the listener fails, then closes
// every connection it accepted. A cancelled ctx is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	s.logger.Info("Daemon listening", zap.String("address", listener.Addr().String()))

	for {
		nc, err := listener.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()

			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if err := s.serveConn(nc); err != nil {
			s.logger.Warn("Failed to start daemon connection", zap.Error(err))
			nc.Close()
		}
	}
}

func (s *Server) serveConn(nc net.Conn) error {
	conn, err := rpc.NewConn().
		WithName("daemon-peer").
		WithTransport(stream.New(nc)).
		WithLogger(s.logger).
		WithCatalog(butlerd.Catalog).
		Build()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, entry := range s.handlers {
		conn.Handle(entry.kind, entry.handler)
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	if err := conn.Start(context.Background()); err != nil {
		s.untrack(conn)
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-conn.Done()
		s.untrack(conn)
	}()
	return nil
}

func (s *Server) untrack(conn *rpc.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) closeAll() {
	s.mu.RLock()
	conns := make([]*rpc.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
