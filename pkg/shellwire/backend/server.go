// Package backend is a stub of the shell's backend process. It answers the shell
// catalog's queries against a simulated window and pushes packets to every connected
// shell, either on state changes or on a schedule.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/daemon"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/websockets"
)

// Server tracks shell connections and the simulated window state.
type Server struct {
	logger       *zap.Logger
	daemon       *daemon.Client
	o11y         o11y.Config
	queryTimeout time.Duration
	onClose      func()
	auth         AuthFunc
	cron         *cron.Cron

	connMu       sync.RWMutex
	conns        map[*rpc.Conn]struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// beforeTrack runs between building a connection and tracking it. Tests only.
	beforeTrack func()

	stateMu        sync.Mutex
	maximized      bool
	minimized      bool
	closeRequested bool
	lang           string
	profile        *catalog.Profile
	uninstalled    []string
	installQueue   []int64
}

// ServeWebsocket upgrades the request and serves one shell until it disconnects or the
// server shuts down.
//
//	http.HandleFunc("/ws", server.ServeWebsocket)
func (s *Server) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	if err := s.auth(r); err != nil {
		s.logger.Warn("Refusing shell connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	tr, err := websockets.Accept(w, r)
	if err != nil {
		s.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	select {
	case <-s.shutdown:
		s.logger.Debug("Rejecting new connection due to shutdown")
		tr.Close("server shutting down")
		return
	default:
	}

	conn, err := rpc.NewConn().
		WithName("shell").
		WithTransport(tr).
		WithLogger(s.logger).
		WithCatalog(catalog.Shell).
		WithTimeout(s.queryTimeout).
		WithObservability(s.o11y).
		Build()
	if err != nil {
		s.logger.Error("Failed to build connection", zap.Error(err))
		tr.Close("internal error")
		return
	}
	s.register(conn)

	if s.beforeTrack != nil {
		s.beforeTrack()
	}

	// Shutdown closes s.shutdown under connMu, so a connection is either seen by
	// Shutdown or refused here.
	s.connMu.Lock()
	select {
	case <-s.shutdown:
		s.connMu.Unlock()
		s.logger.Debug("Rejecting new connection due to shutdown")
		tr.Close("server shutting down")
		return
	default:
	}
	s.conns[conn] = struct{}{}
	count := len(s.conns)
	s.connMu.Unlock()

	s.logger.Debug("Shell connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", count),
	)

	if err := conn.Start(r.Context()); err != nil {
		s.logger.Error("Failed to start connection", zap.Error(err))
		conn.Close()
	}
	<-conn.Done()

	s.connMu.Lock()
	delete(s.conns, conn)
	count = len(s.conns)
	s.connMu.Unlock()

	s.logger.Debug("Shell disconnected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", count),
	)
}

func (s *Server) register(conn *rpc.Conn) {
	rpc.Handle(conn, catalog.Minimize, func(ctx context.Context, in kinds.Empty) (kinds.Empty, error) {
		s.stateMu.Lock()
		s.minimized = true
		s.stateMu.Unlock()
		return kinds.Empty{}, nil
	})

	rpc.Handle(conn, catalog.ToggleMaximized, func(ctx context.Context, in kinds.Empty) (kinds.Empty, error) {
		s.stateMu.Lock()
		maximized := !s.maximized
		s.stateMu.Unlock()

		s.SetMaximized(ctx, maximized)
		return kinds.Empty{}, nil
	})

	rpc.Handle(conn, catalog.IsMaximized, func(ctx context.Context, in kinds.Empty) (catalog.MaximizedState, error) {
		return catalog.MaximizedState{Maximized: s.Maximized()}, nil
	})

	rpc.Handle(conn, catalog.Close, func(ctx context.Context, in kinds.Empty) (kinds.Empty, error) {
		s.stateMu.Lock()
		s.closeRequested = true
		s.stateMu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
		return kinds.Empty{}, nil
	})

	rpc.Handle(conn, catalog.SwitchLanguage, func(ctx context.Context, in catalog.SwitchLanguageParams) (kinds.Empty, error) {
		if in.Lang == "" {
			return kinds.Empty{}, errors.New("lang is required")
		}
		s.stateMu.Lock()
		s.lang = in.Lang
		s.stateMu.Unlock()

		s.logger.Info("Language switched", zap.String("lang", in.Lang))
		return kinds.Empty{}, nil
	})

	rpc.Handle(conn, catalog.UninstallGame, func(ctx context.Context, in catalog.UninstallGameParams) (kinds.Empty, error) {
		if in.Cave == nil || in.Cave.ID == "" {
			return kinds.Empty{}, errors.New("cave is required")
		}

		if s.daemon != nil {
			_, err := daemon.Call(ctx, s.daemon, butlerd.UninstallPerform, butlerd.UninstallPerformParams{CaveID: in.Cave.ID})
			if err != nil {
				return kinds.Empty{}, fmt.Errorf("failed to uninstall cave %s: %w", in.Cave.ID, err)
			}
		}

		s.stateMu.Lock()
		s.uninstalled = append(s.uninstalled, in.Cave.ID)
		s.stateMu.Unlock()

		Broadcast(ctx, s, catalog.DownloadsChanged, kinds.Empty{})
		return kinds.Empty{}, nil
	})

	rpc.Handle(conn, catalog.QueueGameInstall, func(ctx context.Context, in catalog.QueueGameInstallParams) (kinds.Empty, error) {
		if in.GameID <= 0 {
			return kinds.Empty{}, fmt.Errorf("invalid game id %d", in.GameID)
		}

		s.stateMu.Lock()
		s.installQueue = append(s.installQueue, in.GameID)
		s.stateMu.Unlock()

		Broadcast(ctx, s, catalog.DownloadsChanged, kinds.Empty{})
		return kinds.Empty{}, nil
	})
}

// Broadcast pushes a typed packet to every connected shell.
func Broadcast[P any](ctx context.Context, s *Server, p kinds.Packet[P], payload P) int {
	return s.Broadcast(ctx, p, payload)
}

// Broadcast pushes a packet to every connected shell and returns how many accepted it.
func (s *Server) Broadcast(ctx context.Context, kind kinds.Kind, payload any) int {
	s.connMu.RLock()
	conns := make([]*rpc.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connMu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Publish(ctx, kind, payload); err != nil {
			s.logger.Debug("Failed to push packet", zap.String("kind", kind.Kind().Name()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Schedule pushes payload as a packet of kind on every tick of spec, a cron expression
// with optional seconds or a descriptor such as "@every 5s".
func (s *Server) Schedule(spec string, kind kinds.Kind, payload any) (cron.EntryID, error) {
	if kind.Kind().Direction() != kinds.DirectionPacket {
		return 0, fmt.Errorf("%s is not a packet", kind.Kind())
	}

	return s.cron.AddFunc(spec, func() {
		n := s.Broadcast(context.Background(), kind, payload)
		s.logger.Debug("Scheduled push", zap.String("kind", kind.Kind().Name()), zap.Int("delivered", n))
	})
}

// Start starts the scheduler.
func (s *Server) Start() {
	s.cron.Start()
}

// SetMaximized changes the simulated window state and notifies every shell.
func (s *Server) SetMaximized(ctx context.Context, maximized bool) {
	s.stateMu.Lock()
	s.maximized = maximized
	s.stateMu.Unlock()

	Broadcast(ctx, s, catalog.MaximizedChanged, catalog.MaximizedState{Maximized: maximized})
}

// SetProfile changes the logged-in profile and notifies every shell.
func (s *Server) SetProfile(ctx context.Context, profile *catalog.Profile) {
	s.stateMu.Lock()
	s.profile = profile
	s.stateMu.Unlock()

	Broadcast(ctx, s, catalog.ProfileChanged, catalog.ProfileState{Profile: profile})
}

func (s *Server) Maximized() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.maximized
}

func (s *Server) Minimized() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.minimized
}

func (s *Server) CloseRequested() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closeRequested
}

func (s *Server) Language() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lang
}

// Uninstalled returns the ids of caves uninstalled so far, in order.
func (s *Server) Uninstalled() []string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]string(nil), s.uninstalled...)
}

// InstallQueue returns the game ids queued for install, in order.
func (s *Server) InstallQueue() []int64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]int64(nil), s.installQueue...)
}

// ConnectionCount returns the number of connected shells.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}

// Shutdown stops the scheduler, refuses new shells and closes every connection. It
// blocks until all connections are gone or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down backend")

		<-s.cron.Stop().Done()

		s.connMu.Lock()
		close(s.shutdown)
		conns := make([]*rpc.Conn, 0, len(s.conns))
		for conn := range s.conns {
			conns = append(conns, conn)
		}
		s.connMu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.ConnectionCount() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			s.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", s.ConnectionCount()),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
