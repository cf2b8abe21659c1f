// Package shell holds the shell-side consumers of the backend and daemon APIs: the
// window top bar and the uninstall confirmation dialog.
package shell

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/hooks"
	"github.com/tsarna/shellwire/pkg/shellwire/modal"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// Backend is the part of the socket the shell consumers need.
type Backend interface {
	rpc.Requester
	rpc.PacketSource
}

// Topbar tracks the window state and forwards window actions to the backend.
type Topbar struct {
	backend Backend
	modals  *modal.Orchestrator
	logger  *zap.Logger

	mu        sync.Mutex
	maximized bool
	pushed    bool
	listener  *hooks.Listener[catalog.MaximizedState]
}

func NewTopbar(backend Backend, modals *modal.Orchestrator, logger *zap.Logger) *Topbar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Topbar{
		backend: backend,
		modals:  modals,
		logger:  logger,
	}
}

// Mount starts following maximizedChanged for as long as ctx lives and loads the
// current window state. A push that arrives before the initial query returns wins.
// Mounting again replaces the previous subscription.
func (t *Topbar) Mount(ctx context.Context) error {
	listener := hooks.Listen(ctx, t.backend, catalog.MaximizedChanged, t.onMaximizedChanged)

	t.mu.Lock()
	previous := t.listener
	t.listener = listener
	t.pushed = false
	t.mu.Unlock()

	if previous != nil {
		previous.Detach()
	}

	state, err := rpc.Query(ctx, t.backend, catalog.IsMaximized, catalog.Empty{})
	if err != nil {
		return fmt.Errorf("failed to load window state: %w", err)
	}

	t.mu.Lock()
	if !t.pushed {
		t.maximized = state.Maximized
	}
	t.mu.Unlock()
	return nil
}

func (t *Topbar) onMaximizedChanged(ctx context.Context, state catalog.MaximizedState) error {
	t.mu.Lock()
	t.maximized = state.Maximized
	t.pushed = true
	t.mu.Unlock()
	return nil
}

// Mounted reports whether the top bar is still following window state.
func (t *Topbar) Mounted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener != nil && t.listener.Attached()
}

func (t *Topbar) Maximized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maximized
}

func (t *Topbar) Close(ctx context.Context) error {
	_, err := rpc.Query(ctx, t.backend, catalog.Close, catalog.Empty{})
	return err
}

func (t *Topbar) Minimize(ctx context.Context) error {
	_, err := rpc.Query(ctx, t.backend, catalog.Minimize, catalog.Empty{})
	return err
}

// ToggleMaximized asks the backend to flip the window state. The new state arrives as a
// maximizedChanged push.
func (t *Topbar) ToggleMaximized(ctx context.Context) error {
	_, err := rpc.Query(ctx, t.backend, catalog.ToggleMaximized, catalog.Empty{})
	return err
}

func (t *Topbar) SwitchLanguage(ctx context.Context, lang string) error {
	_, err := rpc.Query(ctx, t.backend, catalog.SwitchLanguage, catalog.SwitchLanguageParams{Lang: lang})
	return err
}

// OpenPreferences shows the preferences dialog without waiting for it to close.
func (t *Topbar) OpenPreferences() {
	t.modals.Background().Go(catalog.Preferences.Name(), func(ctx context.Context) error {
		_, err := modal.Show(ctx, t.modals, catalog.Preferences, catalog.Empty{})
		return err
	})
}
