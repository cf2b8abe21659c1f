package shell

import (
	"context"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/modal"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// UninstallView is what the confirmation dialog presents.
type UninstallView struct {
	Game  *butlerd.Game
	Caves []*butlerd.Cave

	confirm func() error
	cancel  func() error
}

// Confirm closes the dialog, then queues one uninstall per cave. Only the first
// answer counts; later calls return rpc.ErrDuplicateResolution and queue nothing.
func (v *UninstallView) Confirm() error { return v.confirm() }

// Cancel closes the dialog without uninstalling anything.
func (v *UninstallView) Cancel() error { return v.cancel() }

// Uninstaller renders the confirmUninstall modal.
type Uninstaller struct {
	// Daemon answers Fetch.Game and Fetch.Caves.
	Daemon rpc.Requester
	// Backend receives the uninstallGame queries.
	Backend rpc.Requester
	// Background runs the uninstalls after the dialog is gone.
	Background *modal.Background
	Logger     *zap.Logger
}

// Register installs the uninstall widget on router.
func (u *Uninstaller) Register(router *modal.Router) {
	modal.Register(router, catalog.ConfirmUninstall, u.Widget)
}

// Widget loads the game and its caves, then presents the confirmation. If loading
// fails the dialog resolves with nothing selected and is never shown.
func (u *Uninstaller) Widget(ctx context.Context, props modal.Props[catalog.ConfirmUninstallParams, catalog.Empty]) {
	logger := u.logger().With(zap.Int64("game_id", props.Params.GameID))

	game, err := rpc.Call(ctx, u.Daemon, butlerd.FetchGame, butlerd.FetchGameParams{GameID: props.Params.GameID})
	if err != nil {
		logger.Warn("Failed to fetch game", zap.Error(err))
		props.OnResult(catalog.Empty{})
		return
	}
	if game.Game == nil {
		logger.Warn("Game not found, nothing to uninstall")
		props.OnResult(catalog.Empty{})
		return
	}

	caves, err := rpc.Call(ctx, u.Daemon, butlerd.FetchCaves, butlerd.FetchCavesParams{
		Filters: butlerd.FetchCavesFilters{GameID: props.Params.GameID},
	})
	if err != nil {
		logger.Warn("Failed to fetch caves", zap.Error(err))
		props.OnResult(catalog.Empty{})
		return
	}

	view := &UninstallView{
		Game:  game.Game,
		Caves: caves.Items,
		confirm: func() error {
			if err := props.OnResult(catalog.Empty{}); err != nil {
				return err
			}
			for _, cave := range caves.Items {
				u.queue(cave)
			}
			return nil
		},
		cancel: func() error {
			return props.OnResult(catalog.Empty{})
		},
	}

	props.Present(view)
	<-ctx.Done()
}

func (u *Uninstaller) queue(cave *butlerd.Cave) {
	u.Background.Go(catalog.UninstallGame.Name(), func(ctx context.Context) error {
		_, err := rpc.Query(ctx, u.Backend, catalog.UninstallGame, catalog.UninstallGameParams{Cave: cave})
		return err
	})
}

func (u *Uninstaller) logger() *zap.Logger {
	if u.Logger == nil {
		return zap.NewNop()
	}
	return u.Logger
}

// RequestUninstall asks the user to confirm uninstalling gameID and blocks until the
// dialog closes.
func RequestUninstall(ctx context.Context, o *modal.Orchestrator, gameID int64) error {
	_, err := modal.Show(ctx, o, catalog.ConfirmUninstall, catalog.ConfirmUninstallParams{GameID: gameID})
	return err
}
