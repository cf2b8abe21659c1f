package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// Stub is an in-memory game library answering the daemon catalog.
type Stub struct {
	Version string

	mu    sync.RWMutex
	games map[int64]*butlerd.Game
	caves []*butlerd.Cave
}

// NewStub creates an empty library.
func NewStub() *Stub {
	return &Stub{
		Version: "v0.0.0-stub",
		games:   make(map[int64]*butlerd.Game),
	}
}

// AddGame adds a game together with its caves. Each cave's Game is set to game.
func (s *Stub) AddGame(game butlerd.Game, caves ...butlerd.Cave) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := game
	s.games[g.ID] = &g
	for _, cave := range caves {
		c := cave
		c.Game = &g
		s.caves = append(s.caves, &c)
	}
}

// Caves returns the caves installed for gameID.
func (s *Stub) Caves(gameID int64) []*butlerd.Cave {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*butlerd.Cave
	for _, cave := range s.caves {
		if gameID == 0 || (cave.Game != nil && cave.Game.ID == gameID) {
			out = append(out, cave)
		}
	}
	return out
}

// Register installs the stub's handlers on reg.
func (s *Stub) Register(reg rpc.HandlerRegistry) {
	rpc.HandleCall(reg, butlerd.FetchGame, func(ctx context.Context, in butlerd.FetchGameParams) (butlerd.FetchGameResult, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return butlerd.FetchGameResult{Game: s.games[in.GameID]}, nil
	})

	rpc.HandleCall(reg, butlerd.FetchCaves, func(ctx context.Context, in butlerd.FetchCavesParams) (butlerd.FetchCavesResult, error) {
		items := s.Caves(in.Filters.GameID)
		if items == nil {
			items = []*butlerd.Cave{}
		}
		return butlerd.FetchCavesResult{Items: items}, nil
	})

	rpc.HandleCall(reg, butlerd.VersionGet, func(ctx context.Context, in kinds.Empty) (butlerd.VersionGetResult, error) {
		return butlerd.VersionGetResult{Version: s.Version, VersionString: s.Version + " (stub)"}, nil
	})

	rpc.HandleCall(reg, butlerd.UninstallPerform, func(ctx context.Context, in butlerd.UninstallPerformParams) (kinds.Empty, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, cave := range s.caves {
			if cave.ID == in.CaveID {
				s.caves = append(s.caves[:i:i], s.caves[i+1:]...)
				return kinds.Empty{}, nil
			}
		}
		return kinds.Empty{}, fmt.Errorf("cave %s not found", in.CaveID)
	})
}
