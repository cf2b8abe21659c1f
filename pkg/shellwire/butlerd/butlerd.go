// Package butlerd declares the calls understood by the local daemon and the records it
// returns. The daemon catalog is versioned independently from the shell catalog.
package butlerd

import "github.com/tsarna/shellwire/pkg/shellwire/kinds"

// Version of the daemon catalog.
const Version = 1

// Game is a game record as known to the daemon.
type Game struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	URL            string `json:"url,omitempty"`
	CoverURL       string `json:"coverUrl,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// CaveInstallInfo describes where and how a cave is installed.
type CaveInstallInfo struct {
	InstalledSize   int64  `json:"installedSize,omitempty"`
	InstallLocation string `json:"installLocation,omitempty"`
	InstallFolder   string `json:"installFolder,omitempty"`
}

// Cave is one installation of a game.
type Cave struct {
	ID          string           `json:"id"`
	Game        *Game            `json:"game,omitempty"`
	InstallInfo *CaveInstallInfo `json:"installInfo,omitempty"`
}

type FetchGameParams struct {
	GameID int64 `json:"gameId"`
}

type FetchGameResult struct {
	Game *Game `json:"game"`
}

type FetchCavesFilters struct {
	GameID int64 `json:"gameId,omitempty"`
}

type FetchCavesParams struct {
	Filters FetchCavesFilters `json:"filters"`
}

type FetchCavesResult struct {
	Items []*Cave `json:"items"`
}

type VersionGetResult struct {
	Version       string `json:"version"`
	VersionString string `json:"versionString"`
}

type UninstallPerformParams struct {
	CaveID string `json:"caveId"`
}

var (
	FetchGame  = kinds.NewCall[FetchGameParams, FetchGameResult]("Fetch.Game", kinds.Idempotent())
	FetchCaves = kinds.NewCall[FetchCavesParams, FetchCavesResult]("Fetch.Caves", kinds.Idempotent())
	VersionGet = kinds.NewCall[kinds.Empty, VersionGetResult]("Version.Get", kinds.Idempotent())

	// UninstallPerform has side effects and is never retried.
	UninstallPerform = kinds.NewCall[UninstallPerformParams, kinds.Empty]("Uninstall.Perform")
)

// Catalog holds every daemon call.
var Catalog = kinds.NewCatalog("butlerd", Version, FetchGame, FetchCaves, VersionGet, UninstallPerform)
