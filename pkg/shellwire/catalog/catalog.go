// Package catalog declares the message kinds exchanged between the shell and its
// backend process, and the modals the shell can show.
package catalog

import (
	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
)

// Version of the shell catalog.
const Version = 1

type Empty = kinds.Empty

type MaximizedState struct {
	Maximized bool `json:"maximized"`
}

type SwitchLanguageParams struct {
	Lang string `json:"lang"`
}

type UninstallGameParams struct {
	Cave *butlerd.Cave `json:"cave"`
}

type QueueGameInstallParams struct {
	GameID int64 `json:"gameId"`
}

type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type Profile struct {
	ID   int64 `json:"id"`
	User *User `json:"user,omitempty"`
}

type ProfileState struct {
	Profile *Profile `json:"profile"`
}

type ConfirmUninstallParams struct {
	GameID int64 `json:"gameId"`
}

// Queries answered by the backend.
var (
	Minimize         = kinds.NewQuery[Empty, Empty]("minimize")
	ToggleMaximized  = kinds.NewQuery[Empty, Empty]("toggleMaximized")
	IsMaximized      = kinds.NewQuery[Empty, MaximizedState]("isMaximized")
	Close            = kinds.NewQuery[Empty, Empty]("close")
	SwitchLanguage   = kinds.NewQuery[SwitchLanguageParams, Empty]("switchLanguage")
	UninstallGame    = kinds.NewQuery[UninstallGameParams, Empty]("uninstallGame")
	QueueGameInstall = kinds.NewQuery[QueueGameInstallParams, Empty]("queueGameInstall")
)

// Packets pushed by the backend.
var (
	MaximizedChanged = kinds.NewPacket[MaximizedState]("maximizedChanged")
	ProfileChanged   = kinds.NewPacket[ProfileState]("profileChanged")
	DownloadsChanged = kinds.NewPacket[Empty]("downloadsChanged")
)

// Modals shown by the shell.
var (
	Preferences      = kinds.NewModal[Empty, Empty]("preferences")
	ConfirmUninstall = kinds.NewModal[ConfirmUninstallParams, Empty]("confirmUninstall")
)

// Shell holds every kind exchanged with the backend, plus the modals.
var Shell = kinds.NewCatalog("shell", Version,
	Minimize,
	ToggleMaximized,
	IsMaximized,
	Close,
	SwitchLanguage,
	UninstallGame,
	QueueGameInstall,
	MaximizedChanged,
	ProfileChanged,
	DownloadsChanged,
	Preferences,
	ConfirmUninstall,
)
