package coinforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ProfilesConfig is the data definition for the ProfilesSystem type.
type ProfilesConfig struct {
	// FlushIntervalSec is how often dirty profiles are written back to the store.
	FlushIntervalSec int `json:"flush_interval_sec,omitempty" yaml:"flush_interval_sec,omitempty"`

	// LockWaitTimeoutMs bounds how long a mutating operation may wait for a
	// player's operation lock before failing with ErrLockTimeout.
	LockWaitTimeoutMs int `json:"lock_wait_timeout_ms,omitempty" yaml:"lock_wait_timeout_ms,omitempty"`

	// Template describes the default document shape for new or outdated profiles.
	Template *ProfileTemplate `json:"template,omitempty" yaml:"template,omitempty"`
}

// The ProfilesSystem owns the registry of loaded player documents, the per-player
// operation locks, and the session lifecycle glue. All engine state is process
// scoped and owned by this system; nothing is shared between processes except
// through the profile store.
type ProfilesSystem interface {
	System

	// OnPlayerJoin loads (or creates) the player's document and registers it.
	OnPlayerJoin(ctx context.Context, logger runtime.Logger, playerID int64) error

	// OnPlayerLeave saves and releases the player's document, best effort, and
	// clears any lock state held for the player.
	OnPlayerLeave(ctx context.Context, logger runtime.Logger, playerID int64)

	// GetProfile returns the loaded document for a player, if this process holds it.
	GetProfile(playerID int64) (*Profile, bool)

	// FlushProfile writes a single player's document to the store immediately.
	FlushProfile(ctx context.Context, logger runtime.Logger, playerID int64) error

	// FlushAll writes every dirty document to the store. Failures are logged and
	// never fatal; the next flush retries.
	FlushAll(ctx context.Context, logger runtime.Logger)

	// Acquire takes the player's exclusive operation lock, waiting up to the
	// configured bound. At most one in-flight mutating operation per player id is
	// admitted at any instant within this process.
	Acquire(ctx context.Context, playerID int64) error

	// AcquireBoth takes both participants' locks for a two-player operation. The
	// caller observes both locks held or neither.
	AcquireBoth(ctx context.Context, playerIDA, playerIDB int64) error

	// ReleaseLock releases a player's operation lock. Safe to call when not held.
	ReleaseLock(playerID int64)

	// Open starts the background flush and sweep schedules.
	Open(ctx context.Context, logger runtime.Logger) error

	// Close flushes and releases every held profile and stops the schedules.
	Close(ctx context.Context, logger runtime.Logger) error
}
