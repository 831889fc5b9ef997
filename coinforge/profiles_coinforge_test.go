package coinforge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiles_JoinCreatesAndTemplates(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)

	profile, exists := engine.GetProfilesSystem().GetProfile(1)
	require.True(t, exists)
	assert.Equal(t, int64(1), profile.PlayerID)
	assert.Equal(t, 1, profile.Version)
	assert.Equal(t, 10.0, profile.Currencies["coins"])
}

func TestProfiles_DuplicateJoinIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)

	profile, _ := engine.GetProfilesSystem().GetProfile(1)
	joinPlayer(t, engine, 1)
	again, _ := engine.GetProfilesSystem().GetProfile(1)
	assert.Same(t, profile, again)
}

func TestProfiles_JoinRejectsBadPlayerID(t *testing.T) {
	engine, _ := newTestEngine(t)
	err := engine.GetProfilesSystem().OnPlayerJoin(context.Background(), &mockLogger{}, 0)
	assert.Equal(t, ErrBadInput, err)
}

func TestProfiles_JoinFailsWhenLockedElsewhere(t *testing.T) {
	store := NewMemoryProfileStore()
	_, err := store.Create(context.Background(), 1)
	require.NoError(t, err)

	// The store document is owned by another holder; this process cannot join.
	engine := InitWithSystems(
		NewProfilesSystem(&ProfilesConfig{LockWaitTimeoutMs: 100}, store),
	)
	err = engine.GetProfilesSystem().OnPlayerJoin(context.Background(), &mockLogger{}, 1)
	assert.Equal(t, ErrProfileLocked, err)
}

func TestProfiles_LeavePersistsAndReleases(t *testing.T) {
	engine, store := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	_, err := engine.GetCurrencySystem().SetValue(ctx, logger, 1, "coins", 42, "seed")
	require.NoError(t, err)

	engine.GetProfilesSystem().OnPlayerLeave(ctx, logger, 1)
	_, exists := engine.GetProfilesSystem().GetProfile(1)
	assert.False(t, exists)

	// A fresh load sees the departing player's last state.
	profile, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 42.0, profile.Currencies["coins"])
}

func TestProfiles_LeaveReleasesEvenWhenSaveFails(t *testing.T) {
	engine, store := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	store.FailNextSave()
	engine.GetProfilesSystem().OnPlayerLeave(ctx, logger, 1)

	// The document must not stay locked fleet-wide behind the failed save.
	_, err := store.Load(ctx, 1)
	require.NoError(t, err)
}

func TestProfiles_ForceReleaseUnloadsDocument(t *testing.T) {
	engine, store := newTestEngine(t)
	joinPlayer(t, engine, 1)

	store.ForceRelease(1)

	_, exists := engine.GetProfilesSystem().GetProfile(1)
	assert.False(t, exists)

	// Mutations against the seized document fail fast.
	_, err := engine.GetCurrencySystem().IncrementValue(context.Background(), &mockLogger{}, 1, "coins", 5, "late")
	assert.Equal(t, ErrProfileUnavailable, err)
}

func TestProfiles_FlushProfileWritesThrough(t *testing.T) {
	engine, store := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	_, err := engine.GetCurrencySystem().SetValue(ctx, logger, 1, "coins", 77, "seed")
	require.NoError(t, err)

	require.NoError(t, engine.GetProfilesSystem().FlushProfile(ctx, logger, 1))
	profile, _ := engine.GetProfilesSystem().GetProfile(1)
	assert.False(t, profile.isDirty())

	assert.Equal(t, ErrProfileUnavailable, engine.GetProfilesSystem().FlushProfile(ctx, logger, 99))

	// The persisted copy reflects the flush even while the session stays open.
	engine.GetProfilesSystem().OnPlayerLeave(ctx, logger, 1)
	stored, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 77.0, stored.Currencies["coins"])
}

func TestProfiles_AcquireIsExclusivePerPlayer(t *testing.T) {
	engine, _ := newTestEngine(t)
	profiles := engine.GetProfilesSystem()
	ctx := context.Background()

	require.NoError(t, profiles.Acquire(ctx, 1))

	// Same player blocks until timeout, another player acquires immediately.
	err := profiles.Acquire(ctx, 1)
	assert.Equal(t, ErrLockTimeout, err)
	require.NoError(t, profiles.Acquire(ctx, 2))

	profiles.ReleaseLock(1)
	profiles.ReleaseLock(2)
	require.NoError(t, profiles.Acquire(ctx, 1))
	profiles.ReleaseLock(1)
}

func TestProfiles_ReleaseWithoutHoldIsSafe(t *testing.T) {
	engine, _ := newTestEngine(t)
	profiles := engine.GetProfilesSystem()

	profiles.ReleaseLock(1)
	require.NoError(t, profiles.Acquire(context.Background(), 1))
	profiles.ReleaseLock(1)
}

func TestProfiles_AcquireBothAllOrNothing(t *testing.T) {
	engine, _ := newTestEngine(t)
	profiles := engine.GetProfilesSystem()
	ctx := context.Background()

	assert.Equal(t, ErrInvalidOperation, profiles.AcquireBoth(ctx, 1, 1))

	// Hold the higher id; AcquireBoth must fail and leave the lower id free.
	require.NoError(t, profiles.Acquire(ctx, 2))
	err := profiles.AcquireBoth(ctx, 1, 2)
	assert.Equal(t, ErrLockTimeout, err)

	require.NoError(t, profiles.Acquire(ctx, 1))
	profiles.ReleaseLock(1)
	profiles.ReleaseLock(2)
}

func TestProfiles_AcquireBothContendedPairsDoNotDeadlock(t *testing.T) {
	engine, _ := newTestEngine(t)
	profiles := engine.GetProfilesSystem()
	ctx := context.Background()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		a, b := int64(1), int64(2)
		if i == 1 {
			a, b = b, a
		}
		go func(a, b int64) {
			for j := 0; j < 100; j++ {
				if err := profiles.AcquireBoth(ctx, a, b); err != nil {
					done <- err
					return
				}
				profiles.ReleaseLock(a)
				profiles.ReleaseLock(b)
			}
			done <- nil
		}(a, b)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("opposite-order lock pairs deadlocked")
		}
	}
}

func TestProfiles_CloseReleasesEverything(t *testing.T) {
	engine, store := newTestEngine(t)
	joinPlayer(t, engine, 1)
	joinPlayer(t, engine, 2)
	logger := &mockLogger{}
	ctx := context.Background()

	require.NoError(t, engine.Open(ctx, logger))
	require.NoError(t, engine.Close(ctx, logger))

	_, exists := engine.GetProfilesSystem().GetProfile(1)
	assert.False(t, exists)
	_, err := store.Load(ctx, 1)
	require.NoError(t, err)
	_, err = store.Load(ctx, 2)
	require.NoError(t, err)
}
