package coinforge

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresStore skips unless COINFORGE_TEST_DATABASE_URL points at a
// disposable database.
func newPostgresStore(t *testing.T) *PostgresProfileStore {
	t.Helper()
	dsn := os.Getenv("COINFORGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("COINFORGE_TEST_DATABASE_URL not set")
	}

	require.NoError(t, Migrate(dsn))
	store, err := NewPostgresProfileStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestPostgresStore_CreateLoadRoundTrip(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	playerID := int64(910001)

	_, err := store.Load(ctx, playerID)
	if err == nil {
		t.Skip("player row already present from a previous run")
	}
	require.Equal(t, ErrProfileNotFound, err)

	profile, err := store.Create(ctx, playerID)
	require.NoError(t, err)

	profile.Currencies["coins"] = 123
	profile.Receipts["r-1"] = 1700000000
	profile.LastSweep = 1700000100
	profile.Version = 2
	require.NoError(t, store.Save(ctx, profile))
	require.NoError(t, store.Release(ctx, profile))

	reloaded, err := store.Load(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, 123.0, reloaded.Currencies["coins"])
	assert.Equal(t, int64(1700000000), reloaded.Receipts["r-1"])
	assert.Equal(t, int64(1700000100), reloaded.LastSweep)
	assert.Equal(t, 2, reloaded.Version)
	require.NoError(t, store.Release(ctx, reloaded))
}

func TestPostgresStore_SecondHolderRejected(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	playerID := int64(910002)

	profile, err := store.Create(ctx, playerID)
	require.NoError(t, err)
	defer store.Release(ctx, profile)

	// Same process cannot double-hold.
	_, err = store.Load(ctx, playerID)
	assert.Equal(t, ErrProfileLocked, err)

	// Neither can a second store over its own pool, which models a second
	// server process: the advisory lock lives in the database.
	second, err := NewPostgresProfileStore(ctx, os.Getenv("COINFORGE_TEST_DATABASE_URL"))
	require.NoError(t, err)
	defer second.Close(ctx)
	_, err = second.Load(ctx, playerID)
	assert.Equal(t, ErrProfileLocked, err)
}

func TestPostgresStore_SaveAfterReleaseFails(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	playerID := int64(910003)

	profile, err := store.Create(ctx, playerID)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, profile))

	assert.Equal(t, ErrProfileReleased, store.Save(ctx, profile))
	assert.Equal(t, ErrProfileReleased, store.Release(ctx, profile))
}
