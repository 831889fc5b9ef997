package coinforge

import (
	"context"
	"sync"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrProfileNotFound = runtime.NewError("profile not found", 5)                    // NOT_FOUND
	ErrProfileLocked   = runtime.NewError("profile is owned by another holder", 9)   // FAILED_PRECONDITION
	ErrProfileReleased = runtime.NewError("profile ownership has been released", 9)  // FAILED_PRECONDITION
)

// A Profile is the durable per-player document holding currency balances and the
// processed-receipt history. While held it is exclusively owned by the process that
// loaded it; the profile store enforces single ownership across the fleet.
type Profile struct {
	PlayerID   int64              `json:"player_id"`
	Currencies map[string]float64 `json:"currencies"`
	Receipts   map[string]int64   `json:"receipts"`
	LastSweep  int64              `json:"last_sweep"`
	Version    int                `json:"version"`

	// mu guards the maps above against concurrent structural access. It is distinct
	// from the per-player operation lock owned by the profiles system: mu keeps the
	// data intact, the operation lock serializes whole ledger operations.
	mu sync.Mutex

	// dirty marks unsaved changes; writes counts every dirtying write so a flush
	// can tell whether a mutation landed after the snapshot it persisted.
	dirty  bool
	writes uint64
}

// markDirtyLocked records a dirtying write. Callers must hold mu.
func (p *Profile) markDirtyLocked() {
	p.dirty = true
	p.writes++
}

func (p *Profile) markDirty() {
	p.mu.Lock()
	p.markDirtyLocked()
	p.mu.Unlock()
}

func (p *Profile) isDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// writeGeneration snapshots the write counter before a save.
func (p *Profile) writeGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// clearDirtyAt clears the dirty mark only if no write landed since the given
// generation; a later write keeps the document queued for the next flush.
func (p *Profile) clearDirtyAt(generation uint64) {
	p.mu.Lock()
	if p.writes == generation {
		p.dirty = false
	}
	p.mu.Unlock()
}

// A ProfileTemplate describes the versioned default shape of a profile. Reconcile
// fills fields the stored document is missing, which covers both newly created
// players and documents written by older template versions.
type ProfileTemplate struct {
	Version    int                `json:"version" yaml:"version"`
	Currencies map[string]float64 `json:"currencies" yaml:"currencies"`
}

// The ProfileStore is the durable key-value document store the engine is built
// against. Implementations must guarantee that only one holder anywhere in the
// fleet owns a given player's document at a time.
type ProfileStore interface {
	// Load fetches the player's document and takes exclusive ownership of it.
	// Returns ErrProfileNotFound if no document exists for the player, and
	// ErrProfileLocked if another holder currently owns it.
	Load(ctx context.Context, playerID int64) (*Profile, error)

	// Create registers a brand new empty document for a player and takes exclusive
	// ownership of it. Used when Load reports ErrProfileNotFound.
	Create(ctx context.Context, playerID int64) (*Profile, error)

	// Reconcile fills fields missing from the document using the versioned template.
	Reconcile(profile *Profile, template *ProfileTemplate)

	// Save persists the document. The caller must own it.
	Save(ctx context.Context, profile *Profile) error

	// Release returns ownership of the document to the store.
	Release(ctx context.Context, profile *Profile) error

	// OnForceRelease registers a callback invoked when another holder seizes
	// ownership of the document out from under this process.
	OnForceRelease(profile *Profile, fn func(playerID int64))
}

// reconcileProfile is the shared template merge used by store implementations.
func reconcileProfile(profile *Profile, template *ProfileTemplate) {
	if profile == nil || template == nil {
		return
	}
	profile.mu.Lock()
	defer profile.mu.Unlock()

	if profile.Currencies == nil {
		profile.Currencies = make(map[string]float64, len(template.Currencies))
	}
	if profile.Receipts == nil {
		profile.Receipts = make(map[string]int64)
	}
	if profile.Version < template.Version {
		for currencyID, defaultValue := range template.Currencies {
			if _, exists := profile.Currencies[currencyID]; !exists {
				profile.Currencies[currencyID] = defaultValue
			}
		}
		profile.Version = template.Version
		profile.markDirtyLocked()
	}
}

// newProfile creates an empty document for a player who has none stored yet.
func newProfile(playerID int64) *Profile {
	return &Profile{
		PlayerID:   playerID,
		Currencies: make(map[string]float64),
		Receipts:   make(map[string]int64),
	}
}
