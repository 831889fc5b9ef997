package coinforge

import (
	"context"
	"sync"
)

// MemoryProfileStore is an in-process ProfileStore. It enforces the same
// single-owner contract as the durable implementations and is intended for local
// development and tests. Fault injection hooks simulate the failure modes a real
// store exhibits so recovery paths stay exercised.
type MemoryProfileStore struct {
	mu        sync.Mutex
	documents map[int64]*Profile
	owned     map[int64]*Profile
	callbacks map[int64]func(playerID int64)

	failNextSave bool
}

var _ ProfileStore = &MemoryProfileStore{}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		documents: make(map[int64]*Profile),
		owned:     make(map[int64]*Profile),
		callbacks: make(map[int64]func(playerID int64)),
	}
}

func (s *MemoryProfileStore) Load(ctx context.Context, playerID int64) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.owned[playerID]; held {
		return nil, ErrProfileLocked
	}

	stored, exists := s.documents[playerID]
	if !exists {
		return nil, ErrProfileNotFound
	}

	profile := copyProfile(stored)
	s.owned[playerID] = profile
	return profile, nil
}

func (s *MemoryProfileStore) Reconcile(profile *Profile, template *ProfileTemplate) {
	reconcileProfile(profile, template)
}

func (s *MemoryProfileStore) Save(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return ErrBadInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNextSave {
		s.failNextSave = false
		return ErrInternal
	}
	if s.owned[profile.PlayerID] != profile {
		return ErrProfileReleased
	}

	s.documents[profile.PlayerID] = copyProfile(profile)
	return nil
}

func (s *MemoryProfileStore) Release(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return ErrBadInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned[profile.PlayerID] != profile {
		return ErrProfileReleased
	}
	delete(s.owned, profile.PlayerID)
	delete(s.callbacks, profile.PlayerID)
	return nil
}

func (s *MemoryProfileStore) OnForceRelease(profile *Profile, fn func(playerID int64)) {
	if profile == nil || fn == nil {
		return
	}

	s.mu.Lock()
	s.callbacks[profile.PlayerID] = fn
	s.mu.Unlock()
}

// Create registers a brand new document for a player and takes ownership of it.
// Used when Load reports ErrProfileNotFound.
func (s *MemoryProfileStore) Create(ctx context.Context, playerID int64) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.owned[playerID]; held {
		return nil, ErrProfileLocked
	}

	profile := newProfile(playerID)
	s.documents[playerID] = copyProfile(profile)
	s.owned[playerID] = profile
	return profile, nil
}

// ForceRelease seizes ownership of a held document, firing the registered
// callback. Simulates another server process in the fleet taking the session.
func (s *MemoryProfileStore) ForceRelease(playerID int64) {
	s.mu.Lock()
	fn := s.callbacks[playerID]
	delete(s.owned, playerID)
	delete(s.callbacks, playerID)
	s.mu.Unlock()

	if fn != nil {
		fn(playerID)
	}
}

// FailNextSave makes the next Save call return an error.
func (s *MemoryProfileStore) FailNextSave() {
	s.mu.Lock()
	s.failNextSave = true
	s.mu.Unlock()
}

func copyProfile(src *Profile) *Profile {
	src.mu.Lock()
	defer src.mu.Unlock()

	dst := &Profile{
		PlayerID:   src.PlayerID,
		Currencies: make(map[string]float64, len(src.Currencies)),
		Receipts:   make(map[string]int64, len(src.Receipts)),
		LastSweep:  src.LastSweep,
		Version:    src.Version,
	}
	for k, v := range src.Currencies {
		dst.Currencies[k] = v
	}
	for k, v := range src.Receipts {
		dst.Receipts[k] = v
	}
	return dst
}
