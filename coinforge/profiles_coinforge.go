package coinforge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

const (
	defaultFlushIntervalSec  = 30
	defaultLockWaitTimeoutMs = 2000

	// receiptSweepSchedule is how often held profiles are offered a receipt sweep.
	// The sweep itself is gated to at most once per day per document.
	receiptSweepSchedule = "@every 1h"
)

// ProfilesCoinforge implements the ProfilesSystem interface on top of a ProfileStore.
type ProfilesCoinforge struct {
	config *ProfilesConfig
	store  ProfileStore

	mu       sync.RWMutex
	profiles map[int64]*Profile
	locks    map[int64]chan struct{}

	cron      *cron.Cron
	coinforge Coinforge
}

var _ ProfilesSystem = &ProfilesCoinforge{}

func NewProfilesSystem(config *ProfilesConfig, store ProfileStore) *ProfilesCoinforge {
	if config == nil {
		config = &ProfilesConfig{}
	}
	if config.FlushIntervalSec <= 0 {
		config.FlushIntervalSec = defaultFlushIntervalSec
	}
	if config.LockWaitTimeoutMs <= 0 {
		config.LockWaitTimeoutMs = defaultLockWaitTimeoutMs
	}

	return &ProfilesCoinforge{
		config:   config,
		store:    store,
		profiles: make(map[int64]*Profile),
		locks:    make(map[int64]chan struct{}),
	}
}

func (p *ProfilesCoinforge) GetType() SystemType {
	return SystemTypeProfiles
}

func (p *ProfilesCoinforge) GetConfig() any {
	return p.config
}

func (p *ProfilesCoinforge) SetCoinforge(cf Coinforge) {
	p.coinforge = cf
}

func (p *ProfilesCoinforge) OnPlayerJoin(ctx context.Context, logger runtime.Logger, playerID int64) error {
	if playerID <= 0 {
		return ErrBadInput
	}

	p.mu.RLock()
	_, already := p.profiles[playerID]
	p.mu.RUnlock()
	if already {
		// Duplicate join notification, nothing to do.
		return nil
	}

	profile, err := p.store.Load(ctx, playerID)
	if err != nil {
		switch err {
		case ErrProfileNotFound:
			profile, err = p.store.Create(ctx, playerID)
			if err != nil {
				logger.Error("Failed to create profile for player %d: %v", playerID, err)
				return err
			}
		case ErrProfileLocked:
			// Another process still owns the document; the host retries the join.
			logger.Warn("Profile for player %d is locked by another holder", playerID)
			return err
		default:
			logger.Error("Failed to load profile for player %d: %v", playerID, err)
			return err
		}
	}

	p.store.Reconcile(profile, p.config.Template)

	p.store.OnForceRelease(profile, func(seizedID int64) {
		// Ownership was taken by another process. Drop the in-memory document so
		// every mutation from here on fails its profile lookup instead of
		// touching a document we no longer own.
		logger.Warn("Profile for player %d was force released", seizedID)
		p.unregister(seizedID)
	})

	p.mu.Lock()
	p.profiles[playerID] = profile
	p.mu.Unlock()

	// Opportunistic receipt sweep; gated internally to once per day per document.
	if p.coinforge != nil {
		if receipts := p.coinforge.GetReceiptsSystem(); receipts != nil {
			receipts.Sweep(ctx, logger, playerID)
		}
	}

	logger.Debug("Loaded profile for player %d", playerID)
	return nil
}

func (p *ProfilesCoinforge) OnPlayerLeave(ctx context.Context, logger runtime.Logger, playerID int64) {
	profile, exists := p.unregisterProfile(playerID)
	if !exists {
		return
	}

	// Best effort: a failed save must not stop the release, or the document would
	// stay locked fleet-wide until the lock holder expires.
	generation := profile.writeGeneration()
	if err := p.store.Save(ctx, profile); err != nil {
		logger.Error("Failed to save profile for departing player %d: %v", playerID, err)
	} else {
		profile.clearDirtyAt(generation)
	}
	if err := p.store.Release(ctx, profile); err != nil {
		logger.Error("Failed to release profile for player %d: %v", playerID, err)
	}
}

func (p *ProfilesCoinforge) GetProfile(playerID int64) (*Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, exists := p.profiles[playerID]
	return profile, exists
}

func (p *ProfilesCoinforge) FlushProfile(ctx context.Context, logger runtime.Logger, playerID int64) error {
	profile, exists := p.GetProfile(playerID)
	if !exists {
		return ErrProfileUnavailable
	}

	generation := profile.writeGeneration()
	if err := p.store.Save(ctx, profile); err != nil {
		logger.Error("Failed to flush profile for player %d: %v", playerID, err)
		return err
	}
	profile.clearDirtyAt(generation)
	return nil
}

func (p *ProfilesCoinforge) FlushAll(ctx context.Context, logger runtime.Logger) {
	p.mu.RLock()
	snapshot := make([]*Profile, 0, len(p.profiles))
	for _, profile := range p.profiles {
		snapshot = append(snapshot, profile)
	}
	p.mu.RUnlock()

	for _, profile := range snapshot {
		if !profile.isDirty() {
			continue
		}
		generation := profile.writeGeneration()
		if err := p.store.Save(ctx, profile); err != nil {
			logger.Error("Failed to flush profile for player %d: %v", profile.PlayerID, err)
			continue
		}
		profile.clearDirtyAt(generation)
	}
}

func (p *ProfilesCoinforge) Acquire(ctx context.Context, playerID int64) error {
	return p.acquireUntil(ctx, playerID, time.Now().Add(p.lockWait()))
}

func (p *ProfilesCoinforge) AcquireBoth(ctx context.Context, playerIDA, playerIDB int64) error {
	if playerIDA == playerIDB {
		return ErrInvalidOperation
	}

	// Acquire in ascending id order so two concurrent transfers over the same pair
	// cannot deadlock. The caller never observes a partial acquisition: if the
	// second lock cannot be taken the first is released before returning.
	first, second := playerIDA, playerIDB
	if second < first {
		first, second = second, first
	}

	deadline := time.Now().Add(p.lockWait())
	if err := p.acquireUntil(ctx, first, deadline); err != nil {
		return err
	}
	if err := p.acquireUntil(ctx, second, deadline); err != nil {
		p.ReleaseLock(first)
		return err
	}
	return nil
}

func (p *ProfilesCoinforge) ReleaseLock(playerID int64) {
	sem := p.lockChan(playerID)
	select {
	case <-sem:
	default:
	}
}

func (p *ProfilesCoinforge) Open(ctx context.Context, logger runtime.Logger) error {
	if p.cron != nil {
		return nil
	}

	c := cron.New()
	flushSpec := fmt.Sprintf("@every %ds", p.config.FlushIntervalSec)
	if _, err := c.AddFunc(flushSpec, func() {
		p.FlushAll(context.Background(), logger)
	}); err != nil {
		return err
	}

	if p.coinforge != nil && p.coinforge.GetReceiptsSystem() != nil {
		receipts := p.coinforge.GetReceiptsSystem()
		if _, err := c.AddFunc(receiptSweepSchedule, func() {
			p.sweepAll(context.Background(), logger, receipts)
		}); err != nil {
			return err
		}
	}

	c.Start()
	p.cron = c
	logger.Info("Profiles system opened, flushing every %ds", p.config.FlushIntervalSec)
	return nil
}

func (p *ProfilesCoinforge) Close(ctx context.Context, logger runtime.Logger) error {
	if p.cron != nil {
		p.cron.Stop()
		p.cron = nil
	}

	p.mu.Lock()
	remaining := make([]int64, 0, len(p.profiles))
	for playerID := range p.profiles {
		remaining = append(remaining, playerID)
	}
	p.mu.Unlock()

	for _, playerID := range remaining {
		p.OnPlayerLeave(ctx, logger, playerID)
	}
	logger.Info("Profiles system closed, released %d profiles", len(remaining))
	return nil
}

func (p *ProfilesCoinforge) sweepAll(ctx context.Context, logger runtime.Logger, receipts ReceiptsSystem) {
	p.mu.RLock()
	playerIDs := make([]int64, 0, len(p.profiles))
	for playerID := range p.profiles {
		playerIDs = append(playerIDs, playerID)
	}
	p.mu.RUnlock()

	for _, playerID := range playerIDs {
		receipts.Sweep(ctx, logger, playerID)
	}
}

func (p *ProfilesCoinforge) lockWait() time.Duration {
	return time.Duration(p.config.LockWaitTimeoutMs) * time.Millisecond
}

func (p *ProfilesCoinforge) lockChan(playerID int64) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, exists := p.locks[playerID]
	if !exists {
		sem = make(chan struct{}, 1)
		p.locks[playerID] = sem
	}
	return sem
}

func (p *ProfilesCoinforge) acquireUntil(ctx context.Context, playerID int64, deadline time.Time) error {
	sem := p.lockChan(playerID)

	wait := time.Until(deadline)
	if wait <= 0 {
		select {
		case sem <- struct{}{}:
			return nil
		default:
			return ErrLockTimeout
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ErrLockTimeout
	}
}

func (p *ProfilesCoinforge) unregisterProfile(playerID int64) (*Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile, exists := p.profiles[playerID]
	if exists {
		delete(p.profiles, playerID)
	}
	return profile, exists
}

func (p *ProfilesCoinforge) unregister(playerID int64) {
	p.mu.Lock()
	delete(p.profiles, playerID)
	p.mu.Unlock()

	// The lock entry is left untouched. An in-flight or waiting operation may own
	// the semaphore right now; draining it here would admit a second operation
	// while the first still runs. Holders always release through their deferred
	// ReleaseLock, so the semaphore ends up free, and any operation admitted
	// after this point fails its under-lock GetProfile re-check.
}
