package coinforge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

// CurrencyCoinforge implements the CurrencySystem interface backed by the loaded
// profile documents of the profiles system.
type CurrencyCoinforge struct {
	config    *CurrencyConfig
	coinforge Coinforge
}

var _ CurrencySystem = &CurrencyCoinforge{}

func NewCurrencySystem(config *CurrencyConfig) *CurrencyCoinforge {
	if config == nil {
		config = &CurrencyConfig{}
	}
	return &CurrencyCoinforge{config: config}
}

func (s *CurrencyCoinforge) GetType() SystemType {
	return SystemTypeCurrency
}

func (s *CurrencyCoinforge) GetConfig() any {
	return s.config
}

func (s *CurrencyCoinforge) SetCoinforge(cf Coinforge) {
	s.coinforge = cf
}

// Validate checks the configured definitions for internal consistency.
func (s *CurrencyCoinforge) Validate() error {
	for currencyID, def := range s.config.Currencies {
		if def == nil {
			return runtime.NewError(fmt.Sprintf("currency %s has no definition", currencyID), 9)
		}
		if !isFinite(def.MinValue) || !isFinite(def.MaxValue) || !isFinite(def.DefaultValue) {
			return runtime.NewError(fmt.Sprintf("currency %s has non-finite bounds", currencyID), 9)
		}
		if def.MinValue > def.MaxValue || def.DefaultValue < def.MinValue || def.DefaultValue > def.MaxValue {
			return runtime.NewError(fmt.Sprintf("currency %s violates min <= default <= max", currencyID), 9)
		}
	}
	return nil
}

func (s *CurrencyCoinforge) GetCurrency(currencyID string) (*CurrencyConfigCurrency, error) {
	def, exists := s.config.Currencies[currencyID]
	if !exists {
		return nil, ErrCurrencyNotFound
	}
	return def, nil
}

func (s *CurrencyCoinforge) ListCurrencies() map[string]*CurrencyConfigCurrency {
	return s.config.Currencies
}

func (s *CurrencyCoinforge) ListPurchaseOptions(currencyID string) ([]*PurchaseOption, error) {
	def, err := s.GetCurrency(currencyID)
	if err != nil {
		return nil, err
	}

	options := make([]*PurchaseOption, 0, len(def.Products))
	for quantity, productID := range def.Products {
		options = append(options, &PurchaseOption{Quantity: quantity, ProductID: productID})
	}
	sort.Slice(options, func(i, j int) bool {
		return options[i].Quantity < options[j].Quantity
	})
	return options, nil
}

func (s *CurrencyCoinforge) GetValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string) (float64, error) {
	def, err := s.GetCurrency(currencyID)
	if err != nil {
		return 0, err
	}

	profile, exists := s.profiles().GetProfile(playerID)
	if !exists {
		return 0, ErrProfileUnavailable
	}

	// Lock-free with respect to the operation lock: a reader may observe a value
	// that an in-flight mutation is about to overwrite. Self-healing of invalid
	// stored values still happens here.
	return s.readValue(profile, currencyID, def), nil
}

func (s *CurrencyCoinforge) BalancesSnapshot(ctx context.Context, logger runtime.Logger, playerID int64) (map[string]float64, error) {
	profile, exists := s.profiles().GetProfile(playerID)
	if !exists {
		return nil, ErrProfileUnavailable
	}

	snapshot := make(map[string]float64, len(s.config.Currencies))
	for currencyID, def := range s.config.Currencies {
		snapshot[currencyID] = s.readValue(profile, currencyID, def)
	}
	return snapshot, nil
}

func (s *CurrencyCoinforge) SetValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, value float64, reason string) (float64, error) {
	if !isFinite(value) {
		return 0, ErrInvalidValue
	}
	def, err := s.GetCurrency(currencyID)
	if err != nil {
		return 0, err
	}

	profiles := s.profiles()
	if _, exists := profiles.GetProfile(playerID); !exists {
		return 0, ErrProfileUnavailable
	}

	if err := profiles.Acquire(ctx, playerID); err != nil {
		return 0, err
	}
	defer profiles.ReleaseLock(playerID)

	var next float64
	err = guard(logger, func() error {
		// Re-fetch under the lock: the document may have departed or been seized
		// while this operation waited.
		profile, exists := profiles.GetProfile(playerID)
		if !exists {
			return ErrProfileUnavailable
		}

		previous := s.readValue(profile, currencyID, def)
		next = clampValue(value, def)
		s.writeValue(profile, currencyID, next)

		category := TransactionCategoryEarn
		if next < previous {
			category = TransactionCategorySpend
		}
		s.emit(ctx, logger, playerID, currencyID, previous, next, reason, category)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *CurrencyCoinforge) IncrementValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, amount float64, reason string) (float64, error) {
	if !isFinite(amount) {
		return 0, ErrInvalidAmount
	}

	category := TransactionCategoryEarn
	if amount < 0 {
		category = TransactionCategorySpend
	}
	return s.applyIncrement(ctx, logger, playerID, currencyID, amount, reason, category)
}

func (s *CurrencyCoinforge) DecrementValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, amount float64, reason string) (float64, error) {
	if !isFinite(amount) || amount < 0 {
		return 0, ErrInvalidAmount
	}
	return s.applyIncrement(ctx, logger, playerID, currencyID, -amount, reason, TransactionCategorySpend)
}

// applyIncrement is the shared locked mutation path for increments, decrements,
// purchase grants, and transfer rollbacks.
func (s *CurrencyCoinforge) applyIncrement(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, amount float64, reason string, category TransactionCategory) (float64, error) {
	def, err := s.GetCurrency(currencyID)
	if err != nil {
		return 0, err
	}

	profiles := s.profiles()
	if _, exists := profiles.GetProfile(playerID); !exists {
		return 0, ErrProfileUnavailable
	}

	if err := profiles.Acquire(ctx, playerID); err != nil {
		return 0, err
	}
	defer profiles.ReleaseLock(playerID)

	var next float64
	err = guard(logger, func() error {
		// Re-fetch under the lock: the document may have departed or been seized
		// while this operation waited.
		profile, exists := profiles.GetProfile(playerID)
		if !exists {
			return ErrProfileUnavailable
		}

		previous := s.readValue(profile, currencyID, def)
		next = clampValue(previous+amount, def)
		s.writeValue(profile, currencyID, next)
		s.emit(ctx, logger, playerID, currencyID, previous, next, reason, category)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *CurrencyCoinforge) TransferValue(ctx context.Context, logger runtime.Logger, fromPlayerID, toPlayerID int64, currencyID string, amount float64, reason string) error {
	if fromPlayerID == toPlayerID {
		return ErrInvalidOperation
	}
	if !isFinite(amount) || amount <= 0 {
		return ErrInvalidAmount
	}
	def, err := s.GetCurrency(currencyID)
	if err != nil {
		return err
	}

	profiles := s.profiles()
	sender, exists := profiles.GetProfile(fromPlayerID)
	if !exists {
		return ErrProfileUnavailable
	}
	if _, exists := profiles.GetProfile(toPlayerID); !exists {
		return ErrProfileUnavailable
	}

	// Optimistic pre-check before taking any locks. The balance can change before
	// the critical section is entered, so this is re-validated under the locks.
	if s.readValue(sender, currencyID, def)-amount < def.MinValue {
		return ErrInsufficientFunds
	}

	if err := profiles.AcquireBoth(ctx, fromPlayerID, toPlayerID); err != nil {
		return err
	}
	locksHeld := true
	defer func() {
		if locksHeld {
			profiles.ReleaseLock(fromPlayerID)
			profiles.ReleaseLock(toPlayerID)
		}
	}()

	err = guard(logger, func() error {
		// Re-fetch under the locks: either participant may have departed or been
		// force-released while this operation waited.
		sender, exists := profiles.GetProfile(fromPlayerID)
		if !exists {
			return ErrProfileUnavailable
		}

		senderPrevious := s.readValue(sender, currencyID, def)
		if senderPrevious-amount < def.MinValue {
			return ErrInsufficientFunds
		}

		// Debit leg.
		senderNext := senderPrevious - amount
		s.writeValue(sender, currencyID, senderNext)
		s.emit(ctx, logger, fromPlayerID, currencyID, senderPrevious, senderNext, reason, TransactionCategoryTrade)

		// Credit leg. A receiver that vanished while we waited, or one that
		// cannot absorb the full amount without clamping, fails the leg; the
		// debit is then compensated so total currency is conserved.
		receiver, exists := profiles.GetProfile(toPlayerID)
		if !exists {
			return ErrTransferCreditFailed
		}
		receiverPrevious := s.readValue(receiver, currencyID, def)
		if receiverPrevious+amount > def.MaxValue {
			return ErrTransferCreditFailed
		}
		receiverNext := receiverPrevious + amount
		s.writeValue(receiver, currencyID, receiverNext)
		s.emit(ctx, logger, toPlayerID, currencyID, receiverPrevious, receiverNext, reason, TransactionCategoryTrade)
		return nil
	})

	if err == ErrTransferCreditFailed {
		// Release the locks first, then restore the sender with a compensating
		// credit tagged as a rollback. The sender must never end a failed
		// transfer short the amount.
		profiles.ReleaseLock(fromPlayerID)
		profiles.ReleaseLock(toPlayerID)
		locksHeld = false

		if _, rollbackErr := s.applyIncrement(ctx, logger, fromPlayerID, currencyID, amount, reason, TransactionCategoryRollback); rollbackErr != nil {
			logger.Error("Transfer rollback failed for player %d, currency %s, amount %v: %v", fromPlayerID, currencyID, amount, rollbackErr)
		}
		return ErrTransferCreditFailed
	}
	return err
}

func (s *CurrencyCoinforge) profiles() ProfilesSystem {
	if s.coinforge == nil {
		return nil
	}
	return s.coinforge.GetProfilesSystem()
}

// readValue returns the stored value for a currency, initializing absent values to
// the default and healing non-finite or out-of-range values in place.
func (s *CurrencyCoinforge) readValue(profile *Profile, currencyID string, def *CurrencyConfigCurrency) float64 {
	profile.mu.Lock()
	defer profile.mu.Unlock()

	value, exists := profile.Currencies[currencyID]
	if !exists || !isFinite(value) {
		value = def.DefaultValue
		profile.Currencies[currencyID] = value
		profile.markDirtyLocked()
	}
	if clamped := clampValue(value, def); clamped != value {
		value = clamped
		profile.Currencies[currencyID] = value
		profile.markDirtyLocked()
	}
	return value
}

func (s *CurrencyCoinforge) writeValue(profile *Profile, currencyID string, value float64) {
	profile.mu.Lock()
	profile.Currencies[currencyID] = value
	profile.markDirtyLocked()
	profile.mu.Unlock()
}

func (s *CurrencyCoinforge) emit(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, previous, next float64, reason string, category TransactionCategory) {
	if s.coinforge == nil {
		return
	}
	record := &TransactionRecord{
		Id:        uuid.New().String(),
		Timestamp: time.Now().Unix(),
		PlayerID:  playerID,
		Currency:  currencyID,
		Previous:  previous,
		New:       next,
		Delta:     next - previous,
		Reason:    reason,
		Category:  category,
	}
	s.coinforge.SendTransactionEvents(ctx, logger, []*TransactionRecord{record})
}

// guard contains panics raised inside a locked critical section so the deferred
// lock release always runs and callers see a plain error.
func guard(logger runtime.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from fault in critical section: %v", r)
			err = ErrInternal
		}
	}()
	return fn()
}

func clampValue(value float64, def *CurrencyConfigCurrency) float64 {
	return math.Min(math.Max(value, def.MinValue), def.MaxValue)
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
