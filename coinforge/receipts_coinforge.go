package coinforge

import (
	"context"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	defaultReceiptRetentionDays = 180

	// sweepMinInterval gates the per-document sweep to once per real-world day.
	sweepMinInterval = 24 * time.Hour
)

// ReceiptsCoinforge implements the ReceiptsSystem interface.
type ReceiptsCoinforge struct {
	config    *ReceiptsConfig
	coinforge Coinforge

	mu         sync.Mutex
	processing map[string]bool
}

var _ ReceiptsSystem = &ReceiptsCoinforge{}

func NewReceiptsSystem(config *ReceiptsConfig) *ReceiptsCoinforge {
	if config == nil {
		config = &ReceiptsConfig{}
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaultReceiptRetentionDays
	}
	return &ReceiptsCoinforge{
		config:     config,
		processing: make(map[string]bool),
	}
}

func (s *ReceiptsCoinforge) GetType() SystemType {
	return SystemTypeReceipts
}

func (s *ReceiptsCoinforge) GetConfig() any {
	return s.config
}

func (s *ReceiptsCoinforge) SetCoinforge(cf Coinforge) {
	s.coinforge = cf
}

func (s *ReceiptsCoinforge) ProcessReceipt(ctx context.Context, logger runtime.Logger, playerID int64, productID, receiptID string) (ReceiptResult, error) {
	if receiptID == "" || productID == "" {
		return ReceiptResultUnknown, ErrBadInput
	}

	profiles := s.coinforge.GetProfilesSystem()
	profile, exists := profiles.GetProfile(playerID)
	if !exists {
		// The player is not on this server right now; the platform redelivers the
		// notification, so this is a retry rather than a hard failure.
		logger.Warn("Receipt %s arrived for player %d with no loaded profile", receiptID, playerID)
		return ReceiptResultRetryable, nil
	}

	if s.alreadyGranted(profile, receiptID) {
		return ReceiptResultGranted, nil
	}

	// Guard against duplicate concurrent delivery of the same notification.
	s.mu.Lock()
	if s.processing[receiptID] {
		s.mu.Unlock()
		return ReceiptResultRetryable, nil
	}
	s.processing[receiptID] = true
	s.mu.Unlock()

	// The processing marker must clear on every exit path or the receipt would be
	// stuck Retryable forever in this process.
	defer func() {
		s.mu.Lock()
		delete(s.processing, receiptID)
		s.mu.Unlock()
	}()

	// Re-check under the marker: a concurrent delivery may have granted and
	// cleared its marker between our first check and taking the marker.
	if s.alreadyGranted(profile, receiptID) {
		return ReceiptResultGranted, nil
	}

	grant, resolvable := s.config.Products[productID]
	if !resolvable {
		// Unknown products are treated as already settled rather than retried
		// indefinitely: the purchaser is never re-prompted over a catalog gap.
		// Logged loudly for operator follow-up.
		logger.Error("Receipt %s references unknown product %s for player %d, settling without grant", receiptID, productID, playerID)
		return ReceiptResultGranted, nil
	}

	currency := s.coinforge.GetCurrencySystem()
	if currency == nil {
		return ReceiptResultUnknown, ErrSystemNotAvailable
	}

	var err error
	if cc, ok := currency.(*CurrencyCoinforge); ok {
		_, err = cc.applyIncrement(ctx, logger, playerID, grant.Currency, grant.Amount, "purchase:"+productID, TransactionCategoryPurchase)
	} else {
		_, err = currency.IncrementValue(ctx, logger, playerID, grant.Currency, grant.Amount, "purchase:"+productID)
	}
	if err != nil {
		// Nothing was granted and nothing was marked; safe to resubmit.
		logger.Error("Failed to grant receipt %s (product %s) to player %d: %v", receiptID, productID, playerID, err)
		return ReceiptResultRetryable, nil
	}

	s.markGranted(profile, receiptID)

	if err := profiles.FlushProfile(ctx, logger, playerID); err != nil {
		// The grant is applied but the mark is not durable. Returning Retryable
		// accepts an at-least-once risk: if this process dies before the next
		// flush, the resubmission grants again. Preferred over withholding a paid
		// purchase.
		logger.Error("Receipt %s granted but mark not persisted for player %d: %v", receiptID, playerID, err)
		return ReceiptResultRetryable, nil
	}

	logger.Info("Receipt %s granted %v %s to player %d", receiptID, grant.Amount, grant.Currency, playerID)
	return ReceiptResultGranted, nil
}

func (s *ReceiptsCoinforge) Sweep(ctx context.Context, logger runtime.Logger, playerID int64) {
	profile, exists := s.coinforge.GetProfilesSystem().GetProfile(playerID)
	if !exists {
		return
	}

	now := time.Now()
	cutoff := now.Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour).Unix()

	profile.mu.Lock()
	defer profile.mu.Unlock()

	if now.Unix()-profile.LastSweep < int64(sweepMinInterval/time.Second) {
		return
	}

	removed := 0
	for receiptID, grantedAt := range profile.Receipts {
		if grantedAt < cutoff {
			delete(profile.Receipts, receiptID)
			removed++
		}
	}
	profile.LastSweep = now.Unix()
	profile.markDirtyLocked()

	if removed > 0 {
		logger.Info("Swept %d expired receipt marks for player %d", removed, playerID)
	}
}

func (s *ReceiptsCoinforge) alreadyGranted(profile *Profile, receiptID string) bool {
	profile.mu.Lock()
	defer profile.mu.Unlock()
	_, granted := profile.Receipts[receiptID]
	return granted
}

func (s *ReceiptsCoinforge) markGranted(profile *Profile, receiptID string) {
	profile.mu.Lock()
	profile.Receipts[receiptID] = time.Now().Unix()
	profile.markDirtyLocked()
	profile.mu.Unlock()
}
