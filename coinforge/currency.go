package coinforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// CurrencyConfig is the data definition for the CurrencySystem type.
type CurrencyConfig struct {
	Currencies map[string]*CurrencyConfigCurrency `json:"currencies,omitempty" yaml:"currencies,omitempty"`
}

// CurrencyConfigCurrency describes one virtual currency. Definitions are immutable
// once loaded.
type CurrencyConfigCurrency struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`

	Purchasable bool `json:"purchasable,omitempty" yaml:"purchasable,omitempty"`
	Earnable    bool `json:"earnable,omitempty" yaml:"earnable,omitempty"`

	MinValue     float64 `json:"min_value" yaml:"min_value"`
	MaxValue     float64 `json:"max_value" yaml:"max_value"`
	DefaultValue float64 `json:"default_value" yaml:"default_value"`

	// Products maps a purchase quantity to the external product identifier sold
	// for that quantity.
	Products map[int64]string `json:"products,omitempty" yaml:"products,omitempty"`
}

// A PurchaseOption is one purchasable quantity of a currency.
type PurchaseOption struct {
	Quantity  int64  `json:"quantity"`
	ProductID string `json:"product_id"`
}

// The CurrencySystem is the balance ledger. It owns the in-memory currency values
// of every loaded player, enforces clamp bounds, emits transaction records, and
// serializes all mutations to a player through the profiles system's operation
// locks.
type CurrencySystem interface {
	System

	// GetValue returns the player's current value for a currency, initializing it
	// to the currency's default if absent. Stored values that fail validation
	// (NaN, infinities) are replaced with the default and re-clamped before being
	// returned. GetValue never waits on the operation lock.
	GetValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string) (float64, error)

	// SetValue clamps the target into the currency's range, writes it, and emits a
	// transaction record for the applied delta.
	SetValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, value float64, reason string) (float64, error)

	// IncrementValue adds amount (which may be negative) to the current value,
	// clamping the result.
	IncrementValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, amount float64, reason string) (float64, error)

	// DecrementValue subtracts a non-negative amount from the current value,
	// clamping the result. Negative amounts are rejected.
	DecrementValue(ctx context.Context, logger runtime.Logger, playerID int64, currencyID string, amount float64, reason string) (float64, error)

	// TransferValue moves amount from one player to another atomically. A failed
	// transfer leaves both balances unchanged; if the credit leg fails after a
	// successful debit, a compensating rollback credit restores the sender and
	// ErrTransferCreditFailed is returned.
	TransferValue(ctx context.Context, logger runtime.Logger, fromPlayerID, toPlayerID int64, currencyID string, amount float64, reason string) error

	// GetCurrency returns a single currency definition.
	GetCurrency(currencyID string) (*CurrencyConfigCurrency, error)

	// ListCurrencies returns all currency definitions.
	ListCurrencies() map[string]*CurrencyConfigCurrency

	// ListPurchaseOptions returns the purchasable quantities for a currency sorted
	// ascending by quantity.
	ListPurchaseOptions(currencyID string) ([]*PurchaseOption, error)

	// BalancesSnapshot returns the player's current balance for every defined
	// currency. A display read: values may be overwritten by in-flight mutations.
	BalancesSnapshot(ctx context.Context, logger runtime.Logger, playerID int64) (map[string]float64, error)
}
