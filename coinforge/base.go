package coinforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrInternal             = runtime.NewError("internal error occurred", 13)          // INTERNAL
	ErrBadInput             = runtime.NewError("bad input", 3)                         // INVALID_ARGUMENT
	ErrInvalidValue         = runtime.NewError("value is not a finite number", 3)      // INVALID_ARGUMENT
	ErrInvalidAmount        = runtime.NewError("amount is not a finite number", 3)     // INVALID_ARGUMENT
	ErrInvalidOperation     = runtime.NewError("operation is not valid", 3)            // INVALID_ARGUMENT
	ErrCurrencyNotFound     = runtime.NewError("currency not found", 5)                // NOT_FOUND
	ErrContainerNotFound    = runtime.NewError("reward container not found", 5)        // NOT_FOUND
	ErrProfileUnavailable   = runtime.NewError("player profile not loaded", 9)         // FAILED_PRECONDITION
	ErrInsufficientFunds    = runtime.NewError("insufficient funds", 9)                // FAILED_PRECONDITION
	ErrTransferCreditFailed = runtime.NewError("transfer credit leg failed", 9)        // FAILED_PRECONDITION
	ErrEmptyDistribution    = runtime.NewError("container has no drawable entries", 9) // FAILED_PRECONDITION
	ErrLockTimeout          = runtime.NewError("timed out waiting for player lock", 4) // DEADLINE_EXCEEDED
	ErrSystemNotAvailable   = runtime.NewError("system not available", 13)             // INTERNAL
	ErrConfigInvalid        = runtime.NewError("system configuration is invalid", 9)   // FAILED_PRECONDITION
	ErrSystemNotFound       = runtime.NewError("system not found", 13)                 // INTERNAL
)

// The SystemType identifies each of the engine systems.
type SystemType uint

const (
	SystemTypeUnknown SystemType = iota
	SystemTypeProfiles
	SystemTypeCurrency
	SystemTypeReceipts
	SystemTypeRewards
)

// A System is a base type for an engine system.
type System interface {
	// GetType provides the runtime type of the engine system.
	GetType() SystemType

	// GetConfig returns the configuration type of the engine system.
	GetConfig() any
}

// The SystemConfig describes the configuration that each engine system must use to configure itself.
type SystemConfig interface {
	// GetType returns the runtime type of the engine system.
	GetType() SystemType

	// GetConfigFile returns the configuration file used for the data definitions in the engine system.
	GetConfigFile() string

	// GetExtra returns the extra parameter used to configure the engine system.
	GetExtra() any
}

var _ SystemConfig = &systemConfig{}

type systemConfig struct {
	systemType SystemType
	configFile string

	extra any
}

func (sc *systemConfig) GetType() SystemType {
	return sc.systemType
}
func (sc *systemConfig) GetConfigFile() string {
	return sc.configFile
}
func (sc *systemConfig) GetExtra() any {
	return sc.extra
}

// WithProfilesSystem configures a ProfilesSystem type.
func WithProfilesSystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeProfiles,
		configFile: configFile,
	}
}

// WithCurrencySystem configures a CurrencySystem type.
func WithCurrencySystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeCurrency,
		configFile: configFile,
	}
}

// WithReceiptsSystem configures a ReceiptsSystem type.
func WithReceiptsSystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeReceipts,
		configFile: configFile,
	}
}

// WithRewardsSystem configures a RewardsSystem type.
func WithRewardsSystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeRewards,
		configFile: configFile,
	}
}

// Coinforge provides a type which combines all engine systems.
type Coinforge interface {
	// AddPublisher adds a telemetry publisher to the chain.
	AddPublisher(publisher Publisher)

	GetProfilesSystem() ProfilesSystem
	GetCurrencySystem() CurrencySystem
	GetReceiptsSystem() ReceiptsSystem
	GetRewardsSystem() RewardsSystem

	// SendTransactionEvents broadcasts transaction records to all registered publishers.
	// Delivery is fire-and-forget: publisher failures never fail the owning operation.
	SendTransactionEvents(ctx context.Context, logger runtime.Logger, records []*TransactionRecord)

	// Open starts background schedules (profile flush, receipt sweeps). It must be
	// called once before player sessions are admitted.
	Open(ctx context.Context, logger runtime.Logger) error

	// Close flushes and releases every held profile and stops background schedules.
	Close(ctx context.Context, logger runtime.Logger) error
}
