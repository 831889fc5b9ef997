package coinforge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/heroiclabs/nakama-common/runtime"
	"gopkg.in/yaml.v3"
)

type coinforgeImpl struct {
	systems map[SystemType]System

	publisherMu sync.RWMutex
	publishers  []Publisher
}

var _ Coinforge = &coinforgeImpl{}

// Init builds the engine from the given system configurations. Each system
// which is not configured will be unavailable through its getter, and
// operations which depend on it will fail with ErrSystemNotAvailable.
//
// The returned engine holds no background goroutines until Open is called.
func Init(ctx context.Context, logger runtime.Logger, store ProfileStore, configs ...SystemConfig) (Coinforge, error) {
	cf := &coinforgeImpl{
		systems: make(map[SystemType]System, len(configs)),
	}

	for _, config := range configs {
		switch config.GetType() {
		case SystemTypeProfiles:
			parsed := &ProfilesConfig{}
			if err := parseConfigFile(config.GetConfigFile(), parsed); err != nil {
				logger.Error("Failed to parse profiles config %q: %v", config.GetConfigFile(), err)
				return nil, ErrConfigInvalid
			}
			cf.systems[SystemTypeProfiles] = NewProfilesSystem(parsed, store)
		case SystemTypeCurrency:
			parsed := &CurrencyConfig{}
			if err := parseConfigFile(config.GetConfigFile(), parsed); err != nil {
				logger.Error("Failed to parse currency config %q: %v", config.GetConfigFile(), err)
				return nil, ErrConfigInvalid
			}
			cf.systems[SystemTypeCurrency] = NewCurrencySystem(parsed)
		case SystemTypeReceipts:
			parsed := &ReceiptsConfig{}
			if err := parseConfigFile(config.GetConfigFile(), parsed); err != nil {
				logger.Error("Failed to parse receipts config %q: %v", config.GetConfigFile(), err)
				return nil, ErrConfigInvalid
			}
			cf.systems[SystemTypeReceipts] = NewReceiptsSystem(parsed)
		case SystemTypeRewards:
			parsed := &RewardsConfig{}
			if err := parseConfigFile(config.GetConfigFile(), parsed); err != nil {
				logger.Error("Failed to parse rewards config %q: %v", config.GetConfigFile(), err)
				return nil, ErrConfigInvalid
			}
			cf.systems[SystemTypeRewards] = NewRewardsSystem(parsed)
		default:
			return nil, ErrSystemNotFound
		}
	}

	for systemType, system := range cf.systems {
		if wired, ok := system.(interface{ SetCoinforge(Coinforge) }); ok {
			wired.SetCoinforge(cf)
		}
		if validated, ok := system.(interface{ Validate() error }); ok {
			if err := validated.Validate(); err != nil {
				logger.Error("Configuration for system type %d is invalid: %v", systemType, err)
				return nil, err
			}
		}
	}

	return cf, nil
}

// InitWithSystems assembles the engine from already constructed systems.
// Intended for tests and embedders which build configs programmatically.
func InitWithSystems(systems ...System) Coinforge {
	cf := &coinforgeImpl{
		systems: make(map[SystemType]System, len(systems)),
	}
	for _, system := range systems {
		cf.systems[system.GetType()] = system
	}
	for _, system := range cf.systems {
		if wired, ok := system.(interface{ SetCoinforge(Coinforge) }); ok {
			wired.SetCoinforge(cf)
		}
	}
	return cf
}

func (cf *coinforgeImpl) AddPublisher(publisher Publisher) {
	cf.publisherMu.Lock()
	defer cf.publisherMu.Unlock()
	cf.publishers = append(cf.publishers, publisher)
}

func (cf *coinforgeImpl) GetProfilesSystem() ProfilesSystem {
	system, ok := cf.systems[SystemTypeProfiles].(ProfilesSystem)
	if !ok {
		return nil
	}
	return system
}

func (cf *coinforgeImpl) GetCurrencySystem() CurrencySystem {
	system, ok := cf.systems[SystemTypeCurrency].(CurrencySystem)
	if !ok {
		return nil
	}
	return system
}

func (cf *coinforgeImpl) GetReceiptsSystem() ReceiptsSystem {
	system, ok := cf.systems[SystemTypeReceipts].(ReceiptsSystem)
	if !ok {
		return nil
	}
	return system
}

func (cf *coinforgeImpl) GetRewardsSystem() RewardsSystem {
	system, ok := cf.systems[SystemTypeRewards].(RewardsSystem)
	if !ok {
		return nil
	}
	return system
}

func (cf *coinforgeImpl) SendTransactionEvents(ctx context.Context, logger runtime.Logger, records []*TransactionRecord) {
	if len(records) == 0 {
		return
	}
	cf.publisherMu.RLock()
	publishers := make([]Publisher, len(cf.publishers))
	copy(publishers, cf.publishers)
	cf.publisherMu.RUnlock()

	for _, publisher := range publishers {
		publisher.Send(ctx, logger, records)
	}
}

func (cf *coinforgeImpl) Open(ctx context.Context, logger runtime.Logger) error {
	profiles := cf.GetProfilesSystem()
	if profiles == nil {
		return ErrSystemNotAvailable
	}
	return profiles.Open(ctx, logger)
}

func (cf *coinforgeImpl) Close(ctx context.Context, logger runtime.Logger) error {
	profiles := cf.GetProfilesSystem()
	if profiles == nil {
		return ErrSystemNotAvailable
	}
	return profiles.Close(ctx, logger)
}

// parseConfigFile reads and unmarshals a config file, selecting the decoder
// from the file extension. YAML is the default for unknown extensions.
func parseConfigFile(path string, out any) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(contents, out)
	default:
		return yaml.Unmarshal(contents, out)
	}
}
