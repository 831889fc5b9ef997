package coinforge

import (
	"github.com/heroiclabs/nakama-common/runtime"
)

// RewardsConfig is the data definition for the RewardsSystem type.
type RewardsConfig struct {
	Containers map[string]*RewardsConfigContainer `json:"containers,omitempty" yaml:"containers,omitempty"`
	Items      map[string]*RewardsConfigItem      `json:"items,omitempty" yaml:"items,omitempty"`

	// RarityBoost maps a rarity tier to the constant applied in the luck scaling
	// formula. Higher tiers carry larger constants, so luck skews draws toward
	// rarer entries. Missing tiers fall back to the built-in defaults.
	RarityBoost map[string]float64 `json:"rarity_boost,omitempty" yaml:"rarity_boost,omitempty"`
}

// RewardsConfigContainer is one configured reward container. Entry order is the
// stable enumeration order used by the draw walk.
type RewardsConfigContainer struct {
	Description   string                `json:"description,omitempty" yaml:"description,omitempty"`
	Price         float64               `json:"price,omitempty" yaml:"price,omitempty"`
	PriceCurrency string                `json:"price_currency,omitempty" yaml:"price_currency,omitempty"`
	Entries       []*RewardsConfigEntry `json:"entries,omitempty" yaml:"entries,omitempty"`
}

type RewardsConfigEntry struct {
	ItemID string  `json:"item_id" yaml:"item_id"`
	Weight float64 `json:"weight" yaml:"weight"`
}

type RewardsConfigItem struct {
	Rarity string             `json:"rarity,omitempty" yaml:"rarity,omitempty"`
	Stats  map[string]float64 `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// A ContainerSummary is the display listing for one container.
type ContainerSummary struct {
	ID            string  `json:"id"`
	Description   string  `json:"description,omitempty"`
	Price         float64 `json:"price,omitempty"`
	PriceCurrency string  `json:"price_currency,omitempty"`
	EntryCount    int     `json:"entry_count"`
}

// A ContainerEntryProbability is one row of a container's probability table.
// Probability is normalized to percent and matches the live draw distribution
// exactly.
type ContainerEntryProbability struct {
	ItemID         string  `json:"item_id"`
	Rarity         string  `json:"rarity,omitempty"`
	BaseWeight     float64 `json:"base_weight"`
	AdjustedWeight float64 `json:"adjusted_weight"`
	Probability    float64 `json:"probability"`
}

// A SimulationResult reports, for one luck value, the expected probability table
// against empirically observed draw frequencies.
type SimulationResult struct {
	Luck    float64            `json:"luck"`
	Draws   int                `json:"draws"`
	Entries []*SimulationEntry `json:"entries"`

	// MeanAbsErrorPct and StdDevErrorPct summarize observed-vs-expected error in
	// percentage points across the container's entries.
	MeanAbsErrorPct float64 `json:"mean_abs_error_pct"`
	StdDevErrorPct  float64 `json:"std_dev_error_pct"`
}

type SimulationEntry struct {
	ItemID      string  `json:"item_id"`
	ExpectedPct float64 `json:"expected_pct"`
	ObservedPct float64 `json:"observed_pct"`
}

// The RewardsSystem turns configured probability tables into draws. It is
// stateless aside from its configuration and random source.
type RewardsSystem interface {
	System

	// Draw selects one entry from a container using the luck-adjusted weights.
	Draw(logger runtime.Logger, containerID string, luck float64) (string, error)

	// DrawMany performs count independent draws.
	DrawMany(logger runtime.Logger, containerID string, count int, luck float64) ([]string, error)

	// ContentsPreview exposes the normalized probability of each entry without
	// drawing.
	ContentsPreview(containerID string, luck float64) ([]*ContainerEntryProbability, error)

	// GetContainer returns a single container definition.
	GetContainer(containerID string) (*RewardsConfigContainer, error)

	// ListContainers returns display summaries for every container.
	ListContainers() []*ContainerSummary

	// Simulate runs drawsPerLuck draws for each luck value and reports the
	// empirical frequencies against the expected table. Diagnostic only; both
	// inputs are capped and oversized requests fail with ErrBadInput.
	Simulate(logger runtime.Logger, containerID string, luckValues []float64, drawsPerLuck int) ([]*SimulationResult, error)
}
