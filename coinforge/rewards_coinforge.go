package coinforge

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"gonum.org/v1/gonum/stat"
)

// defaultRarityBoost is used for tiers the config does not override. Constants
// increase monotonically with rarity so luck benefits rarer entries more.
var defaultRarityBoost = map[string]float64{
	"common":    0,
	"uncommon":  0.5,
	"rare":      1,
	"epic":      2,
	"legendary": 4,
}

// RewardsCoinforge implements the RewardsSystem interface.
type RewardsCoinforge struct {
	config *RewardsConfig

	mu  sync.Mutex
	rng *rand.Rand
}

var _ RewardsSystem = &RewardsCoinforge{}

func NewRewardsSystem(config *RewardsConfig) *RewardsCoinforge {
	if config == nil {
		config = &RewardsConfig{}
	}
	return &RewardsCoinforge{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *RewardsCoinforge) GetType() SystemType {
	return SystemTypeRewards
}

func (s *RewardsCoinforge) GetConfig() any {
	return s.config
}

// Validate checks the configured containers for internal consistency.
func (s *RewardsCoinforge) Validate() error {
	for containerID, container := range s.config.Containers {
		if container == nil || len(container.Entries) == 0 {
			return runtime.NewError(fmt.Sprintf("container %s has no entries", containerID), 9)
		}
		for _, entry := range container.Entries {
			if entry.Weight < 0 || !isFinite(entry.Weight) {
				return runtime.NewError(fmt.Sprintf("container %s entry %s has invalid weight %v", containerID, entry.ItemID, entry.Weight), 9)
			}
		}
	}
	return nil
}

func (s *RewardsCoinforge) GetContainer(containerID string) (*RewardsConfigContainer, error) {
	container, exists := s.config.Containers[containerID]
	if !exists {
		return nil, ErrContainerNotFound
	}
	return container, nil
}

func (s *RewardsCoinforge) ListContainers() []*ContainerSummary {
	summaries := make([]*ContainerSummary, 0, len(s.config.Containers))
	for containerID, container := range s.config.Containers {
		summaries = append(summaries, &ContainerSummary{
			ID:            containerID,
			Description:   container.Description,
			Price:         container.Price,
			PriceCurrency: container.PriceCurrency,
			EntryCount:    len(container.Entries),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

func (s *RewardsCoinforge) Draw(logger runtime.Logger, containerID string, luck float64) (string, error) {
	container, err := s.GetContainer(containerID)
	if err != nil {
		return "", err
	}

	totalWeight := s.totalAdjustedWeight(container, luck)
	if totalWeight <= 0 {
		return "", ErrEmptyDistribution
	}

	s.mu.Lock()
	roll := s.rng.Float64() * totalWeight
	fallback := s.rng.Intn(len(container.Entries))
	s.mu.Unlock()

	return s.drawAt(logger, container, luck, roll, fallback), nil
}

func (s *RewardsCoinforge) DrawMany(logger runtime.Logger, containerID string, count int, luck float64) ([]string, error) {
	if count <= 0 {
		return nil, ErrBadInput
	}

	// Draws are independent and identically distributed, not a sample without
	// replacement.
	results := make([]string, 0, count)
	for i := 0; i < count; i++ {
		itemID, err := s.Draw(logger, containerID, luck)
		if err != nil {
			return nil, err
		}
		results = append(results, itemID)
	}
	return results, nil
}

func (s *RewardsCoinforge) ContentsPreview(containerID string, luck float64) ([]*ContainerEntryProbability, error) {
	container, err := s.GetContainer(containerID)
	if err != nil {
		return nil, err
	}

	totalWeight := s.totalAdjustedWeight(container, luck)
	rows := make([]*ContainerEntryProbability, 0, len(container.Entries))
	for _, entry := range container.Entries {
		adjusted := s.adjustedWeight(entry, luck)
		row := &ContainerEntryProbability{
			ItemID:         entry.ItemID,
			Rarity:         s.rarityOf(entry.ItemID),
			BaseWeight:     entry.Weight,
			AdjustedWeight: adjusted,
		}
		// A fully zero-weight container previews as all zeros rather than
		// dividing by the zero total.
		if totalWeight > 0 {
			row.Probability = adjusted / totalWeight * 100
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Simulation inputs are bounded: the endpoint is reachable over HTTP and a
// single request must not be able to demand unbounded CPU.
const (
	maxSimulateLuckValues   = 32
	maxSimulateDrawsPerLuck = 100000
)

func (s *RewardsCoinforge) Simulate(logger runtime.Logger, containerID string, luckValues []float64, drawsPerLuck int) ([]*SimulationResult, error) {
	if drawsPerLuck <= 0 || drawsPerLuck > maxSimulateDrawsPerLuck {
		return nil, ErrBadInput
	}
	if len(luckValues) == 0 || len(luckValues) > maxSimulateLuckValues {
		return nil, ErrBadInput
	}
	if _, err := s.GetContainer(containerID); err != nil {
		return nil, err
	}

	results := make([]*SimulationResult, 0, len(luckValues))
	for _, luck := range luckValues {
		expected, err := s.ContentsPreview(containerID, luck)
		if err != nil {
			return nil, err
		}

		counts := make(map[string]int, len(expected))
		for i := 0; i < drawsPerLuck; i++ {
			itemID, err := s.Draw(logger, containerID, luck)
			if err != nil {
				return nil, err
			}
			counts[itemID]++
		}

		result := &SimulationResult{
			Luck:    luck,
			Draws:   drawsPerLuck,
			Entries: make([]*SimulationEntry, 0, len(expected)),
		}
		errorsPct := make([]float64, 0, len(expected))
		for _, row := range expected {
			observed := float64(counts[row.ItemID]) / float64(drawsPerLuck) * 100
			result.Entries = append(result.Entries, &SimulationEntry{
				ItemID:      row.ItemID,
				ExpectedPct: row.Probability,
				ObservedPct: observed,
			})
			errorsPct = append(errorsPct, observed-row.Probability)
		}

		absErrors := make([]float64, len(errorsPct))
		for i, e := range errorsPct {
			absErrors[i] = math.Abs(e)
		}
		result.MeanAbsErrorPct = stat.Mean(absErrors, nil)
		result.StdDevErrorPct = stat.StdDev(errorsPct, nil)
		results = append(results, result)
	}
	return results, nil
}

// drawAt resolves a draw value against the container's cumulative adjusted
// weights in configured entry order. The same draw value always selects the same
// entry for identical weights.
func (s *RewardsCoinforge) drawAt(logger runtime.Logger, container *RewardsConfigContainer, luck, roll float64, fallback int) string {
	cumulative := 0.0
	for _, entry := range container.Entries {
		cumulative += s.adjustedWeight(entry, luck)
		if roll < cumulative {
			return entry.ItemID
		}
	}

	// Reachable only through floating point rounding at the top of the range: no
	// entry satisfied the accumulation test, so fall back to a uniform pick
	// instead of failing the whole draw.
	logger.Warn("Draw value %v exhausted cumulative weights, using uniform fallback", roll)
	return container.Entries[fallback].ItemID
}

func (s *RewardsCoinforge) totalAdjustedWeight(container *RewardsConfigContainer, luck float64) float64 {
	total := 0.0
	for _, entry := range container.Entries {
		total += s.adjustedWeight(entry, luck)
	}
	return total
}

// adjustedWeight applies the luck scaling formula:
// base * (1 + rarityBoost * luck / 100). Negative luck is treated as zero.
func (s *RewardsCoinforge) adjustedWeight(entry *RewardsConfigEntry, luck float64) float64 {
	if luck < 0 {
		luck = 0
	}
	return entry.Weight * (1 + s.rarityBoost(s.rarityOf(entry.ItemID))*luck/100)
}

func (s *RewardsCoinforge) rarityOf(itemID string) string {
	if item, exists := s.config.Items[itemID]; exists && item != nil {
		return item.Rarity
	}
	return ""
}

func (s *RewardsCoinforge) rarityBoost(rarity string) float64 {
	if boost, exists := s.config.RarityBoost[rarity]; exists {
		return boost
	}
	if boost, exists := defaultRarityBoost[rarity]; exists {
		return boost
	}
	return 0
}
