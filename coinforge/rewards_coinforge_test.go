package coinforge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRewardsConfig() *RewardsConfig {
	return &RewardsConfig{
		Items: map[string]*RewardsConfigItem{
			"item_a": {Rarity: "common"},
			"item_b": {Rarity: "common"},
			"item_c": {Rarity: "rare"},
		},
		Containers: map[string]*RewardsConfigContainer{
			"skewed": {
				Description: "9 to 1 split",
				Entries: []*RewardsConfigEntry{
					{ItemID: "item_a", Weight: 90},
					{ItemID: "item_b", Weight: 10},
				},
			},
			"lucky": {
				Entries: []*RewardsConfigEntry{
					{ItemID: "item_a", Weight: 80},
					{ItemID: "item_c", Weight: 20},
				},
			},
			"hollow": {
				Entries: []*RewardsConfigEntry{
					{ItemID: "item_a", Weight: 0},
					{ItemID: "item_b", Weight: 0},
				},
			},
		},
	}
}

func TestRewards_DrawReturnsConfiguredEntry(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	logger := &mockLogger{}

	for i := 0; i < 100; i++ {
		itemID, err := rewards.Draw(logger, "skewed", 0)
		require.NoError(t, err)
		assert.Contains(t, []string{"item_a", "item_b"}, itemID)
	}
}

func TestRewards_DrawUnknownContainer(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	_, err := rewards.Draw(&mockLogger{}, "missing", 0)
	assert.Equal(t, ErrContainerNotFound, err)
}

func TestRewards_DrawAllZeroWeights(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	_, err := rewards.Draw(&mockLogger{}, "hollow", 0)
	assert.Equal(t, ErrEmptyDistribution, err)
}

func TestRewards_DrawAtIsStableInEntryOrder(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	container, err := rewards.GetContainer("skewed")
	require.NoError(t, err)
	logger := &mockLogger{}

	// Identical draw values always resolve to the same entry, walking entries in
	// configured order: [0, 90) is item_a, [90, 100) is item_b.
	assert.Equal(t, "item_a", rewards.drawAt(logger, container, 0, 0, 0))
	assert.Equal(t, "item_a", rewards.drawAt(logger, container, 0, 89.999, 0))
	assert.Equal(t, "item_b", rewards.drawAt(logger, container, 0, 90, 0))
	assert.Equal(t, "item_b", rewards.drawAt(logger, container, 0, 99.999, 0))

	// A value past every cumulative bound falls back to the uniform pick.
	assert.Equal(t, "item_b", rewards.drawAt(logger, container, 0, 100.5, 1))
}

func TestRewards_DistributionMatchesWeights(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	logger := &mockLogger{}

	const draws = 100000
	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		itemID, err := rewards.Draw(logger, "skewed", 0)
		require.NoError(t, err)
		counts[itemID]++
	}

	// 9:1 expected split with a tolerance generous enough to never flake.
	observedA := float64(counts["item_a"]) / draws
	assert.InDelta(t, 0.9, observedA, 0.02)
	assert.InDelta(t, 0.1, float64(counts["item_b"])/draws, 0.02)
}

func TestRewards_LuckBoostsRareEntries(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())

	// item_c is rare (boost 1), item_a common (boost 0). At luck 100 the rare
	// entry's weight doubles: 80 vs 40 instead of 80 vs 20.
	flat, err := rewards.ContentsPreview("lucky", 0)
	require.NoError(t, err)
	boosted, err := rewards.ContentsPreview("lucky", 100)
	require.NoError(t, err)

	assert.Equal(t, 20.0, flat[1].Probability)
	assert.Equal(t, 20.0, boosted[1].BaseWeight)
	assert.Equal(t, 40.0, boosted[1].AdjustedWeight)
	assert.InDelta(t, 100.0/3, boosted[1].Probability, 1e-9)

	// Common entries keep their base weight regardless of luck.
	assert.Equal(t, 80.0, boosted[0].AdjustedWeight)
}

func TestRewards_NegativeLuckTreatedAsZero(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())

	negative, err := rewards.ContentsPreview("lucky", -50)
	require.NoError(t, err)
	zero, err := rewards.ContentsPreview("lucky", 0)
	require.NoError(t, err)

	for i := range zero {
		assert.Equal(t, zero[i].AdjustedWeight, negative[i].AdjustedWeight)
	}
}

func TestRewards_PreviewSumsToHundred(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())

	for _, luck := range []float64{0, 25, 100} {
		preview, err := rewards.ContentsPreview("skewed", luck)
		require.NoError(t, err)

		total := 0.0
		for _, row := range preview {
			total += row.Probability
		}
		assert.InDelta(t, 100.0, total, 1e-9)
	}

	// An all-zero container previews as all zeros.
	preview, err := rewards.ContentsPreview("hollow", 0)
	require.NoError(t, err)
	for _, row := range preview {
		assert.Zero(t, row.Probability)
	}
}

func TestRewards_DrawMany(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	logger := &mockLogger{}

	results, err := rewards.DrawMany(logger, "skewed", 25, 0)
	require.NoError(t, err)
	assert.Len(t, results, 25)

	_, err = rewards.DrawMany(logger, "skewed", 0, 0)
	assert.Equal(t, ErrBadInput, err)
	_, err = rewards.DrawMany(logger, "missing", 5, 0)
	assert.Equal(t, ErrContainerNotFound, err)
}

func TestRewards_ListContainersSorted(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())

	summaries := rewards.ListContainers()
	require.Len(t, summaries, 3)
	assert.Equal(t, "hollow", summaries[0].ID)
	assert.Equal(t, "lucky", summaries[1].ID)
	assert.Equal(t, "skewed", summaries[2].ID)
	assert.Equal(t, 2, summaries[2].EntryCount)
	assert.Equal(t, "9 to 1 split", summaries[2].Description)
}

func TestRewards_SimulateReportsSmallError(t *testing.T) {
	rewards := NewRewardsSystem(testRewardsConfig())
	logger := &mockLogger{}

	results, err := rewards.Simulate(logger, "skewed", []float64{0, 100}, 20000)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, result := range results {
		assert.Equal(t, 20000, result.Draws)
		require.Len(t, result.Entries, 2)
		observed := 0.0
		for _, entry := range result.Entries {
			observed += entry.ObservedPct
			assert.InDelta(t, entry.ExpectedPct, entry.ObservedPct, 2.0)
		}
		assert.InDelta(t, 100.0, observed, 1e-9)
		assert.Less(t, result.MeanAbsErrorPct, 2.0)
		assert.False(t, math.IsNaN(result.StdDevErrorPct))
	}

	_, err = rewards.Simulate(logger, "skewed", nil, 100)
	assert.Equal(t, ErrBadInput, err)
	_, err = rewards.Simulate(logger, "skewed", []float64{0}, 0)
	assert.Equal(t, ErrBadInput, err)
	_, err = rewards.Simulate(logger, "skewed", []float64{0}, maxSimulateDrawsPerLuck+1)
	assert.Equal(t, ErrBadInput, err)
	_, err = rewards.Simulate(logger, "skewed", make([]float64, maxSimulateLuckValues+1), 100)
	assert.Equal(t, ErrBadInput, err)
}

func TestRewards_ValidateRejectsNegativeWeight(t *testing.T) {
	config := testRewardsConfig()
	config.Containers["skewed"].Entries[0].Weight = -1
	err := NewRewardsSystem(config).Validate()
	require.Error(t, err)

	config = testRewardsConfig()
	config.Containers["empty"] = &RewardsConfigContainer{}
	err = NewRewardsSystem(config).Validate()
	require.Error(t, err)
}
