package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/market"
)

func blueChipRecord(now time.Time) market.Record {
	return market.Record{
		Protocol:      "aave",
		ChainID:       1,
		Asset:         "USDC",
		BaseAPY:       4.5,
		Utilization:   0.75,
		LiquidityUSD:  150_000_000,
		Volatility:    0.02,
		MarketAgeDays: 900,
		UpdatedAt:     now,
	}
}

func TestModel_Assess_BlueChip(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	a := model.Assess(blueChipRecord(now), now)

	assert.False(t, a.Degraded)
	assert.LessOrEqual(t, a.RiskScore, 20.0, "established market on ethereum should score low risk")
	assert.GreaterOrEqual(t, a.RiskMultiplier, 0.8)
	assert.InDelta(t, 25.0, a.Factors.Utilization, 1e-9, "75% utilization is the sweet spot")
	assert.InDelta(t, 5.0, a.Factors.Liquidity, 1e-9)
	assert.InDelta(t, a.BaseAPY*a.RiskMultiplier, a.RiskAdjustedAPY, 1e-9)
}

func TestModel_Assess_Bounds(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	records := []market.Record{
		blueChipRecord(now),
		{Protocol: "unknown", ChainID: 999999, Asset: "XYZ", BaseAPY: 80,
			Utilization: 0.99, LiquidityUSD: 40_000, Volatility: 0.9, MarketAgeDays: 2, UpdatedAt: now},
		{Protocol: "radiant", ChainID: 42161, Asset: "USDT", BaseAPY: 12,
			Utilization: math.NaN(), LiquidityUSD: math.NaN(), Volatility: math.NaN(), MarketAgeDays: math.NaN()},
		{Protocol: "curve", ChainID: 137, Asset: "DAI", BaseAPY: 0,
			Utilization: 0, LiquidityUSD: 0, Volatility: 0, MarketAgeDays: 0, UpdatedAt: now.Add(-48 * time.Hour)},
	}

	for _, rec := range records {
		a := model.Assess(rec, now)
		assert.GreaterOrEqual(t, a.RiskScore, 0.0, rec.Key())
		assert.LessOrEqual(t, a.RiskScore, 100.0, rec.Key())
		assert.GreaterOrEqual(t, a.RiskMultiplier, 0.1, rec.Key())
		assert.LessOrEqual(t, a.RiskMultiplier, 1.0, rec.Key())
		assert.GreaterOrEqual(t, a.ConfidenceScore, 0.0, rec.Key())
		assert.LessOrEqual(t, a.ConfidenceScore, 100.0, rec.Key())
		assert.False(t, math.IsNaN(a.RiskAdjustedAPY), rec.Key())
	}
}

func TestModel_Assess_RiskierMarketScoresHigher(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	safe := blueChipRecord(now)
	risky := safe
	risky.Protocol = "radiant"
	risky.ChainID = 43114
	risky.Utilization = 0.97
	risky.LiquidityUSD = 80_000
	risky.Volatility = 0.6
	risky.MarketAgeDays = 3

	sa := model.Assess(safe, now)
	ra := model.Assess(risky, now)

	assert.Greater(t, ra.RiskScore, sa.RiskScore)
	assert.Less(t, ra.RiskMultiplier, sa.RiskMultiplier)
}

func TestModel_Assess_Malformed(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	tests := []struct {
		name string
		rec  market.Record
	}{
		{"missing_protocol", market.Record{ChainID: 1, Asset: "USDC", BaseAPY: 3}},
		{"missing_asset", market.Record{Protocol: "aave", ChainID: 1, BaseAPY: 3}},
		{"zero_chain", market.Record{Protocol: "aave", Asset: "USDC", BaseAPY: 3}},
		{"nan_apy", market.Record{Protocol: "aave", ChainID: 1, Asset: "USDC", BaseAPY: math.NaN()}},
		{"negative_apy", market.Record{Protocol: "aave", ChainID: 1, Asset: "USDC", BaseAPY: -1}},
		{"inf_liquidity", market.Record{Protocol: "aave", ChainID: 1, Asset: "USDC", BaseAPY: 3,
			LiquidityUSD: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := model.Assess(tt.rec, now)
			assert.True(t, a.Degraded)
			assert.NotEmpty(t, a.DegradedReason)
			assert.Equal(t, 100.0, a.RiskScore)
			assert.Equal(t, 0.1, a.RiskMultiplier)
			assert.Equal(t, 0.0, a.ConfidenceScore)
			assert.Equal(t, 0.0, a.RiskAdjustedAPY)
		})
	}
}

func TestModel_Assess_MissingOptionalFieldsAreNeutral(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	rec := market.Record{
		Protocol: "aave", ChainID: 1, Asset: "USDC", BaseAPY: 4.0,
		Utilization: math.NaN(), LiquidityUSD: math.NaN(),
		Volatility: math.NaN(), MarketAgeDays: math.NaN(),
		UpdatedAt: now,
	}

	a := model.Assess(rec, now)

	require.False(t, a.Degraded, "missing optional fields are not malformed input")
	assert.Equal(t, 50.0, a.Factors.Utilization)
	assert.Equal(t, 50.0, a.Factors.Liquidity)
	assert.Equal(t, 50.0, a.Factors.Volatility)
	assert.Equal(t, 50.0, a.Factors.Age)
	// 100 - 15 - 20 - 10 - 5 - 10 (no rewards)
	assert.InDelta(t, 40.0, a.ConfidenceScore, 1e-9)
}

func TestModel_Assess_ConfidenceStaleness(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	fresh := model.Assess(blueChipRecord(now), now)

	aging := blueChipRecord(now)
	aging.UpdatedAt = now.Add(-7 * time.Hour)
	old := blueChipRecord(now)
	old.UpdatedAt = now.Add(-13 * time.Hour)
	veryOld := blueChipRecord(now)
	veryOld.UpdatedAt = now.Add(-25 * time.Hour)

	assert.InDelta(t, fresh.ConfidenceScore-5, model.Assess(aging, now).ConfidenceScore, 1e-9)
	assert.InDelta(t, fresh.ConfidenceScore-15, model.Assess(old, now).ConfidenceScore, 1e-9)
	assert.InDelta(t, fresh.ConfidenceScore-30, model.Assess(veryOld, now).ConfidenceScore, 1e-9)
}

func TestModel_RewardHaircuts(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	rec := blueChipRecord(now)
	rec.Rewards = []market.RewardEntry{
		{Token: "ARB", Type: market.RewardGovernance, EstimatedAPY: 2.0,
			Confidence: 0.9, LiquidityFactor: 0.9, ClaimFrequency: 1.0},
		{Token: "PTS", Type: market.RewardPoints, EstimatedAPY: 5.0,
			Confidence: 0.5, LiquidityFactor: 0.5, ClaimFrequency: 0.5},
	}

	a := model.Assess(rec, now)

	require.Len(t, a.Rewards, 2)
	assert.InDelta(t, 2.0*0.7*0.9*0.9*1.0, a.Rewards[0].EffectiveAPY, 1e-9)
	assert.InDelta(t, 5.0*0.3*0.5*0.5*0.5, a.Rewards[1].EffectiveAPY, 1e-9)
	assert.InDelta(t, a.Rewards[0].EffectiveAPY+a.Rewards[1].EffectiveAPY, a.RewardAPY, 1e-9)
	assert.InDelta(t, (a.BaseAPY+a.RewardAPY)*a.RiskMultiplier, a.RiskAdjustedAPY, 1e-9)
}

func TestModel_RewardEntry_SkipsInvalidAPY(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	rec := blueChipRecord(now)
	rec.Rewards = []market.RewardEntry{
		{Token: "BAD", Type: market.RewardNative, EstimatedAPY: math.NaN()},
		{Token: "NEG", Type: market.RewardNative, EstimatedAPY: -3},
		{Token: "OP", Type: market.RewardNative, EstimatedAPY: 1.0},
	}

	a := model.Assess(rec, now)

	require.Len(t, a.Rewards, 1)
	assert.Equal(t, "OP", a.Rewards[0].Token)
}

func TestModel_UnknownRewardTypeUsesDefaultMultiplier(t *testing.T) {
	model := MustNewModel()
	now := time.Now().UTC()

	rec := blueChipRecord(now)
	rec.Rewards = []market.RewardEntry{
		{Token: "???", Type: "mystery", EstimatedAPY: 1.0, Confidence: 1, LiquidityFactor: 1, ClaimFrequency: 1},
	}

	a := model.Assess(rec, now)

	require.Len(t, a.Rewards, 1)
	assert.InDelta(t, 0.5, a.Rewards[0].Multiplier, 1e-9)
}
