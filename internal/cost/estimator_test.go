package cost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/market"
)

func position(chainID int64, protocol string, valueUSD float64) market.Position {
	return market.Position{
		User: "alice", ChainID: chainID, Protocol: protocol, Asset: "USDC",
		Amount: valueUSD, ValueUSD: valueUSD,
	}
}

func target(chainID int64, protocol string) market.Record {
	return market.Record{ChainID: chainID, Protocol: protocol, Asset: "USDC", BaseAPY: 6}
}

func TestStaticEstimator_SameChainSameProtocol(t *testing.T) {
	est := NewStaticEstimator(Config{})
	ctx := context.Background()

	sc := est.Estimate(ctx, position(1, "aave", 10_000), target(1, "aave"), 3000)

	assert.False(t, sc.CrossChain)
	assert.False(t, sc.CrossProtocol)
	assert.InDelta(t, 0.004, sc.NativeCost, 1e-9)
	assert.InDelta(t, 12.0, sc.CostUSD, 1e-9)
	assert.InDelta(t, 0.12, sc.TotalCostPercent, 1e-9)
	assert.InDelta(t, sc.TotalCostPercent, sc.AnnualizedCostPercent, 1e-9)
	assert.InDelta(t, 365*sc.TotalCostPercent/100, sc.BreakEvenDays, 1e-9)
}

func TestStaticEstimator_CrossChainCostsMore(t *testing.T) {
	est := NewStaticEstimator(Config{})
	ctx := context.Background()

	same := est.Estimate(ctx, position(1, "aave", 10_000), target(1, "compound"), 3000)
	cross := est.Estimate(ctx, position(1, "aave", 10_000), target(42161, "compound"), 3000)

	assert.True(t, cross.CrossChain)
	assert.True(t, cross.CrossProtocol)
	assert.Greater(t, cross.NativeCost, same.NativeCost)
	assert.InDelta(t, 0.004+0.010+0.002, cross.NativeCost, 1e-9)
}

func TestStaticEstimator_UnknownPositionValueUsesNominal(t *testing.T) {
	est := NewStaticEstimator(Config{})
	ctx := context.Background()

	sc := est.Estimate(ctx, position(1, "aave", 0), target(10, "aave"), 3000)

	assert.InDelta(t, 10_000, sc.PositionValueUSD, 1e-9, "nominal value must be reported, not hidden")
	assert.Greater(t, sc.TotalCostPercent, 0.0)
}

func TestStaticEstimator_LargerPositionCheaperInPercent(t *testing.T) {
	est := NewStaticEstimator(Config{})
	ctx := context.Background()

	small := est.Estimate(ctx, position(1, "aave", 1_000), target(10, "aave"), 3000)
	large := est.Estimate(ctx, position(1, "aave", 1_000_000), target(10, "aave"), 3000)

	assert.InDelta(t, small.CostUSD, large.CostUSD, 1e-9, "absolute cost is position-independent")
	assert.Greater(t, small.TotalCostPercent, large.TotalCostPercent)
}

type fakeGasMonitor struct {
	price float64
	err   error
}

func (m fakeGasMonitor) CurrentGasPrice(context.Context, int64) (float64, error) {
	return m.price, m.err
}

func TestOracleEstimator_ScalesWithGas(t *testing.T) {
	static := NewStaticEstimator(Config{})
	est := NewOracleEstimator(static, fakeGasMonitor{price: 2.0}, 1.0)
	ctx := context.Background()

	base := static.Estimate(ctx, position(1, "aave", 10_000), target(1, "aave"), 3000)
	scaled := est.Estimate(ctx, position(1, "aave", 10_000), target(1, "aave"), 3000)

	assert.InDelta(t, base.NativeCost*2, scaled.NativeCost, 1e-9)
	assert.InDelta(t, base.CostUSD*2, scaled.CostUSD, 1e-9)
}

func TestOracleEstimator_FallsBackOnMonitorError(t *testing.T) {
	static := NewStaticEstimator(Config{})
	est := NewOracleEstimator(static, fakeGasMonitor{err: errors.New("rpc down")}, 1.0)
	ctx := context.Background()

	want := static.Estimate(ctx, position(1, "aave", 10_000), target(42161, "aave"), 3000)
	got := est.Estimate(ctx, position(1, "aave", 10_000), target(42161, "aave"), 3000)

	assert.Equal(t, want, got)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "costs.yaml")
	content := `
base_native: 0.006
bridge_native: 0.012
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.006, cfg.BaseNative, 1e-9)
	assert.InDelta(t, 0.012, cfg.BridgeNative, 1e-9)
	// omitted fields fall back to defaults
	assert.InDelta(t, DefaultConfig().ComplexityNative, cfg.ComplexityNative, 1e-9)
	assert.InDelta(t, DefaultConfig().NominalPositionUSD, cfg.NominalPositionUSD, 1e-9)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
