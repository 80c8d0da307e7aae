// Package cost estimates the one-time cost of moving a position between
// markets. The model is deliberately simple and replaceable: callers depend
// on the Estimator interface so a live gas-price oracle can be swapped in
// without touching them.
package cost

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/market"
)

// SwitchingCost is the estimated cost of one withdraw + (optional bridge) +
// deposit sequence. Percent fields are percentage points (0.5 means 0.5%).
type SwitchingCost struct {
	NativeCost            float64 `json:"native_cost"` // in the chain's native asset
	CostUSD               float64 `json:"cost_usd"`
	PositionValueUSD      float64 `json:"position_value_usd"`
	TotalCostPercent      float64 `json:"total_cost_percent"`
	AnnualizedCostPercent float64 `json:"annualized_cost_percent"`
	BreakEvenDays         float64 `json:"break_even_days"`
	CrossChain            bool    `json:"cross_chain"`
	CrossProtocol         bool    `json:"cross_protocol"`
}

// Estimator prices a position move. Implementations must be safe for
// concurrent use.
type Estimator interface {
	Estimate(ctx context.Context, current market.Position, target market.Record, nativePriceUSD float64) SwitchingCost
}

// GasMonitor is the external gas/price collaborator. Prices are in native
// units per standard transaction.
type GasMonitor interface {
	CurrentGasPrice(ctx context.Context, chainID int64) (float64, error)
}

// Config holds the static native-asset cost figures.
type Config struct {
	BaseNative       float64 `yaml:"base_native"`       // one withdraw + one deposit
	BridgeNative     float64 `yaml:"bridge_native"`     // cross-chain increment
	ComplexityNative float64 `yaml:"complexity_native"` // cross-protocol increment
	// NominalPositionUSD is the documented approximation used when a
	// position's USD value is unknown. It is not a hidden default: every
	// SwitchingCost reports the value actually used.
	NominalPositionUSD float64 `yaml:"nominal_position_usd"`
}

// DefaultConfig returns the static production estimates.
func DefaultConfig() Config {
	return Config{
		BaseNative:         0.004,
		BridgeNative:       0.010,
		ComplexityNative:   0.002,
		NominalPositionUSD: 10_000,
	}
}

// StaticEstimator prices moves from fixed native-asset figures.
type StaticEstimator struct {
	cfg Config
}

// NewStaticEstimator creates a static estimator, filling zero config fields
// with defaults.
func NewStaticEstimator(cfg Config) *StaticEstimator {
	def := DefaultConfig()
	if cfg.BaseNative <= 0 {
		cfg.BaseNative = def.BaseNative
	}
	if cfg.BridgeNative <= 0 {
		cfg.BridgeNative = def.BridgeNative
	}
	if cfg.ComplexityNative <= 0 {
		cfg.ComplexityNative = def.ComplexityNative
	}
	if cfg.NominalPositionUSD <= 0 {
		cfg.NominalPositionUSD = def.NominalPositionUSD
	}
	return &StaticEstimator{cfg: cfg}
}

// Estimate implements Estimator.
func (e *StaticEstimator) Estimate(_ context.Context, current market.Position, target market.Record, nativePriceUSD float64) SwitchingCost {
	return e.estimateScaled(current, target, nativePriceUSD, 1.0)
}

func (e *StaticEstimator) estimateScaled(current market.Position, target market.Record, nativePriceUSD, gasScale float64) SwitchingCost {
	crossChain := current.ChainID != target.ChainID
	crossProtocol := current.Protocol != target.Protocol

	native := e.cfg.BaseNative
	if crossChain {
		native += e.cfg.BridgeNative
	}
	if crossProtocol {
		native += e.cfg.ComplexityNative
	}
	native *= gasScale

	positionUSD := current.ValueUSD
	if positionUSD <= 0 || math.IsNaN(positionUSD) {
		positionUSD = e.cfg.NominalPositionUSD
	}

	costUSD := native * nativePriceUSD
	totalPct := costUSD / positionUSD * 100

	return SwitchingCost{
		NativeCost:       native,
		CostUSD:          costUSD,
		PositionValueUSD: positionUSD,
		TotalCostPercent: totalPct,
		// The one-time cost is treated as a single annual deduction, not a
		// true amortized annuity.
		AnnualizedCostPercent: totalPct,
		BreakEvenDays:         365 * totalPct / 100,
		CrossChain:            crossChain,
		CrossProtocol:         crossProtocol,
	}
}

// OracleEstimator scales the static figures by live gas prices from the gas
// monitor collaborator, falling back to the static estimate when the monitor
// is unreachable.
type OracleEstimator struct {
	static       *StaticEstimator
	monitor      GasMonitor
	referenceGas float64 // gas price at which the static figures were calibrated
}

// NewOracleEstimator wraps a static estimator with a live gas monitor.
// referenceGas is the price the static native figures assume; live prices
// scale costs proportionally.
func NewOracleEstimator(static *StaticEstimator, monitor GasMonitor, referenceGas float64) *OracleEstimator {
	if referenceGas <= 0 {
		referenceGas = 1.0
	}
	return &OracleEstimator{static: static, monitor: monitor, referenceGas: referenceGas}
}

// Estimate implements Estimator.
func (e *OracleEstimator) Estimate(ctx context.Context, current market.Position, target market.Record, nativePriceUSD float64) SwitchingCost {
	gas, err := e.monitor.CurrentGasPrice(ctx, current.ChainID)
	if err != nil || gas <= 0 || math.IsNaN(gas) {
		if err != nil {
			log.Warn().Err(err).Int64("chain", current.ChainID).
				Msg("Gas monitor unavailable, using static switching-cost estimate")
		}
		return e.static.Estimate(ctx, current, target, nativePriceUSD)
	}
	return e.static.estimateScaled(current, target, nativePriceUSD, gas/e.referenceGas)
}
