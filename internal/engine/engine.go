// Package engine wires the market cache, risk model, opportunity finder,
// and rebalance coordinator into the scan/execute cycle driven by the CLI,
// the scheduler, and the HTTP layer.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/alerts"
	"github.com/sawpanic/yieldrun/internal/cost"
	"github.com/sawpanic/yieldrun/internal/market"
	"github.com/sawpanic/yieldrun/internal/metrics"
	"github.com/sawpanic/yieldrun/internal/opportunity"
	"github.com/sawpanic/yieldrun/internal/rebalance"
	"github.com/sawpanic/yieldrun/internal/risk"
)

// PositionStore is the external store of user positions. Read-only from the
// engine's perspective.
type PositionStore interface {
	Positions(ctx context.Context, user string) ([]market.Position, error)
}

// Config holds engine-level settings.
type Config struct {
	// NativePriceUSD converts native-asset cost estimates to USD.
	NativePriceUSD float64 `yaml:"native_price_usd"`
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{NativePriceUSD: 3000}
}

// PositionScan pairs a position with its comparison result.
type PositionScan struct {
	Position   market.Position        `json:"position"`
	Comparison opportunity.Comparison `json:"comparison"`
}

// ScanResult is one user's full scan.
type ScanResult struct {
	User        string         `json:"user"`
	Positions   []PositionScan `json:"positions"`
	Top         *opportunity.Opportunity `json:"top,omitempty"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// CycleResult summarizes one scheduler cycle for a user.
type CycleResult struct {
	User          string             `json:"user"`
	Positions     int                `json:"positions"`
	Candidates    int                `json:"candidates"`
	Opportunities int                `json:"opportunities"`
	Executed      int                `json:"executed"`
	TopNet        float64            `json:"top_net"`
	Outcome       *rebalance.Outcome `json:"outcome,omitempty"`
}

// Engine is the top-level decision component.
type Engine struct {
	cache     *market.Cache
	model     *risk.Model
	finder    *opportunity.Finder
	estimator cost.Estimator
	positions PositionStore
	coord     *rebalance.Coordinator
	metrics   *metrics.Registry
	cfg       Config
}

// New creates an engine. The rebalance coordinator is constructed here with
// the engine itself as the revalidator, so every execution rechecks
// profitability against a fresh snapshot. executor and bridge may be nil
// when only scanning and dry runs are needed.
func New(cache *market.Cache, model *risk.Model, estimator cost.Estimator, positions PositionStore,
	executor rebalance.TransactionExecutor, bridge rebalance.BridgeManager,
	alerter alerts.Sink, sagaCfg rebalance.Config, reg *metrics.Registry, cfg Config) *Engine {

	if cfg.NativePriceUSD <= 0 {
		cfg.NativePriceUSD = DefaultConfig().NativePriceUSD
	}

	e := &Engine{
		cache:     cache,
		model:     model,
		finder:    opportunity.NewFinder(model, estimator),
		estimator: estimator,
		positions: positions,
		metrics:   reg,
		cfg:       cfg,
	}
	e.coord = rebalance.NewCoordinator(executor, bridge, e, alerter, sagaCfg)
	return e
}

// Scan refreshes the market view and ranks opportunities for every position
// the user holds. Partial data-source failure degrades the snapshot, never
// the scan: a ranked list is always produced.
func (e *Engine) Scan(ctx context.Context, user string, prefs opportunity.Preferences) (*ScanResult, error) {
	if err := prefs.Validate(); err != nil {
		return nil, fmt.Errorf("preferences for %s: %w", user, err)
	}

	if err := e.cache.Refresh(ctx); err != nil {
		// Retained prior records still allow ranking; only log.
		log.Warn().Err(err).Str("user", user).Msg("Snapshot refresh degraded, scanning retained data")
	}

	positions, err := e.positions.Positions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("read positions for %s: %w", user, err)
	}

	snap := e.cache.Snapshot()
	result := &ScanResult{
		User:        user,
		Positions:   make([]PositionScan, 0, len(positions)),
		EvaluatedAt: time.Now().UTC(),
	}

	for _, pos := range positions {
		candidates := candidatesFor(snap, pos)
		currentRecord := e.currentRecord(snap, pos)
		comparison := e.finder.Compare(ctx, pos, currentRecord, candidates, prefs, e.cfg.NativePriceUSD)

		e.metrics.RecordComparison(comparison.Summary.Candidates, comparison.Summary.Survivors, countRejections(comparison))

		result.Positions = append(result.Positions, PositionScan{Position: pos, Comparison: comparison})
		for i := range comparison.Opportunities {
			opp := comparison.Opportunities[i]
			if result.Top == nil || opp.NetImprovement > result.Top.NetImprovement {
				result.Top = &opp
			}
		}
	}

	return result, nil
}

// RunCycle is one scheduler cycle: refresh, scan, and optionally hand the
// top opportunity to the coordinator. It never raises for per-record
// problems; only total inability to read positions is an error.
func (e *Engine) RunCycle(ctx context.Context, user string, prefs opportunity.Preferences, execute, dryRun bool) (CycleResult, error) {
	started := time.Now()

	scan, err := e.Scan(ctx, user, prefs)
	if err != nil {
		e.metrics.RecordScan("error", time.Since(started))
		return CycleResult{User: user}, err
	}

	res := CycleResult{User: user, Positions: len(scan.Positions)}
	for _, ps := range scan.Positions {
		res.Candidates += ps.Comparison.Summary.Candidates
		res.Opportunities += ps.Comparison.Summary.Survivors
	}
	if scan.Top != nil {
		res.TopNet = scan.Top.NetImprovement
	}

	if execute && scan.Top != nil {
		outcome, err := e.Execute(ctx, TargetOf(*scan.Top), dryRun)
		if err != nil {
			log.Warn().Err(err).Str("user", user).Msg("Rebalance execution errored")
		}
		res.Outcome = outcome
		if outcome != nil && outcome.Succeeded() {
			res.Executed = 1
		}
	}

	e.metrics.RecordScan("ok", time.Since(started))
	return res, nil
}

// Execute hands an approved target to the saga coordinator.
func (e *Engine) Execute(ctx context.Context, target rebalance.Target, dryRun bool) (*rebalance.Outcome, error) {
	outcome, err := e.coord.Execute(ctx, target, dryRun)
	if outcome != nil && outcome.State.Terminal() {
		e.metrics.RecordSaga(string(outcome.State))
	}
	return outcome, err
}

// Recheck implements rebalance.Revalidator: profitability is re-derived
// from a freshly refreshed snapshot immediately before capital moves.
func (e *Engine) Recheck(ctx context.Context, target rebalance.Target) (bool, string, error) {
	if err := e.cache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Revalidation refresh degraded, using retained snapshot")
	}

	candidate, ok := e.cache.Lookup(target.ToChain, target.ToProtocol, target.Asset)
	if !ok {
		return false, "target market absent from fresh snapshot", nil
	}

	now := time.Now().UTC()
	candidateAssessment := e.model.Assess(candidate, now)
	if candidateAssessment.Degraded {
		return false, "target market data degraded", nil
	}

	pos := market.Position{
		User:     target.User,
		ChainID:  target.FromChain,
		Protocol: target.FromProtocol,
		Asset:    target.Asset,
		Amount:   target.Amount,
	}
	var currentAPY float64
	if current, ok := e.cache.Lookup(target.FromChain, target.FromProtocol, target.Asset); ok {
		currentAPY = e.model.Assess(current, now).RiskAdjustedAPY
	}

	sc := e.estimator.Estimate(ctx, pos, candidate, e.cfg.NativePriceUSD)
	net := candidateAssessment.RiskAdjustedAPY - currentAPY - sc.AnnualizedCostPercent
	if net <= 0 || math.IsNaN(net) {
		return false, fmt.Sprintf("net improvement %.3f%% no longer positive", net), nil
	}
	return true, "", nil
}

// TargetOf converts a ranked opportunity into the coordinator's view of it.
func TargetOf(opp opportunity.Opportunity) rebalance.Target {
	return rebalance.Target{
		User:           opp.Source.User,
		FromChain:      opp.Source.ChainID,
		FromProtocol:   opp.Source.Protocol,
		ToChain:        opp.Target.ChainID,
		ToProtocol:     opp.Target.Protocol,
		Asset:          opp.Source.Asset,
		Amount:         opp.Source.Amount,
		NetImprovement: opp.NetImprovement,
	}
}

// candidatesFor selects snapshot records holding the same asset as the
// position; moving between assets is a trade, not a rebalance.
func candidatesFor(snap market.Snapshot, pos market.Position) []market.Record {
	out := make([]market.Record, 0)
	for _, rec := range snap.Records {
		if rec.Asset == pos.Asset {
			out = append(out, rec)
		}
	}
	return out
}

// currentRecord finds the position's own market in the snapshot, or builds
// a minimal stand-in from the position so the comparison baseline reflects
// at least the APY the user currently earns.
func (e *Engine) currentRecord(snap market.Snapshot, pos market.Position) market.Record {
	if rec, ok := snap.Records[pos.Key()]; ok {
		return rec
	}
	return market.Record{
		Protocol:      pos.Protocol,
		ChainID:       pos.ChainID,
		Asset:         pos.Asset,
		BaseAPY:       pos.CurrentAPY,
		Utilization:   math.NaN(),
		LiquidityUSD:  math.NaN(),
		Volatility:    math.NaN(),
		MarketAgeDays: math.NaN(),
		UpdatedAt:     pos.UpdatedAt,
	}
}

func countRejections(c opportunity.Comparison) map[string]int {
	if len(c.Rejections) == 0 {
		return nil
	}
	out := make(map[string]int, 4)
	for _, r := range c.Rejections {
		out[r.Gate]++
	}
	return out
}
