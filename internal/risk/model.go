package risk

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/market"
)

// FactorBreakdown exposes each factor's score before weighting, for
// explainability of the composite.
type FactorBreakdown struct {
	Protocol    float64 `json:"protocol"`
	Chain       float64 `json:"chain"`
	Asset       float64 `json:"asset"`
	Utilization float64 `json:"utilization"`
	Liquidity   float64 `json:"liquidity"`
	Volatility  float64 `json:"volatility"`
	Age         float64 `json:"age"`
}

// RewardContribution is one reward stream's haircut math.
type RewardContribution struct {
	Token        string  `json:"token"`
	Type         string  `json:"type"`
	RawAPY       float64 `json:"raw_apy"`
	Multiplier   float64 `json:"multiplier"`
	EffectiveAPY float64 `json:"effective_apy"`
}

// Assessment is the risk model's output for a single market record. It is
// derived and ephemeral: recomputed on every evaluation, never cached across
// cycles, since utilization, liquidity, and volatility drift continuously.
type Assessment struct {
	Key             string               `json:"key"`
	RiskScore       float64              `json:"risk_score"`       // [0,100]
	RiskMultiplier  float64              `json:"risk_multiplier"`  // [0.1,1.0]
	ConfidenceScore float64              `json:"confidence_score"` // [0,100]
	BaseAPY         float64              `json:"base_apy"`
	RewardAPY       float64              `json:"reward_apy"`
	RiskAdjustedAPY float64              `json:"risk_adjusted_apy"`
	Factors         FactorBreakdown      `json:"factors"`
	Rewards         []RewardContribution `json:"rewards,omitempty"`
	Degraded        bool                 `json:"degraded"`
	DegradedReason  string               `json:"degraded_reason,omitempty"`
}

// Model scores market records. Safe for concurrent use: tables are read-only
// after construction.
type Model struct {
	tables Tables
}

// NewModel creates a risk model over validated tables.
func NewModel(tables Tables) (*Model, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("risk model: %w", err)
	}
	return &Model{tables: tables}, nil
}

// MustNewModel is NewModel over the built-in default tables.
func MustNewModel() *Model {
	m, err := NewModel(DefaultTables())
	if err != nil {
		panic(err)
	}
	return m
}

// Assess scores one market record. Malformed input never raises: it yields
// the worst-case assessment tagged Degraded, so a single bad record degrades
// ranking instead of aborting the evaluation.
func (m *Model) Assess(rec market.Record, now time.Time) Assessment {
	if reason := malformed(rec); reason != "" {
		log.Warn().Str("market", rec.Key()).Str("reason", reason).
			Msg("Malformed market record, assessing worst case")
		return worstCase(rec.Key(), reason)
	}

	factors := FactorBreakdown{
		Protocol:    m.tables.Protocol.Lookup(rec.Protocol),
		Chain:       m.tables.Chain.Lookup(strconv.FormatInt(rec.ChainID, 10)),
		Asset:       m.tables.Asset.Lookup(rec.Asset),
		Utilization: utilizationRisk(rec.Utilization),
		Liquidity:   liquidityRisk(rec.LiquidityUSD),
		Volatility:  volatilityRisk(rec.Volatility),
		Age:         ageRisk(rec.MarketAgeDays),
	}

	w := m.tables.Weights
	score := factors.Protocol*w.Protocol +
		factors.Chain*w.Chain +
		factors.Asset*w.Asset +
		factors.Utilization*w.Utilization +
		factors.Liquidity*w.Liquidity +
		factors.Volatility*w.Volatility +
		factors.Age*w.Age
	score = clamp(score, 0, 100)

	// A risk score of 100 never fully zeroes yield; the 0.1 floor prevents
	// division-like degeneracy downstream.
	multiplier := clamp((100-score)/100, 0.1, 1.0)

	rewardAPY, contributions := m.rewardAPY(rec.Rewards)

	return Assessment{
		Key:             rec.Key(),
		RiskScore:       score,
		RiskMultiplier:  multiplier,
		ConfidenceScore: confidence(rec, now),
		BaseAPY:         rec.BaseAPY,
		RewardAPY:       rewardAPY,
		RiskAdjustedAPY: (rec.BaseAPY + rewardAPY) * multiplier,
		Factors:         factors,
		Rewards:         contributions,
	}
}

func (m *Model) rewardAPY(rewards []market.RewardEntry) (float64, []RewardContribution) {
	if len(rewards) == 0 {
		return 0, nil
	}

	total := 0.0
	contributions := make([]RewardContribution, 0, len(rewards))
	for _, raw := range rewards {
		if math.IsNaN(raw.EstimatedAPY) || math.IsInf(raw.EstimatedAPY, 0) || raw.EstimatedAPY < 0 {
			continue
		}
		entry := raw.Normalize()
		mult := m.tables.RewardMultiplier(entry.Type)
		effective := entry.EstimatedAPY * mult * entry.Confidence * entry.LiquidityFactor * entry.ClaimFrequency
		total += effective
		contributions = append(contributions, RewardContribution{
			Token:        entry.Token,
			Type:         string(entry.Type),
			RawAPY:       entry.EstimatedAPY,
			Multiplier:   mult,
			EffectiveAPY: effective,
		})
	}
	return total, contributions
}

func malformed(rec market.Record) string {
	switch {
	case rec.Protocol == "":
		return "missing protocol"
	case rec.Asset == "":
		return "missing asset"
	case rec.ChainID <= 0:
		return "missing chain id"
	case math.IsNaN(rec.BaseAPY) || math.IsInf(rec.BaseAPY, 0):
		return "non-finite base APY"
	case rec.BaseAPY < 0:
		return "negative base APY"
	case math.IsInf(rec.Utilization, 0) || math.IsInf(rec.LiquidityUSD, 0) ||
		math.IsInf(rec.Volatility, 0) || math.IsInf(rec.MarketAgeDays, 0):
		return "infinite optional field"
	}
	return ""
}

func worstCase(key, reason string) Assessment {
	return Assessment{
		Key:             key,
		RiskScore:       100,
		RiskMultiplier:  0.1,
		ConfidenceScore: 0,
		RiskAdjustedAPY: 0,
		Degraded:        true,
		DegradedReason:  reason,
	}
}

const missingFactorRisk = 50.0 // neutral score when an optional input is absent

// utilizationRisk rises with utilization, with a sweet-spot dip at 70-80%
// (healthy capital efficiency), then sharply above 90% and 95% where a
// liquidity crunch becomes likely.
func utilizationRisk(u float64) float64 {
	if math.IsNaN(u) {
		return missingFactorRisk
	}
	u = clamp(u, 0, 1)
	switch {
	case u > 0.95:
		return 95
	case u > 0.90:
		return 80
	case u > 0.80:
		return 55
	case u >= 0.70:
		return 25 // sweet spot
	case u >= 0.50:
		return 40
	default:
		return 30
	}
}

// liquidityRisk decreases with USD depth; deeper pools absorb exits.
func liquidityRisk(depth float64) float64 {
	if math.IsNaN(depth) || depth <= 0 {
		return missingFactorRisk
	}
	switch {
	case depth < 100_000:
		return 90
	case depth < 1_000_000:
		return 70
	case depth < 10_000_000:
		return 50
	case depth < 50_000_000:
		return 30
	case depth < 100_000_000:
		return 15
	default:
		return 5
	}
}

// volatilityRisk increases with stddev (supplied as a fraction).
func volatilityRisk(vol float64) float64 {
	if math.IsNaN(vol) {
		return missingFactorRisk
	}
	pct := math.Abs(vol) * 100
	switch {
	case pct >= 50:
		return 95
	case pct >= 30:
		return 80
	case pct >= 20:
		return 65
	case pct >= 10:
		return 45
	case pct >= 5:
		return 25
	default:
		return 10
	}
}

// ageRisk decreases with market age; battle-tested markets carry less
// smart-contract and rug risk.
func ageRisk(days float64) float64 {
	if math.IsNaN(days) || days <= 0 {
		return missingFactorRisk
	}
	switch {
	case days < 7:
		return 90
	case days < 30:
		return 70
	case days < 90:
		return 50
	case days < 180:
		return 35
	case days < 365:
		return 20
	default:
		return 5
	}
}

// confidence starts at 100 and is decremented for each missing optional
// input and for staleness of the record's last update.
func confidence(rec market.Record, now time.Time) float64 {
	score := 100.0

	if math.IsNaN(rec.Utilization) {
		score -= 15
	}
	if math.IsNaN(rec.LiquidityUSD) || rec.LiquidityUSD <= 0 {
		score -= 20
	}
	if math.IsNaN(rec.Volatility) {
		score -= 10
	}
	if math.IsNaN(rec.MarketAgeDays) || rec.MarketAgeDays <= 0 {
		score -= 5
	}
	if len(rec.Rewards) == 0 {
		score -= 10
	}

	switch rec.Staleness(now) {
	case market.StaleVeryOld:
		score -= 30
	case market.StaleOld:
		score -= 15
	case market.StaleAging:
		score -= 5
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
