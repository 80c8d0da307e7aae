package market

import (
	"fmt"
	"math"
	"time"
)

// RewardType tags the kind of token a market pays incentives in. The tag
// drives the haircut applied to the reward's estimated APY downstream.
type RewardType string

const (
	RewardGovernance RewardType = "governance"
	RewardPoints     RewardType = "points"
	RewardStable     RewardType = "stable"
	RewardNative     RewardType = "native"
)

// RewardEntry describes one incentive stream attached to a market.
type RewardEntry struct {
	Token           string     `json:"token"`
	Type            RewardType `json:"type"`
	EstimatedAPY    float64    `json:"estimated_apy"`    // percent
	Confidence      float64    `json:"confidence"`       // [0,1]
	LiquidityFactor float64    `json:"liquidity_factor"` // [0,1]
	ClaimFrequency  float64    `json:"claim_frequency"`  // [0,1]
}

// Reward factor defaults, applied once at ingestion. Sources frequently omit
// these fields, and consumers should never see an out-of-range factor.
const (
	defaultRewardConfidence = 0.7
	defaultRewardLiquidity  = 0.8
	defaultRewardClaimFreq  = 0.9
)

// Normalize clamps reward factors into [0,1] and fills unset (non-positive or
// non-finite) factors with the documented defaults.
func (r RewardEntry) Normalize() RewardEntry {
	r.Confidence = normalizeFactor(r.Confidence, defaultRewardConfidence)
	r.LiquidityFactor = normalizeFactor(r.LiquidityFactor, defaultRewardLiquidity)
	r.ClaimFrequency = normalizeFactor(r.ClaimFrequency, defaultRewardClaimFreq)
	return r
}

func normalizeFactor(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return def
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

// Record is a point-in-time snapshot of one lending/yield market on one
// chain. Records are replaced wholesale on each refresh cycle; there are no
// merge semantics. Optional numeric fields use NaN to mean "not reported".
type Record struct {
	Protocol      string        `json:"protocol"`
	ChainID       int64         `json:"chain_id"`
	Asset         string        `json:"asset"`
	BaseAPY       float64       `json:"base_apy"` // percent
	Rewards       []RewardEntry `json:"rewards,omitempty"`
	Utilization   float64       `json:"utilization"`     // [0,1], NaN when unknown
	LiquidityUSD  float64       `json:"liquidity_usd"`   // depth, NaN when unknown
	Volatility    float64       `json:"volatility"`      // stddev as a fraction, NaN when unknown
	MarketAgeDays float64       `json:"market_age_days"` // NaN when unknown
	TVL           float64       `json:"tvl"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Key identifies a market within a snapshot: one record per
// (chain, protocol, asset).
func (r Record) Key() string {
	return fmt.Sprintf("%d:%s:%s", r.ChainID, r.Protocol, r.Asset)
}

// Age reports how stale the record is relative to now.
func (r Record) Age(now time.Time) time.Duration {
	if r.UpdatedAt.IsZero() {
		return 0
	}
	age := now.Sub(r.UpdatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// StaleTier buckets record age the way the risk model discounts confidence.
// Stale records are tagged, never dropped.
type StaleTier string

const (
	StaleFresh    StaleTier = "fresh"
	StaleAging    StaleTier = "aging"    // > 6h
	StaleOld      StaleTier = "old"      // > 12h
	StaleVeryOld  StaleTier = "very_old" // > 24h
)

// Staleness returns the tier for the record at the given time.
func (r Record) Staleness(now time.Time) StaleTier {
	age := r.Age(now)
	switch {
	case age > 24*time.Hour:
		return StaleVeryOld
	case age > 12*time.Hour:
		return StaleOld
	case age > 6*time.Hour:
		return StaleAging
	default:
		return StaleFresh
	}
}

// Position is a user's holding in one market. Positions are owned by the
// external position store; the engine only reads them.
type Position struct {
	User       string    `json:"user"`
	ChainID    int64     `json:"chain_id"`
	Protocol   string    `json:"protocol"`
	Asset      string    `json:"asset"`
	Amount     float64   `json:"amount"`
	ValueUSD   float64   `json:"value_usd"`
	CurrentAPY float64   `json:"current_apy"` // percent
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key identifies the market the position sits in.
func (p Position) Key() string {
	return fmt.Sprintf("%d:%s:%s", p.ChainID, p.Protocol, p.Asset)
}
