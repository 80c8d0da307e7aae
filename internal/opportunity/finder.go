package opportunity

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/cost"
	"github.com/sawpanic/yieldrun/internal/market"
	"github.com/sawpanic/yieldrun/internal/risk"
)

// Tier labels how strongly an opportunity clears the user's bar.
type Tier string

const (
	TierRecommended Tier = "RECOMMENDED"
	TierConsider    Tier = "CONSIDER"
)

// MaxOpportunities caps the ranked list returned per evaluation.
const MaxOpportunities = 10

// Opportunity is one candidate move that survived every gate. Computed on
// demand; never persisted.
type Opportunity struct {
	Source           market.Position    `json:"source"`
	Target           market.Record      `json:"target"`
	Assessment       risk.Assessment    `json:"assessment"`
	YieldImprovement float64            `json:"yield_improvement"` // percentage points
	SwitchingCost    cost.SwitchingCost `json:"switching_cost"`
	NetImprovement   float64            `json:"net_improvement"`
	BreakEvenDays    float64            `json:"break_even_days"`
	PreferenceScore  float64            `json:"preference_score"` // [0,100]
	Tier             Tier               `json:"tier"`
}

// Rejection records which gate dropped a candidate, in the same evidence
// shape the gates themselves use.
type Rejection struct {
	Key       string  `json:"key"`
	Gate      string  `json:"gate"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Summary aggregates one evaluation's surviving set.
type Summary struct {
	Candidates     int     `json:"candidates"`
	Survivors      int     `json:"survivors"`
	Recommended    int     `json:"recommended"`
	BestNet        float64 `json:"best_net"`
	MeanNet        float64 `json:"mean_net"`
}

// Comparison is the full result of ranking candidates against a position.
type Comparison struct {
	Current       risk.Assessment `json:"current"`
	Opportunities []Opportunity   `json:"opportunities"`
	Rejections    []Rejection     `json:"rejections,omitempty"`
	Summary       Summary         `json:"summary"`
	EvaluatedAt   time.Time       `json:"evaluated_at"`
}

// Finder ranks candidate markets against a current position. Pure and
// CPU-bound apart from the estimator's optional oracle call; safe to run
// concurrently over an immutable snapshot.
type Finder struct {
	model     *risk.Model
	estimator cost.Estimator
}

// NewFinder creates an opportunity finder.
func NewFinder(model *risk.Model, estimator cost.Estimator) *Finder {
	return &Finder{model: model, estimator: estimator}
}

// Compare evaluates every candidate against the current position under the
// user's preferences. The four gates are a strict conjunction: one failing
// predicate drops the candidate regardless of the other dimensions, keeping
// the recommendation set small and conservative. Identical inputs produce
// identical output.
func (f *Finder) Compare(ctx context.Context, current market.Position, currentRecord market.Record, candidates []market.Record, prefs Preferences, nativePriceUSD float64) Comparison {
	now := time.Now().UTC()
	currentAssessment := f.model.Assess(currentRecord, now)

	surviving := make([]Opportunity, 0, len(candidates))
	rejections := make([]Rejection, 0)

	for _, candidate := range candidates {
		if candidate.Key() == current.Key() {
			continue // already there
		}

		assessment := f.model.Assess(candidate, now)

		// Gate 1: risk ceiling.
		if assessment.RiskScore > prefs.MaxRiskScore {
			rejections = append(rejections, Rejection{
				Key: candidate.Key(), Gate: "max_risk",
				Value: assessment.RiskScore, Threshold: prefs.MaxRiskScore,
			})
			continue
		}

		// Gate 2: minimum improvement over the current position.
		improvement := assessment.RiskAdjustedAPY - currentAssessment.RiskAdjustedAPY
		if improvement < prefs.MinImprovement {
			rejections = append(rejections, Rejection{
				Key: candidate.Key(), Gate: "min_improvement",
				Value: improvement, Threshold: prefs.MinImprovement,
			})
			continue
		}

		// Gate 3: switching cost ceiling.
		sc := f.estimator.Estimate(ctx, current, candidate, nativePriceUSD)
		if sc.TotalCostPercent > prefs.MaxGasCostPercent {
			rejections = append(rejections, Rejection{
				Key: candidate.Key(), Gate: "max_gas_cost",
				Value: sc.TotalCostPercent, Threshold: prefs.MaxGasCostPercent,
			})
			continue
		}

		// Gate 4: net of costs, the move must still be positive.
		net := improvement - sc.AnnualizedCostPercent
		if net <= 0 {
			rejections = append(rejections, Rejection{
				Key: candidate.Key(), Gate: "net_improvement",
				Value: net, Threshold: 0,
			})
			continue
		}

		tier := TierConsider
		if net > prefs.MinImprovement {
			tier = TierRecommended
		}

		surviving = append(surviving, Opportunity{
			Source:           current,
			Target:           candidate,
			Assessment:       assessment,
			YieldImprovement: improvement,
			SwitchingCost:    sc,
			NetImprovement:   net,
			BreakEvenDays:    sc.TotalCostPercent / (improvement / 365),
			PreferenceScore:  preferenceScore(assessment, candidate, prefs),
			Tier:             tier,
		})
	}

	// Rank by net improvement, best first. Key tie-break keeps the order
	// deterministic across runs with identical inputs.
	sort.SliceStable(surviving, func(i, j int) bool {
		if surviving[i].NetImprovement != surviving[j].NetImprovement {
			return surviving[i].NetImprovement > surviving[j].NetImprovement
		}
		return surviving[i].Target.Key() < surviving[j].Target.Key()
	})

	summary := summarize(len(candidates), surviving)
	if len(surviving) > MaxOpportunities {
		surviving = surviving[:MaxOpportunities]
	}

	log.Debug().
		Str("position", current.Key()).
		Int("candidates", summary.Candidates).
		Int("survivors", summary.Survivors).
		Float64("best_net", summary.BestNet).
		Msg("Opportunity comparison completed")

	return Comparison{
		Current:       currentAssessment,
		Opportunities: surviving,
		Rejections:    rejections,
		Summary:       summary,
		EvaluatedAt:   now,
	}
}

// preferenceScore blends the user's risk/yield lean into a 0-100 score used
// for display ordering within a tier. It never gates.
func preferenceScore(a risk.Assessment, candidate market.Record, prefs Preferences) float64 {
	score := 50.0

	// Riskier-than-neutral candidates cost more the less risk the user
	// tolerates; safer ones earn the inverse.
	score -= (a.RiskScore - 50) * (1 - prefs.RiskTolerance)

	score += a.RiskAdjustedAPY * prefs.YieldPreference

	if prefs.prefersChain(candidate.ChainID) {
		score += 10
	}

	// Discourage reward-dependent opportunities the user opted out of.
	if !prefs.IncludeRewards {
		score -= a.RewardAPY
	}

	return math.Max(0, math.Min(100, score))
}

func summarize(candidates int, surviving []Opportunity) Summary {
	s := Summary{Candidates: candidates, Survivors: len(surviving)}
	if len(surviving) == 0 {
		return s
	}

	total := 0.0
	for _, opp := range surviving {
		total += opp.NetImprovement
		if opp.Tier == TierRecommended {
			s.Recommended++
		}
	}
	s.BestNet = surviving[0].NetImprovement
	s.MeanNet = total / float64(len(surviving))
	return s
}
