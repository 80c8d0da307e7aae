package opportunity

import "fmt"

// Preferences steer opportunity filtering and scoring for one user. They are
// supplied per user and immutable for the duration of one evaluation.
// Improvement and cost thresholds are percentage points (2.0 means 2%).
type Preferences struct {
	RiskTolerance     float64 `yaml:"risk_tolerance" json:"risk_tolerance"`         // [0,1]
	YieldPreference   float64 `yaml:"yield_preference" json:"yield_preference"`     // [0,1]
	MinImprovement    float64 `yaml:"min_improvement" json:"min_improvement"`       // percentage points
	MaxGasCostPercent float64 `yaml:"max_gas_cost_percent" json:"max_gas_cost_percent"`
	IncludeRewards    bool    `yaml:"include_rewards" json:"include_rewards"`
	PreferredChains   []int64 `yaml:"preferred_chains" json:"preferred_chains"`
	MaxRiskScore      float64 `yaml:"max_risk_score" json:"max_risk_score"` // [0,100]
}

// DefaultPreferences returns a moderate profile.
func DefaultPreferences() Preferences {
	return Preferences{
		RiskTolerance:     0.5,
		YieldPreference:   0.5,
		MinImprovement:    1.0,
		MaxGasCostPercent: 1.0,
		IncludeRewards:    true,
		MaxRiskScore:      60,
	}
}

// IsZero reports whether no preference field was set, so loaders can fall
// back to DefaultPreferences instead of a profile that rejects everything.
func (p Preferences) IsZero() bool {
	return p.RiskTolerance == 0 && p.YieldPreference == 0 && p.MinImprovement == 0 &&
		p.MaxGasCostPercent == 0 && !p.IncludeRewards && len(p.PreferredChains) == 0 &&
		p.MaxRiskScore == 0
}

// Validate rejects out-of-range preference values.
func (p Preferences) Validate() error {
	if p.RiskTolerance < 0 || p.RiskTolerance > 1 {
		return fmt.Errorf("risk tolerance %.2f outside [0,1]", p.RiskTolerance)
	}
	if p.YieldPreference < 0 || p.YieldPreference > 1 {
		return fmt.Errorf("yield preference %.2f outside [0,1]", p.YieldPreference)
	}
	if p.MinImprovement < 0 {
		return fmt.Errorf("min improvement %.2f must be >= 0", p.MinImprovement)
	}
	if p.MaxGasCostPercent < 0 {
		return fmt.Errorf("max gas cost percent %.2f must be >= 0", p.MaxGasCostPercent)
	}
	if p.MaxRiskScore < 0 || p.MaxRiskScore > 100 {
		return fmt.Errorf("max risk score %.2f outside [0,100]", p.MaxRiskScore)
	}
	return nil
}

func (p Preferences) prefersChain(chainID int64) bool {
	for _, c := range p.PreferredChains {
		if c == chainID {
			return true
		}
	}
	return false
}
