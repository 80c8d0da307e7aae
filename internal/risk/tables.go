package risk

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/yieldrun/internal/market"
)

// Weights define how much each factor contributes to the composite risk
// score. They must sum to 1.0; a malformed table fails the load rather than
// silently skewing every assessment.
type Weights struct {
	Protocol    float64 `yaml:"protocol"`
	Chain       float64 `yaml:"chain"`
	Asset       float64 `yaml:"asset"`
	Utilization float64 `yaml:"utilization"`
	Liquidity   float64 `yaml:"liquidity"`
	Volatility  float64 `yaml:"volatility"`
	Age         float64 `yaml:"age"`
}

// DefaultWeights returns the production factor weights.
func DefaultWeights() Weights {
	return Weights{
		Protocol:    0.25,
		Chain:       0.20,
		Asset:       0.15,
		Utilization: 0.15,
		Liquidity:   0.10,
		Volatility:  0.10,
		Age:         0.05,
	}
}

// ScoreTable maps a key (protocol name, chain id, asset symbol) to a risk
// score in [0,100]. Default is required and covers every unknown key; a
// lookup never errors.
type ScoreTable struct {
	Scores  map[string]float64 `yaml:"scores"`
	Default *float64           `yaml:"default"`
}

// Lookup returns the score for key, falling back to the table default.
func (t ScoreTable) Lookup(key string) float64 {
	if s, ok := t.Scores[key]; ok {
		return s
	}
	if t.Default != nil {
		return *t.Default
	}
	return 50.0
}

func (t ScoreTable) validate(name string) error {
	if t.Default == nil {
		return fmt.Errorf("%s table: default entry is required", name)
	}
	if *t.Default < 0 || *t.Default > 100 {
		return fmt.Errorf("%s table: default %.2f outside [0,100]", name, *t.Default)
	}
	for key, score := range t.Scores {
		if math.IsNaN(score) || score < 0 || score > 100 {
			return fmt.Errorf("%s table: score %.2f for %q outside [0,100]", name, score, key)
		}
	}
	return nil
}

// Tables hold every static lookup the risk model consults.
type Tables struct {
	Weights           Weights            `yaml:"weights"`
	Protocol          ScoreTable         `yaml:"protocol"`
	Chain             ScoreTable         `yaml:"chain"` // keyed by decimal chain id
	Asset             ScoreTable         `yaml:"asset"`
	RewardMultipliers map[string]float64 `yaml:"reward_multipliers"`
	RewardDefault     float64            `yaml:"reward_default"`
}

func f64(v float64) *float64 { return &v }

// DefaultTables returns the built-in risk tables, used when no config file
// is supplied. Values mirror config/risk.yaml.
func DefaultTables() Tables {
	return Tables{
		Weights: DefaultWeights(),
		Protocol: ScoreTable{
			Scores: map[string]float64{
				"aave":     10,
				"compound": 12,
				"morpho":   20,
				"spark":    22,
				"curve":    25,
				"radiant":  45,
			},
			Default: f64(50),
		},
		Chain: ScoreTable{
			Scores: map[string]float64{
				"1":     10, // ethereum
				"42161": 20, // arbitrum
				"10":    20, // optimism
				"8453":  25, // base
				"137":   30, // polygon
				"43114": 35, // avalanche
			},
			Default: f64(55),
		},
		Asset: ScoreTable{
			Scores: map[string]float64{
				"USDC": 5,
				"DAI":  8,
				"USDT": 12,
				"USDE": 18,
				"ETH":  20,
				"WBTC": 22,
			},
			Default: f64(40),
		},
		RewardMultipliers: map[string]float64{
			string(market.RewardGovernance): 0.70,
			string(market.RewardPoints):     0.30,
			string(market.RewardStable):     0.95,
			string(market.RewardNative):     0.85,
		},
		RewardDefault: 0.50,
	}
}

// Validate fails fast on a malformed table so a bad config is caught at
// load time instead of defaulting every lookup at assessment time.
func (t Tables) Validate() error {
	sum := t.Weights.Protocol + t.Weights.Chain + t.Weights.Asset +
		t.Weights.Utilization + t.Weights.Liquidity + t.Weights.Volatility + t.Weights.Age
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("factor weights sum to %.4f, want 1.0", sum)
	}
	if err := t.Protocol.validate("protocol"); err != nil {
		return err
	}
	if err := t.Chain.validate("chain"); err != nil {
		return err
	}
	if err := t.Asset.validate("asset"); err != nil {
		return err
	}
	for tag, mult := range t.RewardMultipliers {
		if math.IsNaN(mult) || mult < 0 || mult > 1 {
			return fmt.Errorf("reward multiplier %.2f for %q outside [0,1]", mult, tag)
		}
	}
	if t.RewardDefault < 0 || t.RewardDefault > 1 {
		return fmt.Errorf("reward default multiplier %.2f outside [0,1]", t.RewardDefault)
	}
	return nil
}

// RewardMultiplier returns the haircut for a reward type tag.
func (t Tables) RewardMultiplier(tag market.RewardType) float64 {
	if m, ok := t.RewardMultipliers[string(tag)]; ok {
		return m
	}
	return t.RewardDefault
}

// LoadTables reads risk tables from a YAML file and validates them.
func LoadTables(path string) (Tables, error) {
	var tables Tables

	data, err := os.ReadFile(path)
	if err != nil {
		return tables, fmt.Errorf("failed to read risk tables: %w", err)
	}
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return tables, fmt.Errorf("failed to parse risk tables: %w", err)
	}

	// Zero weights means the section was omitted entirely; fall back to the
	// production weights rather than rejecting the file.
	if tables.Weights == (Weights{}) {
		tables.Weights = DefaultWeights()
	}
	if tables.RewardDefault == 0 {
		tables.RewardDefault = 0.50
	}

	if err := tables.Validate(); err != nil {
		return tables, fmt.Errorf("invalid risk tables %s: %w", path, err)
	}
	return tables, nil
}
