package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/market"
)

func TestDefaultTables_Valid(t *testing.T) {
	require.NoError(t, DefaultTables().Validate())
}

func TestTables_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Tables)
		wantErr string
	}{
		{
			name:    "weights_must_sum_to_one",
			mutate:  func(tb *Tables) { tb.Weights.Protocol = 0.5 },
			wantErr: "weights sum",
		},
		{
			name:    "protocol_default_required",
			mutate:  func(tb *Tables) { tb.Protocol.Default = nil },
			wantErr: "default entry is required",
		},
		{
			name:    "score_out_of_range",
			mutate:  func(tb *Tables) { tb.Asset.Scores["USDC"] = 120 },
			wantErr: "outside [0,100]",
		},
		{
			name:    "reward_multiplier_out_of_range",
			mutate:  func(tb *Tables) { tb.RewardMultipliers["governance"] = 1.5 },
			wantErr: "outside [0,1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := DefaultTables()
			tt.mutate(&tables)
			err := tables.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScoreTable_Lookup(t *testing.T) {
	tables := DefaultTables()

	assert.Equal(t, 10.0, tables.Protocol.Lookup("aave"))
	assert.Equal(t, 50.0, tables.Protocol.Lookup("never-heard-of-it"))
	assert.Equal(t, 55.0, tables.Chain.Lookup("777"))
}

func TestTables_RewardMultiplier(t *testing.T) {
	tables := DefaultTables()

	assert.Equal(t, 0.30, tables.RewardMultiplier(market.RewardPoints))
	assert.Equal(t, 0.50, tables.RewardMultiplier("airdrop"))
}

func TestLoadTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	content := `
weights:
  protocol: 0.30
  chain: 0.20
  asset: 0.15
  utilization: 0.15
  liquidity: 0.10
  volatility: 0.05
  age: 0.05
protocol:
  default: 60
  scores:
    aave: 8
chain:
  default: 55
  scores:
    "1": 10
asset:
  default: 40
  scores:
    USDC: 5
reward_multipliers:
  governance: 0.6
reward_default: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	assert.Equal(t, 0.30, tables.Weights.Protocol)
	assert.Equal(t, 8.0, tables.Protocol.Lookup("aave"))
	assert.Equal(t, 60.0, tables.Protocol.Lookup("unknown"))
	assert.Equal(t, 0.6, tables.RewardMultiplier(market.RewardGovernance))
	assert.Equal(t, 0.4, tables.RewardMultiplier("mystery"))
}

func TestLoadTables_OmittedWeightsUseDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	content := `
protocol:
  default: 50
chain:
  default: 55
asset:
  default: 40
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), tables.Weights)
	assert.Equal(t, 0.50, tables.RewardDefault)
}

func TestLoadTables_Missing(t *testing.T) {
	_, err := LoadTables(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadTables_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	content := `
weights:
  protocol: 0.90
  chain: 0.20
  asset: 0.15
  utilization: 0.15
  liquidity: 0.10
  volatility: 0.10
  age: 0.05
protocol:
  default: 50
chain:
  default: 55
asset:
  default: 40
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadTables(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights sum")
}
