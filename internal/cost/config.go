package cost

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads cost figures from a YAML file, filling omitted fields
// with defaults. A missing file is returned as-is so callers can fall back.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read cost config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse cost config: %w", err)
	}

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
	return cfg, nil
}
