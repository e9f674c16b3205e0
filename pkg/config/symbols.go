package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolOverride tunes protective-order behavior for a single symbol.
// Zero values mean "use the global default".
type SymbolOverride struct {
	Leverage          int     `yaml:"leverage"`
	TakeProfitPercent float64 `yaml:"take_profit_percent"`
	StopLossPercent   float64 `yaml:"stop_loss_percent"`
}

type symbolsFile struct {
	Symbols map[string]SymbolOverride `yaml:"symbols"`
}

// LoadSymbolOverrides reads the optional per-symbol overrides file.
// A missing path returns an empty map, not an error.
func LoadSymbolOverrides(path string) (map[string]SymbolOverride, error) {
	if path == "" {
		return map[string]SymbolOverride{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]SymbolOverride{}, nil
		}
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	var f symbolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse symbols file: %w", err)
	}
	if f.Symbols == nil {
		f.Symbols = map[string]SymbolOverride{}
	}
	return f.Symbols, nil
}
