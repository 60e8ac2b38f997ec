package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset selects one supervisor process's slice of work: a label, the
// channel set it subscribes to, the symbol list, a CPU affinity index,
// and per-channel log intervals overriding internal/health's defaults
// (spec.md §6: "label, channel set, symbol source, CPU affinity index,
// per-channel log_interval_s, disable_diff").
type Preset struct {
	Label          string         `yaml:"label"`
	Host           string         `yaml:"host"`
	Market         string         `yaml:"market"`
	Channels       []string       `yaml:"channels"`
	Symbols        []string       `yaml:"symbols"`
	KlineIntervals []string       `yaml:"kline_intervals"`
	CPUAffinity    int            `yaml:"cpu_affinity"`
	DisableDiff    bool           `yaml:"disable_diff"`
	SnapshotLimit  int            `yaml:"snapshot_limit"`
	LogIntervalS   map[string]int `yaml:"log_interval_s"`
}

// Presets is the full preset document: one process per entry.
type Presets struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets loads the preset document from the given path.
func LoadPresets(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}
	for i := range p.Presets {
		if p.Presets[i].Label == "" {
			return nil, fmt.Errorf("preset %d: label is required", i)
		}
		if len(p.Presets[i].Channels) == 0 {
			return nil, fmt.Errorf("preset %q: channels must not be empty", p.Presets[i].Label)
		}
		if len(p.Presets[i].Symbols) == 0 {
			return nil, fmt.Errorf("preset %q: symbols must not be empty", p.Presets[i].Label)
		}
		if p.Presets[i].Host == "" {
			p.Presets[i].Host = "binance.com"
		}
		if p.Presets[i].Market == "" {
			p.Presets[i].Market = "perp_linear"
		}
		if p.Presets[i].SnapshotLimit == 0 {
			p.Presets[i].SnapshotLimit = 1000
		}
	}
	return &p, nil
}

// ByLabel finds the named preset, for `-preset` flag selection in
// cmd/feedline.
func (p *Presets) ByLabel(label string) (*Preset, error) {
	for i := range p.Presets {
		if p.Presets[i].Label == label {
			return &p.Presets[i], nil
		}
	}
	return nil, fmt.Errorf("preset %q not found", label)
}
