// Package konsolaiconfig loads user-level configuration for konsolai.
package konsolaiconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PricingEntry is the per-million-token pricing for one agent model.
type PricingEntry struct {
	InputPerMillion       float64 `yaml:"input_per_million"`
	OutputPerMillion      float64 `yaml:"output_per_million"`
	CacheReadPerMillion   float64 `yaml:"cache_read_per_million"`
	CacheCreatePerMillion float64 `yaml:"cache_create_per_million"`
}

// DefaultPricing reproduces the spec's hardcoded per-million constants
// exactly: input*3 + output*15 + cache_create*0.3 + cache_read*0.3, all /1e6.
var DefaultPricing = PricingEntry{
	InputPerMillion:       3,
	OutputPerMillion:      15,
	CacheReadPerMillion:   0.3,
	CacheCreatePerMillion: 0.3,
}

// PricingTable maps agent_model to its pricing entry.
type PricingTable map[string]PricingEntry

// Lookup returns the entry for model, or DefaultPricing if absent.
func (t PricingTable) Lookup(model string) PricingEntry {
	if e, ok := t[model]; ok {
		return e
	}
	return DefaultPricing
}

// BudgetDefaults holds fallback budget/gate thresholds applied when a
// session does not configure its own.
type BudgetDefaults struct {
	WarningThresholdPercent int     `yaml:"warning_threshold_percent"`
	CPUThresholdPercent     float64 `yaml:"cpu_threshold_percent"`
	CPUDebounceCount        int     `yaml:"cpu_debounce_count"`
	RSSThresholdBytes       uint64  `yaml:"rss_threshold_bytes"`
}

// Config is the root konsolai configuration document, loaded from
// ~/.konsolai/config.yaml.
type Config struct {
	Pricing       PricingTable   `yaml:"pricing"`
	Budget        BudgetDefaults `yaml:"budget"`
	SessionPrefix string         `yaml:"session_prefix"`
	NameTemplate  string         `yaml:"name_template"`
}

func defaultConfig() *Config {
	return &Config{
		Pricing: PricingTable{},
		Budget: BudgetDefaults{
			WarningThresholdPercent: 80,
			CPUThresholdPercent:     95,
			CPUDebounceCount:        6,
			RSSThresholdBytes:       0,
		},
		SessionPrefix: "konsolai",
		NameTemplate:  "{prefix}-{profile}-{id}",
	}
}

// Dir returns the konsolai config directory: ~/.konsolai.
func Dir() string {
	if v := os.Getenv("KONSOLAI_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".konsolai")
}

// Load reads ~/.konsolai/config.yaml. A missing file is not an error: it
// returns the default configuration, mirroring dcosson-h2's
// internal/config.Load behavior (os.IsNotExist -> empty/default config).
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(Dir(), "config.yaml"))
}

// LoadFrom reads a specific config file path.
func LoadFrom(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Pricing == nil {
		cfg.Pricing = PricingTable{}
	}
	if cfg.Budget.WarningThresholdPercent == 0 {
		cfg.Budget.WarningThresholdPercent = 80
	}
	if cfg.Budget.CPUThresholdPercent == 0 {
		cfg.Budget.CPUThresholdPercent = 95
	}
	if cfg.Budget.CPUDebounceCount == 0 {
		cfg.Budget.CPUDebounceCount = 6
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "konsolai"
	}
	if cfg.NameTemplate == "" {
		cfg.NameTemplate = "{prefix}-{profile}-{id}"
	}
	return cfg, nil
}

// EnsureDirExists creates the konsolai config directory (mode 0700) if
// it does not exist, mirroring socketdir.EnsureDir for the config side
// of the user's data directory.
func EnsureDirExists() error {
	return os.MkdirAll(Dir(), 0o700)
}

// Save writes cfg to ~/.konsolai/config.yaml.
func Save(cfg *Config) error {
	return SaveTo(filepath.Join(Dir(), "config.yaml"), cfg)
}

// SaveTo writes cfg to a specific path, creating its parent directory if
// needed. Unlike Registry/MetadataStore, this file is single-writer
// (edited interactively by the operator CLI), so no flock is used.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
