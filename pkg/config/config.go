// Package config loads service configuration from config.yaml with
// environment-variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"opm_backsolve/pkg/core/pricing"
	"opm_backsolve/pkg/logging"
)

// Config is the service configuration.
type Config struct {
	Port        string         `yaml:"port"`
	DatabaseURL string         `yaml:"database_url"`
	PresetsFile string         `yaml:"presets_file"`
	Logging     logging.Config `yaml:"logging"`

	// Black-Scholes defaults applied when requests omit overrides.
	Defaults pricing.Params `yaml:"black_scholes_defaults"`
}

// Load reads the config file and applies environment overrides. A
// missing file is fine: env vars and built-in defaults carry a local
// run.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port: "8090",
		Defaults: pricing.Params{
			TimeToLiquidity: 2.0,
			Volatility:      0.50,
			RiskFreeRate:    0.04,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("malformed config %s: %w", path, err)
		}
	}

	// Deployment settings win over the file.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PRESETS_FILE"); v != "" {
		cfg.PresetsFile = v
	}
	return cfg, nil
}
