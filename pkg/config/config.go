package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator"
	"github.com/levenlabs/go-lflag"

	"github.com/suncharge/suncharge/pkg/types"
)

// Config is the site configuration loaded from config.json. It is read once
// per run and never mutated afterwards.
type Config struct {
	Tesla    types.TeslaCredentials    `json:"tesla"`
	AlphaESS types.AlphaESSCredentials `json:"alphaess"`
	Charging types.ChargePolicy        `json:"charging"`
}

// Defaults for optional charging thresholds. Volts matches a typical
// single-phase inverter output; MinAmps exists because vehicle charging is
// inefficient at very low currents.
const (
	defaultVolts   = 240.0
	defaultPhases  = 1
	defaultMinAmps = 1
	defaultMaxAmps = 16
)

// Configured sets up the config source based on flags.
func Configured() *Source {
	path := lflag.String("config", "config.json", "Path to the site configuration JSON file")

	s := &Source{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// Source knows where the configuration lives once flags are parsed.
type Source struct {
	path string
}

// Path returns the configured file path.
func (s *Source) Path() string {
	return s.path
}

// Load reads and validates the configuration from the configured path.
func (s *Source) Load() (Config, error) {
	return Load(s.path)
}

// Load reads, defaults, and validates the configuration at path. Any
// failure, from a missing file to a missing required key, is returned as a
// *types.ConfigError and no partial configuration escapes.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &types.ConfigError{Path: path, Err: err}
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, &types.ConfigError{Path: path, Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, &types.ConfigError{Path: path, Err: err}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Charging.Volts == 0 {
		c.Charging.Volts = defaultVolts
	}
	if c.Charging.Phases == 0 {
		c.Charging.Phases = defaultPhases
	}
	if c.Charging.MinAmps == 0 {
		c.Charging.MinAmps = defaultMinAmps
	}
	if c.Charging.MaxAmps == 0 {
		c.Charging.MaxAmps = defaultMaxAmps
	}
}
