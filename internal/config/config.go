// Package config holds the service configuration: defaults, optional YAML
// file, and validation. Flag overrides are applied by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/shadowplay/internal/errs"
)

type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	PublicBaseURL string `yaml:"public_base_url"`

	SessionsDir   string `yaml:"sessions_dir"`
	OutputsDir    string `yaml:"outputs_dir"`
	ScenesDir     string `yaml:"scenes_dir"`
	CharactersDir string `yaml:"characters_dir"`

	Workers      int    `yaml:"workers"`
	VideoEncoder string `yaml:"video_encoder"`
	Quality      int    `yaml:"quality"`
	DebugOverlay bool   `yaml:"debug_overlay"`

	MaxAgeDays        int     `yaml:"max_age_days"`
	EmergencyFreeGB   float64 `yaml:"emergency_free_gb"`
	EmergencyTargetGB float64 `yaml:"emergency_target_gb"`
	SweepIntervalMin  int     `yaml:"sweep_interval_min"`

	LogMode string `yaml:"log_mode"`

	BuildVersion string `yaml:"-"`
}

// Default returns the configuration the service runs with when no file and
// no flags are given. Paths are relative to the working directory the way
// kiosk deployments lay them out.
func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		SessionsDir:       "data/sessions",
		OutputsDir:        "data/outputs",
		ScenesDir:         "config/scenes",
		CharactersDir:     "config/characters",
		Workers:           2,
		Quality:           0, // 0 = подобрать под найденный кодировщик
		MaxAgeDays:        7,
		EmergencyFreeGB:   2,
		EmergencyTargetGB: 3,
		SweepIntervalMin:  60,
		LogMode:           "dev",
	}
}

// Load reads path over the defaults. An empty path returns the defaults
// unchanged; a named file that cannot be read or parsed is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse config %s: %v", errs.ErrValidation, path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", errs.ErrValidation, c.Workers)
	}
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("%w: quality must be 0..100, got %d", errs.ErrValidation, c.Quality)
	}
	if c.MaxAgeDays < 1 {
		return fmt.Errorf("%w: max_age_days must be at least 1, got %d", errs.ErrValidation, c.MaxAgeDays)
	}
	if c.EmergencyTargetGB < c.EmergencyFreeGB {
		return fmt.Errorf("%w: emergency_target_gb %.1f below emergency_free_gb %.1f",
			errs.ErrValidation, c.EmergencyTargetGB, c.EmergencyFreeGB)
	}
	for name, dir := range map[string]string{
		"sessions_dir":   c.SessionsDir,
		"outputs_dir":    c.OutputsDir,
		"scenes_dir":     c.ScenesDir,
		"characters_dir": c.CharactersDir,
	} {
		if dir == "" {
			return fmt.Errorf("%w: %s is empty", errs.ErrValidation, name)
		}
	}
	return nil
}

func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMin) * time.Minute
}

// EmergencyThreshold is the free-space floor in bytes below which eviction
// starts, EmergencyTarget the level eviction frees up to.
func (c *Config) EmergencyThreshold() uint64 {
	return uint64(c.EmergencyFreeGB * float64(1<<30))
}

func (c *Config) EmergencyTarget() uint64 {
	return uint64(c.EmergencyTargetGB * float64(1<<30))
}
