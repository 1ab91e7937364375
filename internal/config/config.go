// Package config loads runtime settings. A TOML file supplies the base when
// present; environment variables override it field by field.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Port string `toml:"port"`

	// Store
	StoreRoot string `toml:"store_root"`

	// Auth for the HTTP surface
	APIKey string `toml:"api_key"`

	// Vision extraction
	AnthropicAPIKey   string `toml:"anthropic_api_key"`
	AnthropicModel    string `toml:"anthropic_model"`
	RequestsPerMinute int    `toml:"requests_per_minute"`

	// Pipeline concurrency
	Workers       int `toml:"workers"`
	RegionWorkers int `toml:"region_workers"`

	// Rendering
	DPI     int `toml:"dpi"`
	CropPad int `toml:"crop_pad"`

	// Resume behavior
	StrictResume bool `toml:"strict_resume"`

	// PDF probing
	PdfinfoFallback bool `toml:"pdfinfo_fallback"`

	ShutdownTimeout time.Duration `toml:"-"`
}

func defaults() Config {
	return Config{
		Port:              "8090",
		StoreRoot:         "./planproof-data",
		AnthropicModel:    "claude-sonnet-4-5-20250929",
		RequestsPerMinute: 50,
		Workers:           4,
		RegionWorkers:     3,
		DPI:               150,
		CropPad:           20,
		PdfinfoFallback:   true,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Load builds the configuration: defaults, then the TOML file at path (or
// $PLANPROOF_CONFIG when path is empty), then environment overrides. A
// missing file is fine; a malformed one is not.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("PLANPROOF_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// File optional.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.StoreRoot = envOr("PLANPROOF_STORE_ROOT", cfg.StoreRoot)
	cfg.APIKey = envOr("PLANPROOF_API_KEY", cfg.APIKey)
	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicModel = envOr("ANTHROPIC_MODEL", cfg.AnthropicModel)
	cfg.RequestsPerMinute = envInt("PLANPROOF_REQUESTS_PER_MINUTE", cfg.RequestsPerMinute)
	cfg.Workers = envInt("PLANPROOF_WORKERS", cfg.Workers)
	cfg.RegionWorkers = envInt("PLANPROOF_REGION_WORKERS", cfg.RegionWorkers)
	cfg.DPI = envInt("PLANPROOF_DPI", cfg.DPI)
	cfg.CropPad = envInt("PLANPROOF_CROP_PAD", cfg.CropPad)
	cfg.StrictResume = envBool("PLANPROOF_STRICT_RESUME", cfg.StrictResume)
	cfg.PdfinfoFallback = envBool("PLANPROOF_PDFINFO_FALLBACK", cfg.PdfinfoFallback)
	cfg.ShutdownTimeout = envDuration("PLANPROOF_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RegionWorkers <= 0 {
		cfg.RegionWorkers = 3
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.CropPad < 0 {
		cfg.CropPad = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return cfg, nil
}

// ValidateIngest checks the fields ingestion cannot run without. Query-only
// commands skip this.
func (c Config) ValidateIngest() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return nil
}

// ValidateServer checks the fields the HTTP server cannot start without.
func (c Config) ValidateServer() error {
	if c.APIKey == "" {
		return fmt.Errorf("PLANPROOF_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
