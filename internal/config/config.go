package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// Slicing geometry and output encoding.
	SliceHeight int `env:"SLICE_HEIGHT" envDefault:"1500"`
	JPEGQuality int `env:"JPEG_QUALITY" envDefault:"82"`

	// Source cache lifetime and how often the janitor sweeps it. Entries
	// older than CacheTTL are refetched on access regardless of the sweep.
	CacheTTL           time.Duration `env:"CACHE_TTL" envDefault:"300s"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"60s"`

	// Upstream fetch transport. The user agent and referer are sent as-is;
	// some image hosts refuse requests without browser-looking headers.
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchUserAgent string        `env:"FETCH_USER_AGENT" envDefault:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"`
	FetchReferer   string        `env:"FETCH_REFERER"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`

	VipsMaxCacheMB  int `env:"VIPS_MAX_CACHE_MB" envDefault:"256"`
	VipsConcurrency int `env:"VIPS_CONCURRENCY" envDefault:"1"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SliceHeight <= 0 {
		return fmt.Errorf("SLICE_HEIGHT must be positive, got %d", c.SliceHeight)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be in [1,100], got %d", c.JPEGQuality)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.CacheSweepInterval <= 0 {
		return fmt.Errorf("CACHE_SWEEP_INTERVAL must be positive, got %s", c.CacheSweepInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	return nil
}
