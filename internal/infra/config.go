package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tyiu/sats-price/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting.
// LoadConfig reads it from YAML and then applies environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Price struct {
		Source             string `yaml:"source"`
		PrimaryCurrency    string `yaml:"primary_currency"`
		RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
		TimeoutSec         int    `yaml:"timeout_sec"`
		MaxAttempts        int    `yaml:"max_attempts"`

		Coinbase struct {
			RestURL        string  `yaml:"rest_url"`
			WSURL          string  `yaml:"ws_url"`
			Stream         bool    `yaml:"stream"`
			RequestsPerSec float64 `yaml:"requests_per_sec"`
		} `yaml:"coinbase"`

		CoinGecko struct {
			BaseURL        string  `yaml:"base_url"`
			APIKey         string  `yaml:"api_key"`
			SecretsFile    string  `yaml:"secrets_file"`
			RequestsPerSec float64 `yaml:"requests_per_sec"`
		} `yaml:"coingecko"`
	} `yaml:"price"`

	Storage struct {
		Path string `yaml:"path"` // empty: <workspace>/data/selection.db
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty: metrics endpoint disabled
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   bool   `yaml:"file"`
	} `yaml:"logging"`

	// sourceFromEnv records that SATS_PRICE_SOURCE overrode the file.
	sourceFromEnv bool
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = AppName
	cfg.App.Version = "1.0.0"
	cfg.Price.Source = domain.SourceCoinbase.Key()
	cfg.Price.PrimaryCurrency = "USD"
	cfg.Price.RefreshIntervalSec = 60
	cfg.Price.TimeoutSec = 10
	cfg.Price.MaxAttempts = 3
	cfg.Price.Coinbase.RestURL = "https://api.coinbase.com"
	cfg.Price.Coinbase.WSURL = "wss://ws-feed.exchange.coinbase.com"
	cfg.Price.Coinbase.RequestsPerSec = 5
	cfg.Price.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
	cfg.Price.CoinGecko.RequestsPerSec = 0.5
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// LoadConfig reads and validates the YAML file at path. Fields absent from
// the file keep their DefaultConfig values. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.Storage.Path != "" {
		cfg.Storage.Path = expand(cfg.Storage.Path)
	}
	if f := cfg.Price.CoinGecko.SecretsFile; f != "" && cfg.Price.CoinGecko.APIKey == "" {
		secrets, err := LoadSecretConfig(expand(f))
		if err != nil {
			return nil, err
		}
		cfg.Price.CoinGecko.APIKey = secrets.API.CoinGecko.APIKey
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if _, err := domain.ParseSourceKind(c.Price.Source); err != nil {
		return err
	}
	if _, err := domain.NormalizeCode(c.Price.PrimaryCurrency); err != nil {
		return fmt.Errorf("primary currency %q: %w", c.Price.PrimaryCurrency, err)
	}
	if c.Price.TimeoutSec <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Price.RefreshIntervalSec < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if c.Price.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}

	if err := validateURL(c.Price.Coinbase.RestURL, "http://", "https://"); err != nil {
		return fmt.Errorf("invalid Coinbase REST URL: %w", err)
	}
	if c.Price.Coinbase.Stream {
		if err := validateURL(c.Price.Coinbase.WSURL, "ws://", "wss://"); err != nil {
			return fmt.Errorf("invalid Coinbase WS URL: %w", err)
		}
	}
	if err := validateURL(c.Price.CoinGecko.BaseURL, "http://", "https://"); err != nil {
		return fmt.Errorf("invalid CoinGecko URL: %w", err)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}

	return nil
}

// SourceKind returns the configured price source.
func (c *Config) SourceKind() domain.SourceKind {
	k, _ := domain.ParseSourceKind(c.Price.Source)
	return k
}

// SourceFromEnv reports whether the price source was forced by environment.
func (c *Config) SourceFromEnv() bool {
	return c.sourceFromEnv
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Price.TimeoutSec) * time.Second
}

// RefreshInterval returns the background refresh period; zero disables it.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Price.RefreshIntervalSec) * time.Second
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("empty URL")
	}
	if _, err := url.Parse(raw); err != nil {
		return err
	}
	for _, s := range schemes {
		if strings.HasPrefix(raw, s) {
			return nil
		}
	}
	return fmt.Errorf("%s: scheme must be one of %v", raw, schemes)
}

// overrideWithEnv applies environment variables, which take precedence over
// the config file.
func overrideWithEnv(cfg *Config) {
	if src := os.Getenv("SATS_PRICE_SOURCE"); src != "" {
		cfg.Price.Source = src
		cfg.sourceFromEnv = true
	}
	if cur := os.Getenv("SATS_PRIMARY_CURRENCY"); cur != "" {
		cfg.Price.PrimaryCurrency = cur
	}
	if key := os.Getenv("SATS_COINGECKO_API_KEY"); key != "" {
		cfg.Price.CoinGecko.APIKey = key
	}
}
