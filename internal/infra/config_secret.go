package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig is the layout of the optional secrets file referenced by
// price.coingecko.secrets_file.
type SecretConfig struct {
	API struct {
		CoinGecko struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"coingecko"`
	} `yaml:"api"`
}

// LoadSecretConfig loads API keys from a separate yaml file.
// It returns error if file is missing (Fail Fast).
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var cfg SecretConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}

	return &cfg, nil
}
