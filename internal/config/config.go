// Package config reads the worker's process configuration from environment
// variables into an explicit struct that is injected at startup; nothing in
// the pipeline reaches for ambient state.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config is the full configuration surface of the oracle worker.
type Config struct {
	// RPCURL is the ledger JSON-RPC endpoint.
	RPCURL string `env:"ORACLE_RPC_URL,required"`
	// RegistryAddress is the EventRegistry contract address.
	RegistryAddress string `env:"ORACLE_REGISTRY_ADDRESS,required"`
	// PrivateKey is the oracle's hex-encoded secp256k1 signing key. The
	// variable is unset from the process environment after parsing.
	PrivateKey string `env:"ORACLE_PRIVATE_KEY,required,unset"`
	// DatabaseDSN locates the durable store shared with the backend.
	DatabaseDSN string `env:"ORACLE_DATABASE_DSN" envDefault:"veripass.db"`
	// PollIntervalMS is the fixed poll cadence in milliseconds.
	PollIntervalMS int `env:"ORACLE_POLL_INTERVAL_MS" envDefault:"30000"`
}

// Load parses and validates the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if cfg.PollIntervalMS <= 0 {
		return nil, errors.Errorf("poll interval must be positive, got %d ms", cfg.PollIntervalMS)
	}
	return cfg, nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
