// Package config defines the top-level configuration for the ipledger node
// tooling and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by IPLEDGER_* environment
// variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Oracle   OracleConfig   `toml:"oracle"`
	Rewards  RewardsConfig  `toml:"rewards"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Attestor AttestorConfig `toml:"attestor"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds deployment-wide ledger parameters.
type LedgerConfig struct {
	// TotalSupply is the fixed supply every token is minted with, in base
	// units.
	TotalSupply uint64 `toml:"total_supply"`
	// TradingFeeBps is the marketplace fee in basis points.
	TradingFeeBps uint64 `toml:"trading_fee_bps"`
}

// OracleConfig holds the price-blend parameters.
type OracleConfig struct {
	EngagementWeight uint64 `toml:"engagement_weight"`
	TradingWeight    uint64 `toml:"trading_weight"`
}

// RewardsConfig holds the reward policy parameters.
type RewardsConfig struct {
	BaseReward uint64 `toml:"base_reward"`
}

// PostgresConfig holds the journal database connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
	RunMigrations bool  `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the price cache and
// event bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// AttestorConfig holds the off-chain feed key registered at boot, plus the
// operator key material the keygen tooling manages.
type AttestorConfig struct {
	// Scheme is "ed25519" or "secp256k1".
	Scheme string `toml:"scheme"`
	// PublicKeyHex is the attestor public key registered with the oracle.
	PublicKeyHex string `toml:"public_key_hex"`

	// Key material for the keygen/encrypt tooling.
	RawPrivateKey    string `toml:"raw_private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			TotalSupply:   1_000_000_000,
			TradingFeeBps: 100,
		},
		Oracle: OracleConfig{
			EngagementWeight: 60,
			TradingWeight:    40,
		},
		Rewards: RewardsConfig{
			BaseReward: 100,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Attestor: AttestorConfig{
			Scheme: "ed25519",
		},
		Mode:     "audit",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies. It is called once
// after Load, before any component is wired.
func (c *Config) Validate() error {
	if c.Ledger.TotalSupply == 0 {
		return fmt.Errorf("config: ledger.total_supply must be positive")
	}
	if c.Ledger.TradingFeeBps > 1000 {
		return fmt.Errorf("config: ledger.trading_fee_bps %d above 1000 cap", c.Ledger.TradingFeeBps)
	}
	if c.Oracle.EngagementWeight+c.Oracle.TradingWeight != 100 {
		return fmt.Errorf("config: oracle weights %d/%d must sum to 100",
			c.Oracle.EngagementWeight, c.Oracle.TradingWeight)
	}
	switch strings.ToLower(c.Attestor.Scheme) {
	case "ed25519", "secp256k1", "":
	default:
		return fmt.Errorf("config: unknown attestor scheme %q", c.Attestor.Scheme)
	}
	switch strings.ToLower(c.Mode) {
	case "node", "audit", "tail", "keygen":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
