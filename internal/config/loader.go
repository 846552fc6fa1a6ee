package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies IPLEDGER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known IPLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "IPLEDGER_MODE")
	setStr(&cfg.LogLevel, "IPLEDGER_LOG_LEVEL")

	setU64(&cfg.Ledger.TotalSupply, "IPLEDGER_TOTAL_SUPPLY")
	setU64(&cfg.Ledger.TradingFeeBps, "IPLEDGER_TRADING_FEE_BPS")

	setStr(&cfg.Postgres.DSN, "IPLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "IPLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "IPLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "IPLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "IPLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "IPLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "IPLEDGER_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "IPLEDGER_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "IPLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "IPLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "IPLEDGER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "IPLEDGER_REDIS_TLS")

	setStr(&cfg.Attestor.Scheme, "IPLEDGER_ATTESTOR_SCHEME")
	setStr(&cfg.Attestor.PublicKeyHex, "IPLEDGER_ATTESTOR_PUBKEY")
	setStr(&cfg.Attestor.RawPrivateKey, "IPLEDGER_ATTESTOR_PRIVATE_KEY")
	setStr(&cfg.Attestor.EncryptedKeyPath, "IPLEDGER_ATTESTOR_KEY_PATH")
	setStr(&cfg.Attestor.KeyPassword, "IPLEDGER_ATTESTOR_KEY_PASSWORD")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setU64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
