// Package config defines the top-level configuration for insightra and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by INSIGHTRA_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Admin    AdminConfig    `toml:"admin"`
	Sim      SimConfig      `toml:"sim"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig describes the target network and the deployed contracts.
type ChainConfig struct {
	ChainID                int64    `toml:"chain_id"`
	ChainName              string   `toml:"chain_name"`
	RPCURL                 string   `toml:"rpc_url"`
	ExplorerURL            string   `toml:"explorer_url"`
	WalletConnectProjectID string   `toml:"walletconnect_project_id"`
	BinaryFactory          string   `toml:"binary_factory"`
	CategoricalFactory     string   `toml:"categorical_factory"`
	ScalarFactory          string   `toml:"scalar_factory"`
	Oracle                 string   `toml:"oracle"`
	Arbitrator             string   `toml:"arbitrator"`
	BondToken              string   `toml:"bond_token"`
	DefaultCollateral      string   `toml:"default_collateral"`
	StartBlock             uint64   `toml:"start_block"`
	LogBatchBlocks         uint64   `toml:"log_batch_blocks"`
	ReceiptPoll            duration `toml:"receipt_poll"`
	GasBufferPct           uint64   `toml:"gas_buffer_pct"`
}

// WalletConfig holds the operator key used to sign transactions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AdminConfig lists addresses allowed to use privileged operations.
type AdminConfig struct {
	Addresses []string `toml:"addresses"`
}

// SimConfig parameterises the in-process protocol. Amounts are base-unit
// integers written as decimal strings.
type SimConfig struct {
	Owner               string   `toml:"owner"`
	FeeSink             string   `toml:"fee_sink"`
	QuestionFee         string   `toml:"question_fee"`
	MinBaseBond         string   `toml:"min_base_bond"`
	OracleFeeBps        uint16   `toml:"oracle_fee_bps"`
	CreationFee         string   `toml:"creation_fee"`
	DefaultRedeemFeeBps uint16   `toml:"default_redeem_fee_bps"`
	CollateralSymbol    string   `toml:"collateral_symbol"`
	CollateralDecimals  uint8    `toml:"collateral_decimals"`
	BondSymbol          string   `toml:"bond_symbol"`
	BondDecimals        uint8    `toml:"bond_decimals"`
	FundAccounts        []string `toml:"fund_accounts"`
	FundAmount          string   `toml:"fund_amount"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
	SecretTTL  duration `toml:"secret_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds keeper, indexer and archive parameters.
type PipelineConfig struct {
	KeeperEnabled        bool     `toml:"keeper_enabled"`
	KeeperInterval       duration `toml:"keeper_interval"`
	AutoEscalate         bool     `toml:"auto_escalate"`
	IndexerEnabled       bool     `toml:"indexer_enabled"`
	IndexerInterval      duration `toml:"indexer_interval"`
	ArchiveCron          string   `toml:"archive_cron"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	EventBuffer          int      `toml:"event_buffer"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	RequireSignature bool     `toml:"require_signature"`
	SignatureMaxAge  duration `toml:"signature_max_age"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// The chain section targets the Kasplex testnet.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        167012,
			ChainName:      "Kasplex Testnet",
			RPCURL:         "https://rpc.kasplextest.xyz",
			ExplorerURL:    "https://www.dagscan.xyz",
			LogBatchBlocks: 2000,
			ReceiptPoll:    duration{2 * time.Second},
			GasBufferPct:   20,
		},
		Sim: SimConfig{
			Owner:               "0x00000000000000000000000000000000000000a1",
			FeeSink:             "0x00000000000000000000000000000000000000fe",
			QuestionFee:         "1000000000000000000",
			MinBaseBond:         "10000000000000000000",
			OracleFeeBps:        100,
			CreationFee:         "5000000000000000000",
			DefaultRedeemFeeBps: 100,
			CollateralSymbol:    "USDK",
			CollateralDecimals:  18,
			BondSymbol:          "BOND",
			BondDecimals:        18,
			FundAmount:          "1000000000000000000000",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "insightra",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{30 * time.Second},
			SecretTTL:  duration{7 * 24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "insightra-archive",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			KeeperEnabled:        true,
			KeeperInterval:       duration{15 * time.Second},
			AutoEscalate:         false,
			IndexerEnabled:       true,
			IndexerInterval:      duration{10 * time.Second},
			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 30,
			EventBuffer:          1024,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			SignatureMaxAge: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"question.escalated", "question.finalized", "market.created", "market.cancelled"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sim":    true,
	"chain":  true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	addr := func(field, v string, required bool) {
		if v == "" {
			if required {
				errs = append(errs, field+" must be set")
			}
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("%s: %q is not an address", field, v))
		}
	}
	amount := func(field, v string) {
		if _, err := Amount(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
		}
	}

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sim, chain, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	for i, a := range c.Admin.Addresses {
		addr(fmt.Sprintf("admin: addresses[%d]", i), strings.TrimSpace(a), false)
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	chainMode := strings.EqualFold(c.Mode, "chain")
	if chainMode {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		addr("chain: oracle", c.Chain.Oracle, true)
		addr("chain: binary_factory", c.Chain.BinaryFactory, true)
		addr("chain: categorical_factory", c.Chain.CategoricalFactory, true)
		addr("chain: scalar_factory", c.Chain.ScalarFactory, true)
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}
	addr("chain: arbitrator", c.Chain.Arbitrator, false)
	addr("chain: bond_token", c.Chain.BondToken, false)
	addr("chain: default_collateral", c.Chain.DefaultCollateral, false)

	if !chainMode {
		addr("sim: owner", c.Sim.Owner, true)
		addr("sim: fee_sink", c.Sim.FeeSink, true)
		amount("sim: question_fee", c.Sim.QuestionFee)
		amount("sim: min_base_bond", c.Sim.MinBaseBond)
		amount("sim: creation_fee", c.Sim.CreationFee)
		amount("sim: fund_amount", c.Sim.FundAmount)
		if c.Sim.OracleFeeBps > 10_000 {
			errs = append(errs, "sim: oracle_fee_bps must be <= 10000")
		}
		if c.Sim.DefaultRedeemFeeBps > 1000 {
			errs = append(errs, "sim: default_redeem_fee_bps must be <= 1000")
		}
		for i, a := range c.Sim.FundAccounts {
			addr(fmt.Sprintf("sim: fund_accounts[%d]", i), a, true)
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Pipeline.KeeperEnabled && c.Pipeline.KeeperInterval.Duration <= 0 {
		errs = append(errs, "pipeline: keeper_interval must be > 0")
	}
	if c.Pipeline.EventBuffer < 1 {
		errs = append(errs, "pipeline: event_buffer must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		errs = append(errs, "notify: webhook_secret is required when webhook_url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Amount parses a non-negative base-unit integer. Empty means zero.
func Amount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a non-negative integer", s)
	}
	return v, nil
}

// Address parses an optional hex address. Empty yields the zero address.
func Address(s string) common.Address {
	if s = strings.TrimSpace(s); s == "" || !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
