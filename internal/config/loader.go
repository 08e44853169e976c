package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies INSIGHTRA_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
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

// applyEnvOverrides reads well-known INSIGHTRA_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "INSIGHTRA_CHAIN_ID")
	setStr(&cfg.Chain.ChainName, "INSIGHTRA_CHAIN_NAME")
	setStr(&cfg.Chain.RPCURL, "INSIGHTRA_RPC_URL")
	setStr(&cfg.Chain.ExplorerURL, "INSIGHTRA_EXPLORER_URL")
	setStr(&cfg.Chain.WalletConnectProjectID, "INSIGHTRA_WALLETCONNECT_PROJECT_ID")
	setStr(&cfg.Chain.BinaryFactory, "INSIGHTRA_BINARY_FACTORY")
	setStr(&cfg.Chain.CategoricalFactory, "INSIGHTRA_CATEGORICAL_FACTORY")
	setStr(&cfg.Chain.ScalarFactory, "INSIGHTRA_SCALAR_FACTORY")
	setStr(&cfg.Chain.Oracle, "INSIGHTRA_ORACLE")
	setStr(&cfg.Chain.Arbitrator, "INSIGHTRA_ARBITRATOR")
	setStr(&cfg.Chain.BondToken, "INSIGHTRA_BOND_TOKEN")
	setStr(&cfg.Chain.DefaultCollateral, "INSIGHTRA_DEFAULT_COLLATERAL")
	setUint64(&cfg.Chain.StartBlock, "INSIGHTRA_START_BLOCK")
	setDuration(&cfg.Chain.ReceiptPoll, "INSIGHTRA_RECEIPT_POLL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "INSIGHTRA_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "INSIGHTRA_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "INSIGHTRA_WALLET_KEY_PASSWORD")

	// ── Admin ──
	setStringSlice(&cfg.Admin.Addresses, "INSIGHTRA_ADMIN_ADDRESSES")

	// ── Sim ──
	setStr(&cfg.Sim.Owner, "INSIGHTRA_SIM_OWNER")
	setStr(&cfg.Sim.FeeSink, "INSIGHTRA_SIM_FEE_SINK")
	setStr(&cfg.Sim.QuestionFee, "INSIGHTRA_SIM_QUESTION_FEE")
	setStr(&cfg.Sim.MinBaseBond, "INSIGHTRA_SIM_MIN_BASE_BOND")
	setStr(&cfg.Sim.CreationFee, "INSIGHTRA_SIM_CREATION_FEE")
	setStringSlice(&cfg.Sim.FundAccounts, "INSIGHTRA_SIM_FUND_ACCOUNTS")
	setStr(&cfg.Sim.FundAmount, "INSIGHTRA_SIM_FUND_AMOUNT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "INSIGHTRA_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "INSIGHTRA_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "INSIGHTRA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "INSIGHTRA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "INSIGHTRA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "INSIGHTRA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "INSIGHTRA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "INSIGHTRA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "INSIGHTRA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "INSIGHTRA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "INSIGHTRA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "INSIGHTRA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "INSIGHTRA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "INSIGHTRA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "INSIGHTRA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "INSIGHTRA_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "INSIGHTRA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "INSIGHTRA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "INSIGHTRA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "INSIGHTRA_S3_REGION")
	setStr(&cfg.S3.Bucket, "INSIGHTRA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "INSIGHTRA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "INSIGHTRA_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "INSIGHTRA_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.KeeperEnabled, "INSIGHTRA_KEEPER_ENABLED")
	setDuration(&cfg.Pipeline.KeeperInterval, "INSIGHTRA_KEEPER_INTERVAL")
	setBool(&cfg.Pipeline.AutoEscalate, "INSIGHTRA_KEEPER_AUTO_ESCALATE")
	setBool(&cfg.Pipeline.IndexerEnabled, "INSIGHTRA_INDEXER_ENABLED")
	setStr(&cfg.Pipeline.ArchiveCron, "INSIGHTRA_ARCHIVE_CRON")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "INSIGHTRA_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "INSIGHTRA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "INSIGHTRA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "INSIGHTRA_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "INSIGHTRA_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.RequireSignature, "INSIGHTRA_SERVER_REQUIRE_SIGNATURE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "INSIGHTRA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "INSIGHTRA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "INSIGHTRA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "INSIGHTRA_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "INSIGHTRA_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "INSIGHTRA_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "INSIGHTRA_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "INSIGHTRA_MODE")
	setStr(&cfg.LogLevel, "INSIGHTRA_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
