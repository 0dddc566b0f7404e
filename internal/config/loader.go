package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads a .env file if one
// exists, and applies OPTIONSD_* overrides. An empty path skips the file.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "OPTIONSD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OPTIONSD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OPTIONSD_WALLET_KEY_PASSWORD")

	// Chain
	setStr(&cfg.Chain.RPCURL, "OPTIONSD_CHAIN_RPC_URL")
	setInt(&cfg.Chain.ChainID, "OPTIONSD_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ManagerAddress, "OPTIONSD_CHAIN_MANAGER_ADDRESS")
	setBool(&cfg.Chain.RefundsEnabled, "OPTIONSD_CHAIN_REFUNDS_ENABLED")
	setDuration(&cfg.Chain.MineTimeout, "OPTIONSD_CHAIN_MINE_TIMEOUT")
	setStringSlice(&cfg.Chain.Markets, "OPTIONSD_CHAIN_MARKETS")
	setStringSlice(&cfg.Chain.Accounts, "OPTIONSD_CHAIN_ACCOUNTS")

	// Fees
	setStr(&cfg.Fees.Creator, "OPTIONSD_FEES_CREATOR")
	setStr(&cfg.Fees.Refund, "OPTIONSD_FEES_REFUND")
	setStr(&cfg.Fees.Trading, "OPTIONSD_FEES_TRADING")

	// Postgres
	setStr(&cfg.Postgres.DSN, "OPTIONSD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OPTIONSD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPTIONSD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPTIONSD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPTIONSD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPTIONSD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPTIONSD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPTIONSD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPTIONSD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPTIONSD_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "OPTIONSD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTIONSD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTIONSD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTIONSD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTIONSD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTIONSD_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "OPTIONSD_REDIS_SNAPSHOT_TTL")

	// S3
	setStr(&cfg.S3.Endpoint, "OPTIONSD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTIONSD_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTIONSD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTIONSD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTIONSD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTIONSD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTIONSD_S3_FORCE_PATH_STYLE")

	// Server
	setInt(&cfg.Server.Port, "OPTIONSD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTIONSD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPTIONSD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "OPTIONSD_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.RequireSessionSignature, "OPTIONSD_SERVER_REQUIRE_SESSION_SIGNATURE")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "OPTIONSD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTIONSD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPTIONSD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPTIONSD_NOTIFY_EVENTS")

	// Exercise
	setInt(&cfg.Exercise.GasBuffer, "OPTIONSD_EXERCISE_GAS_BUFFER")
	setDuration(&cfg.Exercise.LockTTL, "OPTIONSD_EXERCISE_LOCK_TTL")
	setDuration(&cfg.Exercise.RefreshInterval, "OPTIONSD_EXERCISE_REFRESH_INTERVAL")

	setStr(&cfg.Mode, "OPTIONSD_MODE")
	setStr(&cfg.LogLevel, "OPTIONSD_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set, non-empty and
// parses.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
