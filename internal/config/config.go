// Package config defines the optionsd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by OPTIONSD_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Fees     FeesConfig     `toml:"fees"`
	Assets   []AssetConfig  `toml:"assets"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Exercise ExerciseConfig `toml:"exercise"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig says where the service wallet key lives.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the node endpoint and contract addresses.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int      `toml:"chain_id"`
	ManagerAddress string   `toml:"manager_address"`
	RefundsEnabled bool     `toml:"refunds_enabled"`
	MineTimeout    duration `toml:"mine_timeout"`
	// Markets and Accounts are the pairs the watch mode keeps fresh.
	Markets  []string `toml:"markets"`
	Accounts []string `toml:"accounts"`
}

// FeesConfig is the fee schedule as decimal fractions ("0.001" is 0.1%).
type FeesConfig struct {
	Creator string `toml:"creator"`
	Refund  string `toml:"refund"`
	Trading string `toml:"trading"`
}

// AssetConfig is one entry of the asset directory.
type AssetConfig struct {
	Symbol      string `toml:"symbol"`
	DisplayName string `toml:"display_name"`
	Sign        string `toml:"sign"`
	Icon        string `toml:"icon"`
	Inverted    bool   `toml:"inverted"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `toml:"rate_limit"`
	// RequireSessionSignature makes session logins prove account ownership.
	RequireSessionSignature bool `toml:"require_session_signature"`
}

// NotifyConfig holds outbound alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExerciseConfig tunes the exercise workflow.
type ExerciseConfig struct {
	GasBuffer       int      `toml:"gas_buffer"`
	LockTTL         duration `toml:"lock_ttl"`
	RefreshInterval duration `toml:"refresh_interval"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with every field at its built-in default.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:      "http://localhost:8545",
			ChainID:     10,
			MineTimeout: duration{3 * time.Minute},
		},
		Fees: FeesConfig{
			Creator: "0.001",
			Refund:  "0.001",
			Trading: "0.001",
		},
		Assets: []AssetConfig{
			{Symbol: domain.StableAsset, DisplayName: "Synth USD", Sign: "$"},
			{Symbol: "sETH", DisplayName: "Ether", Sign: "Ξ"},
			{Symbol: "sBTC", DisplayName: "Bitcoin", Sign: "₿"},
			{Symbol: "iETH", DisplayName: "Inverse Ether", Sign: "Ξ", Inverted: true},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "optionsd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "optionsd-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"exercise_failed", "estimate_failed", "market_created", "creation_failed"},
		},
		Exercise: ExerciseConfig{
			GasBuffer:       5000,
			LockTTL:         duration{5 * time.Minute},
			RefreshInterval: duration{30 * time.Second},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// FeeSchedule parses the configured fees. Validate reports parse errors, so
// callers that validated first can ignore the error.
func (c *Config) FeeSchedule() (domain.FeeSchedule, error) {
	var fs domain.FeeSchedule
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"creator", c.Fees.Creator, &fs.Creator},
		{"refund", c.Fees.Refund, &fs.Refund},
		{"trading", c.Fees.Trading, &fs.Trading},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return fs, fmt.Errorf("fees: %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return fs, nil
}

// DomainAssets converts the asset table to domain assets.
func (c *Config) DomainAssets() []domain.Asset {
	out := make([]domain.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		out = append(out, domain.Asset{
			Symbol:      a.Symbol,
			DisplayName: a.DisplayName,
			Sign:        a.Sign,
			Icon:        a.Icon,
			Inverted:    a.Inverted,
		})
	}
	return out
}

// HasWallet reports whether a wallet key source is configured.
func (c *Config) HasWallet() bool {
	return c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != ""
}

var validModes = map[string]bool{
	"server": true,
	"watch":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required with encrypted_key_path")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be > 0")
	}
	if c.Chain.ManagerAddress != "" && !common.IsHexAddress(c.Chain.ManagerAddress) {
		errs = append(errs, fmt.Sprintf("chain: manager_address %q is not an address", c.Chain.ManagerAddress))
	}
	if c.Chain.ManagerAddress != "" && !c.HasWallet() {
		errs = append(errs, "chain: manager_address requires a wallet")
	}
	for _, m := range c.Chain.Markets {
		if !common.IsHexAddress(m) {
			errs = append(errs, fmt.Sprintf("chain: market %q is not an address", m))
		}
	}
	for _, a := range c.Chain.Accounts {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("chain: account %q is not an address", a))
		}
	}
	if strings.EqualFold(c.Mode, "watch") && (len(c.Chain.Markets) == 0 || len(c.Chain.Accounts) == 0) {
		errs = append(errs, "chain: watch mode needs at least one market and one account")
	}

	// Fees
	if fs, err := c.FeeSchedule(); err != nil {
		errs = append(errs, err.Error())
	} else {
		for name, v := range map[string]decimal.Decimal{"creator": fs.Creator, "refund": fs.Refund, "trading": fs.Trading} {
			if v.IsNegative() || v.GreaterThanOrEqual(decimal.NewFromInt(1)) {
				errs = append(errs, fmt.Sprintf("fees: %s must be in [0, 1), got %s", name, v))
			}
		}
	}

	// Assets
	seen := make(map[string]bool, len(c.Assets))
	hasStable := false
	for i, a := range c.Assets {
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: symbol must not be empty", i))
			continue
		}
		if seen[a.Symbol] {
			errs = append(errs, fmt.Sprintf("assets[%d]: duplicate symbol %q", i, a.Symbol))
		}
		seen[a.Symbol] = true
		if a.Symbol == domain.StableAsset {
			hasStable = true
		}
	}
	if !hasStable {
		errs = append(errs, fmt.Sprintf("assets: %s entry is required for the quote sign", domain.StableAsset))
	}

	// Postgres
	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set dsn)")
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
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	// Exercise
	if c.Exercise.GasBuffer < 0 {
		errs = append(errs, "exercise: gas_buffer must be >= 0")
	}
	if c.Exercise.LockTTL.Duration <= 0 {
		errs = append(errs, "exercise: lock_ttl must be > 0")
	}
	if strings.EqualFold(c.Mode, "watch") && c.Exercise.RefreshInterval.Duration <= 0 {
		errs = append(errs, "exercise: refresh_interval must be > 0 in watch mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
