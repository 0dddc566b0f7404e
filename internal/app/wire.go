package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/optionsd/internal/blob/s3"
	"github.com/alanyoungcy/optionsd/internal/cache/redis"
	"github.com/alanyoungcy/optionsd/internal/chain"
	"github.com/alanyoungcy/optionsd/internal/config"
	"github.com/alanyoungcy/optionsd/internal/crypto"
	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/notify"
	"github.com/alanyoungcy/optionsd/internal/server/handler"
	"github.com/alanyoungcy/optionsd/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	CreationStore domain.CreationStore
	ExerciseStore domain.ExerciseStore
	AuditStore    domain.AuditStore

	// Caches
	SnapshotCache domain.SnapshotCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Chain
	Chain   *ethclient.Client
	Signer  *crypto.Signer // nil without a wallet
	Binder  *chain.Binder
	Manager *chain.Manager // nil without manager_address

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe each external dependency for /api/health.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.CreationStore = postgres.NewCreationStore(pool)
	deps.ExerciseStore = postgres.NewExerciseStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return fail("s3", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	writer := s3blob.NewWriter(s3Client)
	reader := s3blob.NewReader(s3Client)
	deps.BlobWriter = writer
	deps.BlobReader = reader
	deps.Archiver = s3blob.NewArchiver(writer, reader, deps.AuditStore)
	deps.HealthChecks["s3"] = s3Client.Health

	// --- Chain ---
	ethClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, int64(cfg.Chain.ChainID))
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, ethClient.Close)
	deps.Chain = ethClient
	deps.HealthChecks["chain"] = func(ctx context.Context) error {
		_, err := ethClient.BlockNumber(ctx)
		return err
	}

	if cfg.HasWallet() {
		signer, err := crypto.LoadSigner(crypto.KeySource{
			PrivateKey:  cfg.Wallet.PrivateKey,
			KeyfilePath: cfg.Wallet.EncryptedKeyPath,
			Password:    cfg.Wallet.KeyPassword,
		}, int64(cfg.Chain.ChainID))
		if err != nil {
			return fail("signer", err)
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "wallet loaded", slog.String("address", signer.Address().Hex()))
	} else {
		logger.WarnContext(ctx, "no wallet configured; exercise and market creation are read-only")
	}

	var transactor *bind.TransactOpts
	if deps.Signer != nil {
		transactor, err = deps.Signer.Transactor()
		if err != nil {
			return fail("transactor", err)
		}
	}
	deps.Binder = chain.NewBinder(ethClient, transactor, cfg.Chain.MineTimeout.Duration)

	if cfg.Chain.ManagerAddress != "" {
		addr, err := chain.ParseAddress(cfg.Chain.ManagerAddress)
		if err != nil {
			return fail("manager", err)
		}
		deps.Manager = chain.NewManager(addr, ethClient, transactor, cfg.Chain.RefundsEnabled)
		if cfg.Chain.MineTimeout.Duration > 0 {
			deps.Manager.SetMineTimeout(cfg.Chain.MineTimeout.Duration)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
