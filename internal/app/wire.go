package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/jetlagged/skyshield/internal/blob/s3"
	"github.com/jetlagged/skyshield/internal/cache/redis"
	"github.com/jetlagged/skyshield/internal/chain"
	"github.com/jetlagged/skyshield/internal/config"
	"github.com/jetlagged/skyshield/internal/crypto"
	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/notify"
	"github.com/jetlagged/skyshield/internal/platform/aviationedge"
	"github.com/jetlagged/skyshield/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the modes need. Optional
// backends are nil when disabled in the configuration.
type Dependencies struct {
	Provider *aviationedge.Client
	Networks *chain.Networks
	Chains   *chain.Registry
	Signer   chain.Signer // nil without a wallet

	// Stores
	ResolutionStore domain.ResolutionStore
	AuditStore      *postgres.AuditStore

	// Caches
	ResolutionCache domain.ResolutionCache
	MarketCache     domain.MarketCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.AuditArchiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are dependency probes reported by the health endpoint.
	Checks map[string]func(ctx context.Context) error
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

	deps := &Dependencies{
		Checks: make(map[string]func(ctx context.Context) error),
	}

	deps.Provider = aviationedge.NewClient(
		cfg.AviationEdge.BaseURL,
		cfg.AviationEdge.APIKey,
		cfg.AviationEdge.Timeout.Duration,
		logger,
	)

	// --- Chains ---
	networks, err := chain.NewNetworks(networksFromConfig(cfg), cfg.DefaultChain)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Networks = networks

	src := crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if src.Configured() {
		key, err := crypto.LoadKey(src)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: signing key: %w", err)
		}
		signer, err := crypto.NewTxSigner(key)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: signing key: %w", err)
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "wire: signing wallet loaded",
			slog.String("address", signer.Address().Hex()),
		)
	}

	deps.Chains = chain.Connect(ctx, networks, deps.Signer, cfg.Resolver.ReceiptPoll.Duration, logger)
	closers = append(closers, deps.Chains.Close)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ResolutionStore = postgres.NewResolutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.ResolutionCache = redis.NewResolutionCache(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
		if cfg.S3.ArchiveAudit && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewAuditArchiver(deps.BlobWriter, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: telegram: %w", err)
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// networksFromConfig applies the configured RPC endpoints and contract
// overrides to the built-in deployments.
func networksFromConfig(cfg *config.Config) []chain.Network {
	overrides := map[string]config.ChainConfig{
		chain.Celo.Key:    cfg.Chains.Celo,
		chain.Sepolia.Key: cfg.Chains.Sepolia,
	}
	nets := chain.KnownNetworks()
	for i, n := range nets {
		o := overrides[n.Key]
		nets[i].RPCURL = o.RPCURL
		if o.Contract != "" {
			nets[i].Contract = common.HexToAddress(o.Contract)
		}
	}
	return nets
}

// CanSubmit reports whether resolveMarket transactions can be sent: a wallet
// is loaded and at least one network is reachable.
func (d *Dependencies) CanSubmit() bool {
	return d.Signer != nil && d.Chains != nil && d.Chains.Configured()
}
