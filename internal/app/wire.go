package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/stakefund/internal/blob/s3"
	"github.com/alanyoungcy/stakefund/internal/cache/redis"
	"github.com/alanyoungcy/stakefund/internal/config"
	"github.com/alanyoungcy/stakefund/internal/crypto"
	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/events"
	"github.com/alanyoungcy/stakefund/internal/ledger"
	"github.com/alanyoungcy/stakefund/internal/metrics"
	"github.com/alanyoungcy/stakefund/internal/notify"
	"github.com/alanyoungcy/stakefund/internal/payout"
	"github.com/alanyoungcy/stakefund/internal/registry"
	"github.com/alanyoungcy/stakefund/internal/server/handler"
	"github.com/alanyoungcy/stakefund/internal/service"
	"github.com/alanyoungcy/stakefund/internal/store/memory"
	"github.com/alanyoungcy/stakefund/internal/store/postgres"
)

// localStreamMaxLen bounds the in-process event stream used in dev mode.
const localStreamMaxLen = 10000

// ledgerBackend is what the ledger persists to and the archiver reads from.
type ledgerBackend interface {
	domain.LedgerStore
	s3blob.EventArchiveStore
}

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Authority common.Address
	EngineID  common.Address

	// Ledger and stores
	Ledger *ledger.Ledger
	Audit  domain.AuditStore

	// Caches and bus. LockManager and RateLimiter are nil without redis.
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Nonces      domain.NonceStore

	// Services
	Registry   *service.RegistryRef
	Dispatcher *service.Dispatcher
	Reputation *service.ReputationLedger
	Pool       *service.FundingPool
	Engine     *service.MarketEngine

	// Archiver and Archives are nil unless s3 is enabled.
	Archiver domain.Archiver
	Archives domain.ArchiveCatalog

	// Notifications
	Notifier *notify.Notifier

	// Checks probe external dependencies for the health endpoint.
	Checks map[string]handler.Check
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
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{
		EngineID: common.HexToAddress(cfg.Engine.Address),
		Checks:   map[string]handler.Check{},
	}

	// --- Authority ---
	var authorityKey string
	if cfg.Authority.HasKey() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Authority.PrivateKey,
			EncryptedKeyPath: cfg.Authority.EncryptedKeyPath,
			KeyPassword:      cfg.Authority.KeyPassword,
		})
		if err != nil {
			return fail("authority key", err)
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			return fail("authority key", err)
		}
		authorityKey = key
		deps.Authority = signer.Address()
		if cfg.Authority.Address != "" && common.HexToAddress(cfg.Authority.Address) != deps.Authority {
			return fail("authority", fmt.Errorf("configured address %s does not match key address %s",
				cfg.Authority.Address, deps.Authority.Hex()))
		}
	} else {
		deps.Authority = common.HexToAddress(cfg.Authority.Address)
	}

	// --- Ledger storage: postgres, or memory in dev mode ---
	var backend ledgerBackend
	if cfg.IsDev() {
		backend = memory.NewLedgerStore()
		deps.Audit = memory.NewAuditStore()
		logger.WarnContext(ctx, "dev mode: ledger is in memory and lost on exit")
	} else {
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

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		backend = pgClient.LedgerStore()
		deps.Audit = pgClient.AuditStore()
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis: bus, locks, rate limits, nonces. Dev mode stays in process. ---
	var registryCache domain.RegistryCache
	if cfg.IsDev() {
		deps.SignalBus = events.NewLocalBus(localStreamMaxLen)
		deps.Nonces = memory.NewNonceStore()
	} else {
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

		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		registryCache = redis.NewRegistryCache(redisClient)
		deps.Checks["redis"] = redisClient.Ping
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

	// --- Ledger ---
	l, err := ledger.Open(ctx, backend, domain.EngineAccount{
		MinBet: cfg.Engine.MinBet,
		FeeBps: cfg.Engine.FeeBps,
	}, logger)
	if err != nil {
		return fail("ledger", err)
	}
	deps.Ledger = l

	sinks := events.Fanout{events.NewBusPublisher(deps.SignalBus), deps.Notifier}
	if cfg.AMQP.Enabled {
		pub, err := events.DialAMQP(events.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			TLS:      cfg.AMQP.TLS,
		}, logger)
		if err != nil {
			return fail("amqp", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
	}
	l.OnCommit(events.Hook(sinks, 0, logger))
	l.OnCommit(metrics.Hook())

	// --- Registry ---
	deps.Registry = service.NewRegistryRef(newRegistry(cfg, registryCache, logger))

	// --- Payout rail ---
	var payer domain.Payer
	switch cfg.Payout.Rail {
	case "eth":
		rail, err := payout.DialEthRail(ctx, cfg.Payout.RPCURL, authorityKey, cfg.Payout.MaxGasPriceGwei, logger)
		if err != nil {
			return fail("payout", err)
		}
		closers = append(closers, rail.Close)
		payer = rail
	default:
		payer = payout.NewLogRail(logger)
	}

	// --- Services ---
	deps.Dispatcher = service.NewDispatcher(l, payer, deps.Authority, logger)
	deps.Reputation = service.NewReputationLedger(l, deps.Authority, deps.EngineID, cfg.Reputation.WhaleThreshold, logger)
	deps.Pool = service.NewFundingPool(l, deps.Registry, deps.Dispatcher, deps.Audit, deps.Notifier,
		deps.Authority, deps.EngineID, service.PoolConfig{
			GrantTopN: cfg.Pool.GrantTopN,
			GrantBps:  cfg.Pool.GrantBps,
		}, logger)
	deps.Engine = service.NewMarketEngine(l, deps.Registry, deps.Reputation, deps.Pool, deps.Dispatcher,
		deps.Authority, deps.EngineID, logger)

	// --- S3 archive ---
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
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), backend, deps.Audit)
		deps.Archives = s3blob.NewCatalog(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("authority", deps.Authority.Hex()),
		slog.String("engine", deps.EngineID.Hex()),
		slog.String("payout_rail", cfg.Payout.Rail),
		slog.Bool("archive", deps.Archiver != nil),
	)
	return deps, cleanup, nil
}

// newRegistry returns the HTTP registry client, cached in redis when a cache is
// available, or a static registry seeded from config.
func newRegistry(cfg *config.Config, cache domain.RegistryCache, logger *slog.Logger) domain.Registry {
	rc := cfg.Registry
	if rc.URL != "" {
		client := registry.NewClient(strings.TrimRight(rc.URL, "/"), rc.APIKey, rc.Timeout.Duration)
		if cache == nil {
			return client
		}
		return registry.NewCached(client, cache, rc.PendingTTL.Duration, rc.ResolvedTTL.Duration, logger)
	}

	static := registry.NewStatic()
	for _, m := range rc.Milestones {
		static.PutMilestone(domain.Milestone{
			ID:          m.ID,
			ProjectID:   m.ProjectID,
			Description: m.Description,
			DueAt:       m.DueAt,
			Resolved:    m.Resolved,
			Achieved:    m.Achieved,
		})
	}
	for project, owner := range rc.Owners {
		static.SetOwner(project, common.HexToAddress(owner))
	}
	logger.Info("using static registry",
		slog.Int("milestones", len(rc.Milestones)),
		slog.Int("owners", len(rc.Owners)),
	)
	return static
}
