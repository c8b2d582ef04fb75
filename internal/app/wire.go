package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/updown/internal/blob/s3"
	"github.com/alanyoungcy/updown/internal/cache/redis"
	"github.com/alanyoungcy/updown/internal/chain"
	"github.com/alanyoungcy/updown/internal/config"
	"github.com/alanyoungcy/updown/internal/crypto"
	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/escrow"
	"github.com/alanyoungcy/updown/internal/events"
	"github.com/alanyoungcy/updown/internal/metrics"
	"github.com/alanyoungcy/updown/internal/notify"
	"github.com/alanyoungcy/updown/internal/platform/yahoo"
	"github.com/alanyoungcy/updown/internal/server/handler"
	"github.com/alanyoungcy/updown/internal/store/memory"
	"github.com/alanyoungcy/updown/internal/store/postgres"
)

// EscrowBackend is the settler's view of the escrow: a real contract
// behind an RPC endpoint or the in-process simulation.
type EscrowBackend interface {
	domain.ChainMirror
	handler.Escrow
}

var (
	_ EscrowBackend = (*chain.Client)(nil)
	_ EscrowBackend = (*chain.Simulated)(nil)
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional members are nil when not configured.
type Dependencies struct {
	// Stores
	Ledger   domain.Ledger
	Accounts domain.AccountStore
	Audit    domain.AuditStore

	// Caches
	Pushed  domain.PriceCache
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Bus     domain.SignalBus

	// Side channels
	Receipts *s3blob.ReceiptArchive
	Escrow   EscrowBackend
	Kafka    *events.KafkaPublisher
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	Quotes domain.QuoteSupplier
	Checks map[string]handler.HealthCheck
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
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Quotes:  yahoo.NewClient(cfg.PriceFeed.Hosts, cfg.PriceFeed.Timeout.Duration),
		Checks:  map[string]handler.HealthCheck{},
	}

	if strings.EqualFold(cfg.Mode, "dev") {
		// Everything in process; state is lost on restart.
		ledger := memory.NewLedger()
		deps.Ledger = ledger
		deps.Accounts = ledger
		deps.Audit = memory.NewAuditLog()
		deps.Pushed = memory.NewPriceCache()
		deps.Bus = memory.NewBus()
		deps.Limiter = memory.NewRateLimiter()
		logger.WarnContext(ctx, "wire: dev mode uses in-memory storage")
	} else {
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
		deps.Ledger = postgres.NewLedger(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Pushed = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Settler key and escrow backend ---
	var receiptSigner *crypto.ReceiptSigner
	switch {
	case cfg.Chain.Enabled():
		key, err := crypto.LoadSettlerKey(crypto.KeySource{
			RawHex:   cfg.Chain.PrivateKey,
			File:     cfg.Chain.EncryptedKeyPath,
			Password: cfg.Chain.KeyPassword,
		})
		if err != nil {
			return fail("settler key", err)
		}
		contract := common.HexToAddress(cfg.Chain.Contract)
		client, err := chain.Dial(ctx, chain.Config{
			RPCURL:      cfg.Chain.RPCURL,
			Contract:    contract,
			ChainID:     cfg.Chain.ChainID,
			Key:         key,
			TxTimeout:   cfg.Chain.TxTimeout.Duration,
			CallTimeout: cfg.Chain.CallTimeout.Duration,
			GasLimit:    cfg.Chain.GasLimit,
		}, logger)
		if err != nil {
			return fail("chain", err)
		}
		closers = append(closers, client.Close)
		deps.Escrow = client
		receiptSigner = crypto.NewReceiptSigner(key, cfg.Chain.ChainID, contract)
		deps.Checks["chain"] = func(ctx context.Context) error {
			_, err := client.Paused(ctx)
			return err
		}
		logger.InfoContext(ctx, "wire: chain mirror enabled",
			slog.String("contract", contract.Hex()),
			slog.String("settler", client.Settler().Hex()),
		)
	case cfg.Escrow.Simulate:
		deps.Escrow = simulatedEscrow(cfg.Escrow)
		logger.WarnContext(ctx, "wire: chain mirror uses the in-process escrow simulation")
	}

	// --- S3 receipt archive ---
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
		archive := s3blob.NewReceiptArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		if receiptSigner != nil {
			archive = archive.WithSigner(receiptSigner, receiptSigner.Address().Hex())
		}
		deps.Receipts = archive
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Kafka round stream ---
	if len(cfg.Kafka.Brokers) > 0 {
		var signer *crypto.PayloadSigner
		if cfg.Kafka.SigningSecret != "" {
			signer = crypto.NewPayloadSigner(cfg.Kafka.SigningSecret)
		}
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout.Duration,
		}, signer, logger)
		if err != nil {
			return fail("kafka", err)
		}
		closers = append(closers, func() { _ = kp.Close() })
		deps.Kafka = kp
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithDedup(cfg.Notify.DedupWindow.Duration)

	return deps, cleanup, nil
}

// simulatedEscrow deploys the escrow model with a funded settler.
func simulatedEscrow(cfg config.EscrowConfig) *chain.Simulated {
	self := common.HexToAddress(cfg.Address)
	owner := common.HexToAddress(cfg.Owner)

	usdc := escrow.NewMemToken(common.HexToAddress("0x0000000000000000000000000000000000005dc0"))
	usdc.Mint(owner, cfg.SettlerFunds.Amount)
	usdc.Approve(owner, self, cfg.SettlerFunds.Amount)

	ec := escrow.DefaultConfig(self, owner)
	ec.MinBet = cfg.MinBet.Amount
	ec.MaxBet = cfg.MaxBet.Amount
	ec.FeeBps = cfg.FeeBps
	ec.PriceBandBps = cfg.PriceBandBps
	ec.MinSettleDelay = cfg.MinSettleDelay.Duration
	return chain.NewSimulated(escrow.New(ec, usdc))
}

// publishers fans round events out to every configured channel.
func (d *Dependencies) publishers() domain.EventPublisher {
	pubs := []domain.EventPublisher{
		events.NewBusPublisher(d.Bus),
		notify.NewRoundAlerts(d.Notifier),
	}
	if d.Kafka != nil {
		pubs = append(pubs, d.Kafka)
	}
	return events.NewFanout(pubs...)
}
