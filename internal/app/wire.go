package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantfold/marginbot/internal/blob/s3"
	"github.com/quantfold/marginbot/internal/cache/redis"
	"github.com/quantfold/marginbot/internal/config"
	"github.com/quantfold/marginbot/internal/crypto"
	"github.com/quantfold/marginbot/internal/domain"
	"github.com/quantfold/marginbot/internal/engine"
	"github.com/quantfold/marginbot/internal/platform/kraken"
	"github.com/quantfold/marginbot/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Exchange domain.Exchange
	Ledger   domain.PositionStore
	Prices   domain.PriceCache

	Engine *engine.Engine

	// TickerFeed streams public quotes into the price cache. Nil when no
	// instrument has a ws_pair configured.
	TickerFeed *kraken.TickerFeed

	// Journal exports closed positions to object storage. Nil unless both
	// s3 and the journal are enabled.
	Journal *s3blob.Journal
}

// Wire constructs all concrete implementations from the configuration and
// returns them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange client ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Exchange.ApiSecret,
		EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
		SecretPassword:      cfg.Exchange.SecretPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: api secret: %w", err)
	}
	signer, err := crypto.NewSigner(cfg.Exchange.ApiKey, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Exchange = kraken.NewClient(
		cfg.Exchange.BaseURL,
		signer,
		time.Duration(cfg.Exchange.TimeoutSec)*time.Second,
	)

	// --- PostgreSQL position ledger ---
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
	deps.Ledger = postgres.NewPositionStore(pgClient.Pool())

	// --- Redis mark-price cache ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	priceTTL := 30 * time.Second
	if cfg.Redis.PriceTTLSec > 0 {
		priceTTL = time.Duration(cfg.Redis.PriceTTLSec) * time.Second
	}
	deps.Prices = redis.NewPriceCache(redisClient, priceTTL)

	// --- WebSocket ticker feed ---
	pairs := make(map[string]string)
	for _, symbol := range cfg.Engine.Symbols {
		if ws := cfg.Instrument(symbol).WsPair; ws != "" {
			pairs[ws] = symbol
		}
	}
	if len(pairs) > 0 {
		deps.TickerFeed = kraken.NewTickerFeed(cfg.Exchange.WsURL, pairs, deps.Prices, logger)
	}

	// --- S3 journal ---
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
		if cfg.Journal.Enabled {
			deps.Journal = s3blob.NewJournal(s3blob.NewWriter(s3Client), deps.Ledger, cfg.Journal.Prefix)
		}
	}

	// --- Order engine ---
	deps.Engine = engine.New(
		deps.Exchange,
		deps.Ledger,
		deps.Prices,
		cfg,
		cfg.Exchange.QuoteAsset,
		engine.RetryPolicy{
			SettleDelay: time.Duration(cfg.Engine.SettleDelayMs) * time.Millisecond,
			Delay:       time.Duration(cfg.Engine.VerifyDelayMs) * time.Millisecond,
			MaxAttempts: cfg.Engine.VerifyMaxAttempts,
		},
		logger,
	)

	return deps, cleanup, nil
}
