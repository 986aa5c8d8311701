// Package app wires configured components together for the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"token-sniffer/internal/analytics"
	"token-sniffer/internal/config"
	"token-sniffer/internal/feed"
	"token-sniffer/internal/ingestion"
	"token-sniffer/internal/notify"
	"token-sniffer/internal/pricing"
	"token-sniffer/internal/risk"
	"token-sniffer/internal/solana"
	"token-sniffer/internal/storage"
	"token-sniffer/internal/storage/clickhouse"
	"token-sniffer/internal/storage/memory"
	"token-sniffer/internal/storage/migrations"
	"token-sniffer/internal/storage/postgres"
	"token-sniffer/internal/storage/sqlite"
)

// OpenStore opens the configured store and applies its migrations.
// useMemory overrides the configured driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, useMemory bool) (storage.Store, error) {
	driver := cfg.Driver
	if useMemory {
		driver = config.StoreMemory
	}

	switch driver {
	case config.StoreMemory:
		return memory.NewStore(), nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		return postgres.NewStore(pool), nil

	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// History is a run history store with its cleanup.
type History struct {
	storage.HistoryStore
	close func() error
}

// Close releases the history backend.
func (h *History) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// OpenHistory opens the ClickHouse run history, or an in-memory one when
// useMemory is set. Returns nil when history is not configured.
func OpenHistory(ctx context.Context, cfg config.HistoryConfig, useMemory bool) (*History, error) {
	if useMemory {
		return &History{HistoryStore: memory.NewHistoryStore()}, nil
	}
	if cfg.ClickhouseDSN == "" {
		return nil, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse history: %w", err)
	}
	return &History{HistoryStore: clickhouse.NewHistoryStore(conn), close: conn.Close}, nil
}

// OpenNotifier builds the configured notifiers; Nop when none is configured.
func OpenNotifier(ctx context.Context, cfg config.NotifyConfig) (notify.Notifier, error) {
	var sinks notify.Multi

	if cfg.Redis.Addr != "" {
		n, err := notify.NewRedisNotifier(ctx, notify.RedisConfig{
			Addr:        cfg.Redis.Addr,
			DB:          cfg.Redis.DB,
			Username:    cfg.Redis.Username,
			Password:    cfg.Redis.Password,
			TokenStream: cfg.Redis.TokenStream,
			RunStream:   cfg.Redis.RunStream,
			MaxLen:      cfg.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:    cfg.Kafka.Brokers,
			TokenTopic: cfg.Kafka.TokenTopic,
			RunTopic:   cfg.Kafka.RunTopic,
		}))
	}

	switch len(sinks) {
	case 0:
		return notify.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// NewHeliusClient builds the rate limited Helius client.
func NewHeliusClient(cfg config.HeliusConfig) (*solana.HTTPClient, error) {
	endpoint, err := solana.HeliusEndpoint(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return solana.NewHTTPClient(endpoint,
		solana.WithTimeout(cfg.Timeout),
		solana.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)),
		solana.WithHolderPaging(cfg.HolderPageSize, cfg.MaxHolderPages),
	), nil
}

// NewPriceSource returns the configured USD price source.
func NewPriceSource(cfg config.PricingConfig, assets solana.AssetClient) (pricing.Source, error) {
	switch cfg.Source {
	case config.PriceJupiter:
		return pricing.NewJupiterSource(cfg.JupiterURL)
	case config.PriceHelius:
		return pricing.NewHeliusSource(assets), nil
	case config.PriceNone:
		return pricing.None{}, nil
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.Source)
	}
}

// Components are the collaborators an Ingestor is built from.
type Components struct {
	Store    storage.Store
	History  storage.HistoryStore // optional
	Notifier notify.Notifier      // optional
	Feed     ingestion.Feed       // optional, required for monitoring
}

// NewIngestor builds the risk assessor, the analyzer and the ingestor from cfg.
func NewIngestor(cfg *config.Config, c Components, log *zap.Logger) (*ingestion.Ingestor, error) {
	helius, err := NewHeliusClient(cfg.Helius)
	if err != nil {
		return nil, err
	}
	prices, err := NewPriceSource(cfg.Pricing, helius)
	if err != nil {
		return nil, err
	}

	assessor := risk.NewAssessor(risk.Options{
		BaseURL:      cfg.RugCheck.BaseURL,
		Timeout:      cfg.RugCheck.Timeout,
		MaxRetries:   cfg.RugCheck.MaxRetries,
		RetryBackoff: cfg.RugCheck.RetryBackoff,
		Policy:       cfg.RugCheck.Policy,
		Logger:       log,
	})

	analyzer := analytics.NewAnalyzer(helius, analytics.Options{
		TopN:              cfg.Analytics.TopN,
		Concurrency:       cfg.Analytics.Concurrency,
		Global:            semaphore.NewWeighted(int64(cfg.Analytics.GlobalLimit)),
		WalletTimeout:     cfg.Analytics.WalletTimeout,
		MaxRetries:        cfg.Analytics.MaxRetries,
		RetryBackoff:      cfg.Analytics.RetryBackoff,
		SignatureLimit:    cfg.Analytics.SignatureLimit,
		TxDetailLimit:     cfg.Analytics.TxDetailLimit,
		MinTransactions:   cfg.Analytics.MinTransactions,
		SkipProgramOwners: cfg.Analytics.SkipProgramOwners,
		Prices:            prices,
		Logger:            log,
	})

	return ingestion.NewIngestor(ingestion.Options{
		Feed:           c.Feed,
		Assessor:       assessor,
		Analyzer:       analyzer,
		Store:          c.Store,
		History:        c.History,
		Notifier:       c.Notifier,
		Assets:         helius,
		Workers:        cfg.Ingestion.Workers,
		QueueSize:      cfg.Ingestion.QueueSize,
		DedupCapacity:  cfg.Ingestion.DedupCapacity,
		DedupTTL:       cfg.Ingestion.DedupTTL,
		TopN:           cfg.Analytics.TopN,
		AssessTimeout:  cfg.Ingestion.AssessTimeout,
		AnalyzeTimeout: cfg.Ingestion.AnalyzeTimeout,
		DrainTimeout:   cfg.Ingestion.DrainTimeout,
		PersistTimeout: cfg.Ingestion.PersistTimeout,
		Logger:         log,
	})
}

// NewFeed builds the feed client.
func NewFeed(cfg config.FeedConfig, log *zap.Logger) *feed.Client {
	subs := []feed.Subscription{feed.NewTokenSubscription}
	if len(cfg.Keys) > 0 {
		subs = append(subs, feed.Subscription{Method: "subscribeTokenTrade", Keys: cfg.Keys})
	}
	return feed.NewClient(feed.Config{
		Endpoint:      cfg.Endpoint,
		Subscriptions: subs,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
		PingInterval:  cfg.PingInterval,
		ReadTimeout:   cfg.ReadTimeout,
	}, log)
}
