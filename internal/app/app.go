// Package app wires configuration into the stores, caches and calculation
// node shared by the engine and calcnode binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"risk-view-engine/internal/cache"
	"risk-view-engine/internal/calcnode"
	"risk-view-engine/internal/config"
	"risk-view-engine/internal/fixtures"
	"risk-view-engine/internal/function"
	"risk-view-engine/internal/logging"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/portfolio"
	"risk-view-engine/internal/resolver"
	"risk-view-engine/internal/stats"
	"risk-view-engine/internal/storage"
	badgerstore "risk-view-engine/internal/storage/badger"
	chstore "risk-view-engine/internal/storage/clickhouse"
	"risk-view-engine/internal/storage/memory"
	"risk-view-engine/internal/storage/migrations"
	pgstore "risk-view-engine/internal/storage/postgres"
	redisstore "risk-view-engine/internal/storage/redis"
)

// Stores holds every storage backend selected by the configuration.
type Stores struct {
	Securities storage.SecurityMaster
	Positions  storage.PositionMaster
	MarketData *memory.MarketDataStore
	JobResults storage.JobResultStore
	Statistics storage.StatisticsStore
	Shared     storage.BinaryStore

	closers []func()
}

// OpenStores opens the configured backends, applying schema migrations to
// PostgreSQL and ClickHouse. On error everything opened so far is closed.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Stores, err error) {
	logger = logging.OrNop(logger)
	s := &Stores{MarketData: memory.NewMarketDataStore()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var pool *pgstore.Pool
	if cfg.Storage.Backend == "postgres" || cfg.Statistics.Backend == "postgres" {
		pool, err = pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, pgstore.WithMaxConns(cfg.Storage.PostgresMaxConns))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if _, err = migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return nil, err
		}
	}

	switch cfg.Storage.Backend {
	case "postgres":
		s.Securities = pgstore.NewSecurityStore(pool)
		s.Positions = pgstore.NewPositionStore(pool)
	default:
		s.Securities = memory.NewSecurityStore()
		s.Positions = memory.NewPositionStore()
	}

	if cfg.Storage.ClickhouseDSN != "" {
		var conn *chstore.Conn
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		s.JobResults = chstore.NewJobResultStore(conn)
	} else {
		s.JobResults = memory.NewJobResultStore()
	}

	switch cfg.Statistics.Backend {
	case "postgres":
		s.Statistics = pgstore.NewStatisticsStore(pool)
	case "badger":
		db, openErr := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Statistics.BadgerPath,
			SyncWrites: true,
			Logger:     logger,
		})
		if openErr != nil {
			return nil, openErr
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		s.Statistics = badgerstore.NewStatisticsStore(db)
	default:
		s.Statistics = memory.NewStatisticsStore()
	}

	switch cfg.Cache.SharedBackend {
	case "redis":
		var rs *redisstore.BinaryStore
		rs, err = redisstore.NewBinaryStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB, cfg.Cache.RedisTTL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = rs.Close() })
		s.Shared = rs
	default:
		s.Shared = memory.NewBinaryStore()
	}

	logger.Info("stores opened",
		zap.String("sources", cfg.Storage.Backend),
		zap.String("statistics", cfg.Statistics.Backend),
		zap.String("shared_cache", cfg.Cache.SharedBackend),
		zap.Bool("clickhouse_telemetry", cfg.Storage.ClickhouseDSN != ""),
	)
	return s, nil
}

// LoadFixtures seeds the demo securities, portfolio and prices.
func (s *Stores) LoadFixtures(ctx context.Context) error {
	if err := fixtures.Load(ctx, s.Securities, s.Positions, s.MarketData); err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}
	return nil
}

// Close releases every backend in reverse opening order.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Components are the engine pieces built over a set of stores.
type Components struct {
	Functions *function.Repository
	Resolver  resolver.Resolver
	// TargetCache is the caching layer of Resolver; purge it between cycles
	// so edits to the masters are picked up.
	TargetCache *resolver.CachingResolver
	Structure   *portfolio.Structure
	Caches      *cache.Source
	Statistics  *stats.Store
	Persister   *stats.Persister
	Node        *calcnode.Node
}

// NewComponents builds the function repository, resolver, cache source,
// statistics and a calculation node identified by nodeID.
func NewComponents(cfg *config.Config, stores *Stores, nodeID string, logger *zap.Logger) (*Components, error) {
	logger = logging.OrNop(logger)
	repo, err := function.NewRepository(function.DemoFunctions()...)
	if err != nil {
		return nil, fmt.Errorf("function repository: %w", err)
	}

	var targetCache *resolver.CachingResolver
	res := resolver.New(stores.Securities, stores.Positions,
		resolver.WithLogger(logger),
		resolver.WithDecorator(resolver.Caching(&targetCache)),
	)
	structure := portfolio.NewStructure(stores.Positions)
	caches := cache.NewSource(memory.NewBinaryStore(), stores.Shared)
	statistics := stats.NewStore(cfg.Statistics.Window)

	node := calcnode.NewNode(calcnode.Config{
		ID:        nodeID,
		Functions: repo,
		Resolver:  res,
		Structure: structure,
		Caches:    caches,
		Gatherer:  stats.MultiGatherer{statistics, stats.NewMetricsGatherer(observability.DefaultMetrics)},
		WriteMode: cfg.Cache.WriteMode,
		QueueSize: cfg.Cache.QueueSize,
		Logger:    logger,
	})

	return &Components{
		Functions:   repo,
		Resolver:    res,
		TargetCache: targetCache,
		Structure:   structure,
		Caches:      caches,
		Statistics:  statistics,
		Persister:   stats.NewPersister(statistics, stores.Statistics, cfg.Statistics.FlushInterval, logger),
		Node:        node,
	}, nil
}
