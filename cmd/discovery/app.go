package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/coldtape"
	"squeeze-discovery/internal/config"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/enrich"
	"squeeze-discovery/internal/feed"
	"squeeze-discovery/internal/ingestion"
	"squeeze-discovery/internal/orchestrator"
	"squeeze-discovery/internal/outcome"
	"squeeze-discovery/internal/prefilter"
	"squeeze-discovery/internal/provider/httpapi"
	"squeeze-discovery/internal/provider/yahoo"
	"squeeze-discovery/internal/scoring"
	"squeeze-discovery/internal/screener"
	"squeeze-discovery/internal/storage"
	chstore "squeeze-discovery/internal/storage/clickhouse"
	"squeeze-discovery/internal/storage/memory"
	pgstore "squeeze-discovery/internal/storage/postgres"
)

// lastGoodMaxAge bounds how stale a checkpointed universe may be when the
// live scan is unavailable.
const lastGoodMaxAge = 24 * time.Hour

// stores holds the storage implementations.
type stores struct {
	discoveries storage.DiscoveryStore
	snapshots   storage.ScoreSnapshotStore
	checkpoints storage.ScanCheckpointStore
}

// app is the fully wired component graph.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	stores *stores

	gateway   *screener.Gateway
	enricher  *enrich.Enricher
	coldTape  *coldtape.Controller
	adapter   *adapter.Adapter
	hub       *feed.Hub
	ingestion *ingestion.Service
	orch      *orchestrator.Orchestrator
	labeler   *outcome.Labeler

	cleanup func()
}

// createStores opens PostgreSQL and ClickHouse, falling back to memory for
// any backend without a DSN.
func createStores(ctx context.Context, cfg *config.Config, useMemory bool, logger *zap.Logger) (*stores, func(), error) {
	s := &stores{
		discoveries: memory.NewDiscoveryStore(),
		snapshots:   memory.NewScoreSnapshotStore(),
		checkpoints: memory.NewScanCheckpointStore(),
	}
	if useMemory {
		logger.Info("using in-memory storage")
		return s, func() {}, nil
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Postgres.DSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		s.discoveries = pgstore.NewDiscoveryStore(pool)
		s.checkpoints = pgstore.NewScanCheckpointStore(pool)
	} else {
		logger.Warn("postgres dsn not set, discoveries are kept in memory")
	}

	if cfg.Clickhouse.DSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Clickhouse.DSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		s.snapshots = chstore.NewScoreSnapshotStore(conn)
	} else {
		logger.Warn("clickhouse dsn not set, score snapshots are kept in memory")
	}

	return s, cleanup, nil
}

// buildProviders prefers the JSON gateway for every section and falls back
// to Yahoo for quote, momentum and technicals when no gateway is configured.
func buildProviders(cfg *config.Config, bars *yahoo.Provider, logger *zap.Logger) (enrich.Providers, error) {
	if cfg.Provider.BaseURL == "" {
		logger.Info("provider gateway not set, enriching from yahoo")
		return enrich.Providers{Quote: bars, RelVolume: bars, Technical: bars}, nil
	}
	client, err := httpapi.New(httpapi.Options{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
		Logger:  logger.Named("httpapi"),
	})
	if err != nil {
		return enrich.Providers{}, err
	}
	return enrich.Providers{
		Quote:         client,
		RelVolume:     client,
		ShortInterest: client,
		Options:       client,
		Sentiment:     client,
		Catalyst:      client,
		Technical:     client,
	}, nil
}

func newApp(ctx context.Context, rt *runtime) (*app, error) {
	cfg, logger := rt.cfg, rt.logger

	st, cleanup, err := createStores(ctx, cfg, rt.useMemory, logger)
	if err != nil {
		return nil, err
	}

	tiers := scoring.TierThresholds{
		TradeReady: cfg.Scoring.TradeReady,
		EarlyReady: cfg.Scoring.EarlyReady,
		Monitor:    cfg.Scoring.Monitor,
	}
	weights := scoring.Weights{
		Base:           cfg.Scoring.BaseWeight,
		VolumeMomentum: cfg.Scoring.VolumeMomentum,
		FloatShort:     cfg.Scoring.FloatShort,
		Catalyst:       cfg.Scoring.Catalyst,
		Sentiment:      cfg.Scoring.Sentiment,
		Options:        cfg.Scoring.Options,
		Technical:      cfg.Scoring.Technical,
	}

	gateway := screener.NewGateway(screener.Options{
		Path:           cfg.Screener.Path,
		ExtraArgs:      cfg.Screener.Args,
		AuthCooldown:   cfg.Screener.AuthCooldown,
		ServerCooldown: cfg.Screener.ServerCooldown,
		Logger:         logger.Named("screener"),
	})

	bars := yahoo.New(yahoo.Options{Logger: logger.Named("yahoo")})
	providers, err := buildProviders(cfg, bars, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	enricher, err := enrich.NewEnricher(enrich.Options{
		Concurrency:  cfg.Enrich.Concurrency,
		Budget:       cfg.Enrich.Budget,
		SafetyMargin: cfg.Enrich.SafetyMargin,
		CallTimeout:  cfg.Enrich.CallTimeout,
		MaxAttempts:  cfg.Enrich.MaxAttempts,
		BackoffMin:   cfg.Enrich.BackoffMin,
		CacheTTL:     cfg.Enrich.CacheTTL,
		Providers:    providers,
		ForcedCache:  gateway.ForcedCacheMode,
		Logger:       logger.Named("enrich"),
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	coldTape := coldtape.NewController(coldtape.Options{
		Enabled: cfg.ColdTape.Enabled,
		Window:  cfg.ColdTape.Window,
		Ceiling: cfg.ColdTape.Ceiling,
		Relaxed: domain.RelaxedThresholds{
			RSIMin:    cfg.ColdTape.RSIMin,
			ATRPctMin: cfg.ColdTape.ATRPctMin,
			RelVolMin: cfg.ColdTape.RelVolMin,
		},
		MinSeeds:        cfg.ColdTape.MinSeeds,
		FallbackTickers: cfg.ColdTape.FallbackTickers,
		Logger:          logger.Named("coldtape"),
	})

	adp := adapter.New(adapter.Options{Tiers: tiers, HorizonDays: cfg.Outcome.HorizonDays})
	hub := feed.NewHub(feed.Options{Logger: logger.Named("feed")})
	svc := ingestion.NewService(ingestion.Options{
		Store:     st.discoveries,
		Adapter:   adp,
		Publisher: hub,
		Logger:    logger.Named("ingestion"),
	})

	orch := orchestrator.New(orchestrator.Options{
		Sources: []orchestrator.UniverseSource{
			&orchestrator.LiveScanSource{
				Gateway: gateway,
				Run: screener.RunOptions{
					Limit:      cfg.Screener.Limit,
					Budget:     cfg.Screener.Budget,
					OutputPath: cfg.Screener.OutputPath,
					Caller:     "scheduler",
				},
				Checkpoints: st.checkpoints,
			},
			&orchestrator.LastGoodSource{Checkpoints: st.checkpoints, MaxAge: lastGoodMaxAge},
		},
		Gateway: gateway,
		Prefilter: prefilter.Config{
			MinPrice:         cfg.Prefilter.MinPrice,
			MaxPrice:         cfg.Prefilter.MaxPrice,
			MinRVOL:          cfg.Prefilter.MinRVOL,
			MinLiquidity:     cfg.Prefilter.MinLiquidity,
			TopK:             cfg.Prefilter.TopK,
			MinShortInterest: cfg.Prefilter.MinShortInterest,
			FloatCap:         cfg.Prefilter.FloatCap,
			MinUtilization:   cfg.Prefilter.MinUtilization,
			MinBorrowFee:     cfg.Prefilter.MinBorrowFee,
		},
		Enhanced:       cfg.Prefilter.Enhanced,
		Enricher:       enricher,
		Scorer:         scoring.NewScorer(weights, tiers),
		ColdTape:       coldTape,
		Ingester:       svc,
		Discoveries:    st.discoveries,
		Snapshots:      st.snapshots,
		CandidateLimit: cfg.Screener.Limit,
		Logger:         logger.Named("orchestrator"),
	})

	labeler := outcome.NewLabeler(outcome.Options{
		Store:     st.discoveries,
		Bars:      bars,
		BatchSize: cfg.Outcome.BatchSize,
		Pace:      cfg.Outcome.Pace,
		Logger:    logger.Named("outcome"),
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		stores:    st,
		gateway:   gateway,
		enricher:  enricher,
		coldTape:  coldTape,
		adapter:   adp,
		hub:       hub,
		ingestion: svc,
		orch:      orch,
		labeler:   labeler,
		cleanup: func() {
			hub.Close()
			cleanup()
		},
	}, nil
}

// Close releases storage connections and feed subscribers.
func (a *app) Close() {
	a.cleanup()
}
