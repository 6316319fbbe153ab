package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/config"
	"github.com/Ramsey-B/sorrel/db"
	"github.com/Ramsey-B/sorrel/internal/repositories/category"
	"github.com/Ramsey-B/sorrel/internal/repositories/merge"
	"github.com/Ramsey-B/sorrel/internal/repositories/record"
	"github.com/Ramsey-B/sorrel/internal/repositories/recordtype"
	"github.com/Ramsey-B/sorrel/pkg/cleanup"
	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/graph"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/llm"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/merging"
	"github.com/Ramsey-B/sorrel/pkg/redis"
	"github.com/Ramsey-B/sorrel/pkg/resolution"
	"github.com/Ramsey-B/sorrel/pkg/scanner"
	"github.com/Ramsey-B/sorrel/pkg/startup"
)

// app holds the connections and services shared by the commands. Optional backends stay nil when
// disabled.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	boot   *startup.Startup

	db         database.DB
	redis      *redis.Client
	graph      *graph.Client
	projection *graph.Projection
	producer   *kafka.Producer
	emitter    *events.Emitter

	records    *record.Repository
	types      *recordtype.Repository
	categories *category.Repository
	merges     *merge.Repository

	matcher  *matching.Engine
	resolver *resolution.Service
	scanner  *scanner.Scanner
	merger   *merging.Engine
	cleaner  *cleanup.Job
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:    cfg,
		logger: logger,
		boot:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
}

// connectOptions selects what connect starts.
type connectOptions struct {
	migrate      bool // apply the schema once the database is reachable
	databaseOnly bool // skip redis, graph and kafka
}

// connect registers the backends with the startup sequence and starts them.
func (a *app) connect(ctx context.Context, opts connectOptions) error {
	cfg := a.cfg

	a.boot.Add(startup.Func{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			conn, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN(), database.PoolConfig{
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			a.db = conn
			return nil
		},
		StopFn: func(context.Context) error { return a.db.Close() },
	})

	if opts.migrate {
		a.boot.Add(startup.Func{
			Name:    "migrations",
			Needs:   []string{"database"},
			StartFn: func(context.Context) error { return a.migrate() },
		})
	}

	if opts.databaseOnly {
		return a.boot.Start(ctx)
	}

	if cfg.RedisEnabled {
		a.boot.Add(startup.Func{
			Name: "redis",
			StartFn: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				return nil
			},
			StopFn: func(context.Context) error { return a.redis.Close() },
		})
	}

	if cfg.GraphEnabled {
		a.boot.Add(startup.Func{
			Name: "graph",
			StartFn: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
					Database: cfg.GraphDBName,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.graph = client
				a.projection = graph.NewProjection(client, a.logger)
				return nil
			},
			StopFn: func(ctx context.Context) error { return a.graph.Close(ctx) },
		})
	}

	if cfg.KafkaProducerEnabled {
		a.boot.Add(startup.Func{
			Name: "kafka-producer",
			StartFn: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, a.logger)
				a.emitter = events.NewEmitter(a.producer, a.logger)
				return nil
			},
			StopFn: func(context.Context) error { return a.producer.Close() },
		})
	}

	return a.boot.Start(ctx)
}

func (a *app) migrate() error {
	svc := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Embedded:            db.Migrations,
		EmbeddedRoot:        "pg",
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return svc.MigrateUp(a.db, a.cfg.DatabaseName)
}

// build wires the repositories and services on top of the started backends.
func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	a.records = record.NewRepository(a.db, a.logger)
	a.types = recordtype.NewRepository(a.db, a.logger)
	a.categories = category.NewRepository(a.db, a.logger)
	a.merges = merge.NewRepository(a.db, a.logger)

	generator, embedder, err := llm.NewClient(ctx, llm.Config{
		Provider:       cfg.LLMProvider,
		APIKey:         cfg.LLMAPIKey,
		BaseURL:        cfg.LLMBaseURL,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.LLMEmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	var (
		matchEmbedder matching.Embedder
		matchOracle   matching.Oracle
		matchCache    matching.EmbeddingCache
	)
	if embedder != nil {
		matchEmbedder = embedder
	}
	if generator != nil && cfg.OracleEnabled {
		matchOracle = llm.NewOracle(generator)
	}
	if a.redis != nil {
		matchCache = redis.NewEmbeddingCache(a.redis, "embedding", cfg.RedisEmbeddingTTL)
	}
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"llm_provider": cfg.LLMProvider,
		"embeddings":   matchEmbedder != nil,
		"oracle":       matchOracle != nil,
		"cache":        matchCache != nil,
	}).Info("Configured similarity backends")

	a.matcher = matching.NewEngine(a.logger, matchEmbedder, matchOracle, matchCache, matching.Options{
		Threshold:        cfg.SimilarityThreshold,
		EmbeddingTimeout: cfg.EmbeddingTimeout,
		OracleTimeout:    cfg.OracleTimeout,
		BackendCooldown:  cfg.BackendCooldown,
		VectorCacheSize:  cfg.VectorCacheSize,
	})

	a.resolver = resolution.NewService(a.logger, a.records, a.types, a.matcher, resolution.Options{
		CandidateLimit: cfg.ResolveCandidateLimit,
		MaxRaceRetries: cfg.MaxRaceRetries,
		BatchChunkSize: cfg.ImportBatchChunkSize,
		EmbedOnCreate:  matchEmbedder != nil,
	}).WithCategories(a.categories)

	scanOpts := scanner.DefaultOptions()
	scanOpts.Threshold = cfg.SimilarityThreshold
	scanOpts.Workers = cfg.ScanWorkers
	scanOpts.PartitionCeiling = cfg.PartitionCeiling
	scanOpts.GeoRadiusMeters = cfg.GeoRadiusMeters
	a.scanner = scanner.New(a.logger, a.merges, a.matcher, scanOpts)

	a.merger = merging.NewEngine(a.logger, a.merges, nil)
	if a.redis != nil {
		a.merger.WithLocker(redis.NewLocker(a.redis, "sorrel", cfg.MergeLockTTL, cfg.MergeLockWait))
	}
	if a.emitter != nil {
		a.resolver.WithEmitter(a.emitter)
		a.merger.WithEmitter(a.emitter)
	}
	if a.projection != nil {
		a.resolver.WithGraph(a.projection)
		a.merger.WithGraph(a.projection)
	}

	a.cleaner = cleanup.NewJob(a.logger, a.scanner, a.merger).WithWorkers(cfg.MergeWorkerCount)
	return nil
}

func (a *app) close(ctx context.Context) {
	if err := a.boot.Stop(ctx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Shutdown finished with errors")
	}
}
