package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	openaiapi "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/lumora-ai/lumora/internal/api/handlers"
	"github.com/lumora-ai/lumora/internal/config"
	"github.com/lumora-ai/lumora/internal/database"
	"github.com/lumora-ai/lumora/internal/jobs"
	"github.com/lumora-ai/lumora/internal/metrics"
	"github.com/lumora-ai/lumora/internal/openai"
	"github.com/lumora-ai/lumora/internal/rerank"
	"github.com/lumora-ai/lumora/internal/repository"
	"github.com/lumora-ai/lumora/internal/server"
	"github.com/lumora-ai/lumora/internal/service"
	"github.com/lumora-ai/lumora/internal/storage"
	"github.com/lumora-ai/lumora/internal/telemetry"
	"github.com/lumora-ai/lumora/internal/tokens"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the retrieval engine",
		Long:  "Start the lumora API server, dispatch worker, and metrics endpoint",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Do not start the dispatch worker in this process")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	chunkRepo := repository.NewChunkRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	dispatchRepo := repository.NewDispatchRepository(pool)
	flagRepo := repository.NewFlagRepository(pool)
	ruleRepo := repository.NewIntentRuleRepository(pool)
	logRepo := repository.NewRetrievalLogRepository(pool)

	pipelineMetrics := metrics.New()

	var snapshots service.SnapshotStore
	if cfg.HasS3() {
		store, err := storage.NewSnapshotStore(ctx, storage.SnapshotStoreConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create snapshot store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure snapshot bucket: %w", err)
		}
		log.Printf("snapshot bucket '%s' ready", cfg.S3Bucket)
		snapshots = store
	}

	var embedder *openai.Client
	if cfg.HasOpenAI() {
		embedder = openai.NewClientWithConfig(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: openaiapi.EmbeddingModel(cfg.EmbeddingModel),
		})
	} else {
		log.Println("no OpenAI key configured: chunking disabled, retrieval runs sparse-only")
	}

	counter, err := tokens.NewTiktokenCounter(cfg.TokenEncoding)
	if err != nil {
		return fmt.Errorf("failed to initialize token counter: %w", err)
	}

	var reranker rerank.Reranker = rerank.Passthrough{}
	if cfg.HasReranker() {
		reranker = rerank.NewHTTPReranker(cfg.RerankEndpoint, cfg.RerankTimeout)
		log.Printf("reranker configured at %s", cfg.RerankEndpoint)
	}

	sourceSvc := service.NewSourceService(sourceRepo, snapshots)
	flagSvc := service.NewFlagService(flagRepo, cfg.FlagCacheSize, cfg.FlagCacheTTL)
	routerSvc := service.NewRouterService(ruleRepo, pipelineMetrics, service.RouterConfig{
		TotalBudget:     cfg.TotalContextBudget,
		PrimaryShare:    cfg.PrimaryBudgetShare,
		CacheTTL:        cfg.FlagCacheTTL,
		PipelineVersion: cfg.PipelineVersion,
	})

	var queryEmbedder service.QueryEmbedder
	var chunkEmbedder service.Embedder
	if embedder != nil {
		queryEmbedder = embedder
		chunkEmbedder = embedder
	}

	chunkerSvc := service.NewChunkerService(chunkRepo, sourceSvc, chunkEmbedder, pipelineMetrics, service.ChunkerConfig{
		MaxSectionWords:   cfg.MaxSectionWords,
		TLDRMaxWords:      cfg.TLDRMaxWords,
		CorrectedPriority: cfg.CorrectedPriority,
		PipelineVersion:   cfg.PipelineVersion,
	})

	retrieverSvc := service.NewRetrieverService(chunkRepo, queryEmbedder, reranker, flagSvc, counter, pipelineMetrics, logRepo, service.RetrieverConfig{
		RRFK:               cfg.RRFK,
		SemanticWeight:     cfg.SemanticWeight,
		LexicalWeight:      cfg.LexicalWeight,
		DefaultTokenBudget: cfg.TotalContextBudget,
		PipelineVersion:    cfg.PipelineVersion,
	})

	dispatcher := jobs.NewDispatcher(dispatchRepo, jobs.DispatcherConfig{
		MinDelay: cfg.DispatchMinDelay,
		MaxDelay: cfg.DispatchMaxDelay,
		Spacing:  cfg.DispatchSpacing,
	})

	var dispatchWorker *jobs.Worker
	noWorker, _ := cmd.Flags().GetBool("no-worker")
	if !noWorker {
		processor := jobs.NewChunkWorker(dispatchRepo, chunkerSvc, nil, cfg.WorkerBatchSize)
		dispatchWorker = jobs.NewWorker(processor, cfg.WorkerPollInterval)
		go dispatchWorker.Start(ctx)
		log.Println("dispatch worker started")
	}

	routerCfg := server.RouterConfig{
		ChunkHandler:    handlers.NewChunkHandler(chunkerSvc, sourceSvc, dispatcher),
		RetrieveHandler: handlers.NewRetrieveHandler(retrieverSvc, routerSvc),
		FlagHandler:     handlers.NewFlagHandler(flagSvc),
		MetricsHandler:  pipelineMetrics.Handler(),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if dispatchWorker != nil {
		dispatchWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
