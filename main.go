package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/backend"
	"github.com/lumina-bi/lumina-engine/pkg/cache"
	"github.com/lumina-bi/lumina-engine/pkg/config"
	"github.com/lumina-bi/lumina-engine/pkg/database"
	"github.com/lumina-bi/lumina-engine/pkg/handlers"
	"github.com/lumina-bi/lumina-engine/pkg/logging"
	"github.com/lumina-bi/lumina-engine/pkg/middleware"
	"github.com/lumina-bi/lumina-engine/pkg/repositories"
	"github.com/lumina-bi/lumina-engine/pkg/scheduler"
	"github.com/lumina-bi/lumina-engine/pkg/services"
	"github.com/lumina-bi/lumina-engine/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

// migrationsPath is where the catalogue schema migrations live relative to
// the working directory.
const migrationsPath = "migrations"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.Bool("redis_enabled", cfg.Redis.Host != ""),
		zap.Bool("warehouse_enabled", cfg.Warehouse.Enabled()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Relational backend: catalogue, snapshots, and the fallback executor.
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Migrations run over database/sql; borrow a stdlib handle from the pool.
	migrationDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(migrationDB, migrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration handle", zap.Error(err))
	}

	// Ephemeral cache tier: Redis when configured, in-process otherwise.
	var store cache.Store
	if cfg.Redis.Host != "" {
		client, err := database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		store = cache.NewRedisStore(client)
		logger.Info("Using Redis result cache", zap.String("addr", cfg.Redis.Addr()))
	} else {
		store = cache.NewMemoryStore()
		logger.Info("Using in-process result cache")
	}

	// Analytical warehouse. A configured-but-unreachable warehouse is not
	// fatal: the router falls back to the relational backend.
	warehouse, err := database.NewWarehouse(ctx, &cfg.Warehouse)
	if err != nil {
		logger.Error("Failed to open warehouse, continuing on relational backend only", zap.Error(err))
		warehouse = nil
	}
	if warehouse != nil {
		defer func() { _ = warehouse.Close() }()
	}

	// Execution plumbing shared by both services. The renderer instance is
	// shared with the query service so ad-hoc cache keys match rendered SQL.
	renderer := sql.NewRenderer(cfg.Warehouse.Schema)
	classifier := backend.NewClassifier(cfg.Warehouse.Tables)
	relational := backend.NewPostgresExecutor(db)
	var warehouseExecutor backend.QueryExecutor
	if warehouse != nil {
		warehouseExecutor = backend.NewDuckDBExecutor(warehouse)
	}
	router := backend.NewRouter(relational, warehouseExecutor, classifier, renderer, cfg.Warehouse.MaxRetries, logger)

	// Repositories and services.
	queryRepo := repositories.NewValidatedQueryRepository(db)
	dimensionRepo := repositories.NewFilterDimensionRepository(db)
	snapshotRepo := repositories.NewSnapshotRepository(db)

	ttls := services.CacheTTLs{
		Results:       cfg.Cache.ResultTTL,
		FilterOptions: cfg.Cache.FilterOptionsTTL,
		AdHoc:         cfg.Cache.AdHocTTL,
	}
	queryService := services.NewValidatedQueryService(queryRepo, snapshotRepo, store, router, renderer, ttls, logger)
	filterService := services.NewFilterService(dimensionRepo, store, router, ttls, logger)

	// Bootstrap the catalogue on first start.
	seeder := services.NewCatalogueSeeder(queryService, filterService, logger)
	if err := seeder.Seed(ctx, cfg.CatalogSeedPath); err != nil {
		logger.Fatal("Failed to seed catalogue", zap.Error(err))
	}

	// Fill the option cache so the first dashboard load doesn't pay for
	// enumeration queries.
	go func() {
		warmCtx, warmCancel := context.WithTimeout(ctx, 5*time.Minute)
		defer warmCancel()
		report, err := filterService.WarmUp(warmCtx)
		if err != nil {
			logger.Warn("Startup warm-up failed", zap.Error(err))
			return
		}
		logger.Info("Startup warm-up finished",
			zap.Int("dimensions", report.Dimensions),
			zap.Int("warmed", report.Warmed),
			zap.Strings("failed", report.Failed))
	}()

	// Background cache maintenance.
	sched := scheduler.New(queryService, filterService, logger)
	if err := sched.Start(&cfg.Schedule); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// HTTP surface.
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set; administrative endpoints are disabled")
	}
	admin := middleware.NewAdmin(cfg.AdminToken, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, warehouse, logger).RegisterRoutes(mux)
	handlers.NewValidatedQueriesHandler(queryService, logger).RegisterRoutes(mux, admin)
	handlers.NewFiltersHandler(filterService, logger).RegisterRoutes(mux, admin)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:      middleware.RequestLogger(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Forced shutdown", zap.Error(err))
		}
	}()

	logger.Info("Starting lumina-engine",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
