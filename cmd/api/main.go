package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-snapshot-api/internal/cache"
	"listing-snapshot-api/internal/config"
	"listing-snapshot-api/internal/events"
	"listing-snapshot-api/internal/handler"
	"listing-snapshot-api/internal/logger"
	"listing-snapshot-api/internal/metrics"
	"listing-snapshot-api/internal/naming"
	"listing-snapshot-api/internal/queue"
	"listing-snapshot-api/internal/repository"
	"listing-snapshot-api/internal/router"
	"listing-snapshot-api/internal/scheduler"
	"listing-snapshot-api/internal/schema"
	"listing-snapshot-api/internal/service"
	"listing-snapshot-api/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	log, err := logger.New(cfg.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting", zap.String("environment", cfg.App.Environment))

	m := metrics.Default(metrics.Config{ServiceName: cfg.App.Name, Environment: cfg.App.Environment})

	// Initialize snapshot repository based on config
	repo, err := openRepository(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize snapshot repository", zap.String("db_type", cfg.Database.Type), zap.Error(err))
	}
	defer repo.Close()

	// Initialize Redis client for the job queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.Address(),
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable yet, queue calls will fail until it is", zap.String("addr", cfg.Queue.Address()), zap.Error(err))
	} else {
		log.Info("redis client initialized", zap.String("addr", cfg.Queue.Address()))
	}
	cancel()

	store := queue.NewRedisStore(redisClient, cfg.Queue.Prefix)
	sched := scheduler.New(store, scheduler.Config{OpTimeout: cfg.Queue.OpTimeout}, m, log)

	// Metadata lookups
	var metaCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		metaCache = cache.NewRedisCache(redisClient, "")
	default:
		metaCache = cache.NewMemoryCache(time.Minute)
	}
	defer metaCache.Close()

	lookup := schema.NewCachedLookup(
		schema.NewClient(cfg.Services.SchemaURL, cfg.Services.Timeout),
		schema.NewClient(cfg.Services.SkinURL, cfg.Services.Timeout),
		metaCache, cfg.Cache.TTL, log,
	)
	resolver := naming.NewResolver(lookup, lookup)

	publisher, err := openPublisher(cfg.Events, redisClient, log)
	if err != nil {
		log.Fatal("failed to initialize event publisher", zap.String("driver", cfg.Events.Driver), zap.Error(err))
	}
	defer publisher.Close()

	// Initialize services
	listingService := service.NewListingService(repo, resolver, sched, publisher, m, log)
	listingService.SetOpTimeout(cfg.Database.OpTimeout)

	stale := service.NewStalenessScheduler(repo, listingService, service.StalenessConfig{
		StaleAfter:    cfg.Staleness.StaleAfter,
		CheckInterval: cfg.Staleness.CheckInterval,
		BatchSize:     cfg.Staleness.BatchSize,
		Priority:      cfg.Staleness.RefreshPriority,
		InitialDelay:  time.Minute,
	}, log)
	stale.Start()

	var pool *worker.Pool
	if cfg.Worker.RefreshURL != "" {
		pool = worker.NewPool(store, worker.NewHTTPProcessor(cfg.Worker.RefreshURL, cfg.Worker.JobTimeout), worker.Config{
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			JobTimeout:   cfg.Worker.JobTimeout,
			LockDuration: cfg.Worker.LockDuration,
		}, m, log)
		pool.Start(context.Background())
	} else {
		log.Info("refresh worker disabled, WORKER_REFRESH_URL is empty")
	}

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Version, sched, handler.Dependency{Name: "database", Pinger: repo})
	listingHandler := handler.NewListingHandler(listingService, log)
	queueHandler := handler.NewQueueHandler(sched, log)
	adminHandler := handler.NewAdminHandler(listingService, sched, cfg.Database.Type)

	// Create router
	r := router.New(router.Config{
		Handler:        healthHandler,
		ListingHandler: listingHandler,
		QueueHandler:   queueHandler,
		AdminHandler:   adminHandler,
		Metrics:        promhttp.Handler(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         log,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	// Stop background work after the last request has finished.
	stale.Stop()
	if pool != nil {
		pool.Stop()
	}

	log.Info("server stopped")
}

func openRepository(cfg config.DatabaseConfig, log *zap.Logger) (repository.SnapshotRepository, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	switch cfg.Type {
	case "mongodb", "mongo":
		mongoRepo, err := repository.NewMongoDBSnapshotRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, log)
		if err != nil {
			return nil, err
		}
		log.Info("MongoDB snapshot repository initialized")
		return mongoRepo, nil
	case "postgres", "postgresql":
		pgRepo, err := repository.NewPostgresSnapshotRepository(cfg.PostgresDSN(), pool, log)
		if err != nil {
			return nil, err
		}
		log.Info("PostgreSQL snapshot repository initialized")
		return pgRepo, nil
	case "mysql":
		mysqlRepo, err := repository.NewMySQLSnapshotRepository(cfg.MySQLDSN(), pool, log)
		if err != nil {
			return nil, err
		}
		log.Info("MySQL snapshot repository initialized")
		return mysqlRepo, nil
	case "sqlite", "":
		sqliteRepo, err := repository.NewSQLiteSnapshotRepository(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		log.Info("SQLite snapshot repository initialized", zap.String("path", cfg.Path))
		return sqliteRepo, nil
	default:
		return nil, fmt.Errorf("unknown DB_TYPE %q", cfg.Type)
	}
}

func openPublisher(cfg config.EventsConfig, client *redis.Client, log *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "amqp", "rabbitmq":
		p, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL(), Exchange: cfg.Exchange}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "redis":
		return events.NewRedisPublisher(client, cfg.RedisChannel), nil
	case "none", "":
		log.Info("snapshot events disabled")
		return events.NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown EVENTS_DRIVER %q", cfg.Driver)
	}
}
