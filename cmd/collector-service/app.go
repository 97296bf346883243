package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"pixelgate/internal/botdetect"
	"pixelgate/internal/broker"
	"pixelgate/internal/cloaking"
	"pixelgate/internal/collector"
	"pixelgate/internal/config"
	"pixelgate/internal/constants"
	"pixelgate/internal/geo"
	"pixelgate/internal/logger"
	"pixelgate/internal/outcome"
	"pixelgate/internal/signals"
	"pixelgate/internal/site"
	"pixelgate/pkg/bootstrap"
	"pixelgate/pkg/health"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/middleware"
	"pixelgate/pkg/migrations"
	"pixelgate/pkg/ratelimit"
	"pixelgate/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	mongoDB        *mongo.Database
	messaging      *bootstrap.Messaging
	publisher      *outcome.PublishingStore
	resolver       *site.Resolver
	rateStore      *ratelimit.Store
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		messaging:   &bootstrap.Messaging{},
	}
}

func (a *App) Initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, constants.DBConnectTimeout)
	defer cancel()

	if err := a.initDatabases(initCtx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if a.config.Database.RunMigrations {
		if err := a.migrate(initCtx); err != nil {
			return err
		}
	}

	messaging, err := bootstrap.InitMessaging(a.config.Broker, constants.ServiceCollector,
		a.config.Broker.Kafka.ConfigUpdateTopic != "", a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	a.messaging = messaging

	tp, err := tracing.Init(a.config.Tracing, constants.ServiceCollector)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.initServer()
	return nil
}

// initDatabases connects PostgreSQL, which is required, and Redis and MongoDB
// when configured. Without them the collector runs uncached and without
// content variants.
func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, continuing without site and geo caches", "error", err)
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "MongoDB connection failed, continuing without content variants", "error", err)
	} else if mongoClient != nil {
		a.mongoClient = mongoClient
		dbName := a.config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		a.mongoDB = mongoClient.Database(dbName)
	}
	return nil
}

func (a *App) migrate(ctx context.Context) error {
	if err := migrations.MigratePostgres(a.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if a.mongoDB != nil {
		if err := migrations.EnsureContentVariantIndexes(ctx, a.mongoDB, constants.ContentVariantsCollection); err != nil {
			return fmt.Errorf("failed to create content variant indexes: %w", err)
		}
	}
	return nil
}

func (a *App) outcomeStore() outcome.Store {
	store := outcome.NewPostgresStore(a.db)

	topic := a.config.Broker.Kafka.OutcomeTopic
	if a.messaging.Producer == nil || topic == "" {
		return store
	}

	a.publisher = outcome.NewPublishingStore(store, a.messaging.Producer, topic,
		constants.ServiceCollector, broker.RetryPolicy(a.config.Broker.Kafka.Retry), a.logger)
	a.logger.InfowCtx(context.Background(), "Publishing outcomes", "topic", topic)
	return a.publisher
}

func (a *App) initRouter() error {
	var (
		cache    site.Cache
		variants site.VariantStore
	)
	evicted := a.messaging.Consumer != nil || a.config.Collector.SiteCacheSharedEviction
	cache = site.NewCollectorCache(a.redis, a.config.Collector.SiteCacheTTL(), evicted)
	if cache == nil && a.redis != nil {
		a.logger.InfowCtx(context.Background(), "Site cache disabled",
			"ttl_seconds", a.config.Collector.SiteCacheTTLSeconds,
			"config_events", a.messaging.Consumer != nil,
		)
	}
	if a.mongoDB != nil {
		variants = site.NewMongoVariantStore(a.mongoDB)
	}
	a.resolver = site.NewResolver(site.NewRepository(a.db), variants, cache, a.logger)

	engine, err := cloaking.NewEngine(a.logger)
	if err != nil {
		return fmt.Errorf("failed to create cloaking engine: %w", err)
	}

	locator := geo.NewLocator(a.config.Geo, a.config.CircuitBreaker, a.redis, a.logger)

	svc := collector.NewService(collector.Dependencies{
		Sites:      a.resolver,
		Normalizer: signals.NewNormalizer(a.config.Collector, locator, a.logger),
		Classifier: botdetect.NewClassifier(),
		Engine:     engine,
		Hits:       cloaking.NewPostgresHitRecorder(a.db),
		Store:      a.outcomeStore(),
	}, a.config.Collector, a.logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceCollector))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if rl := a.config.Collector.RateLimit; rl.Enabled {
		a.rateStore = ratelimit.NewStore(ratelimit.FromConfig(rl))
		router.Use(ratelimit.RateLimitMiddleware(a.rateStore, ratelimit.ClientIPKey))
		a.logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	collector.NewHandler(svc, a.logger).RegisterRoutes(router)

	metrics.RegisterCollectorMetrics()
	if a.messaging.Producer != nil {
		metrics.RegisterBrokerMetrics()
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db), true)
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis), false)
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient), false)
	}

	router.GET("/health", healthRegistry.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout(),
		WriteTimeout: a.config.Server.WriteTimeout(),
	}
}

// Run serves HTTP and, with a broker, consumes site configuration events
// until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.messaging.Consumer != nil {
		invalidator := site.NewInvalidator(a.resolver, a.logger)
		topic := a.config.Broker.Kafka.ConfigUpdateTopic
		g.Go(func() error {
			a.logger.InfowCtx(gCtx, "Starting site config event consumer", "topic", topic)
			err := a.messaging.Consumer.Consume(gCtx, topic, invalidator.HandleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("config event consumer error: %w", err)
			}
			return nil
		})
	}

	if a.rateStore != nil {
		g.Go(func() error {
			a.rateStore.Run(gCtx)
			return nil
		})
	}

	runErr := g.Wait()
	if err := a.Shutdown(ctx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown runs after the server has stopped accepting requests. Pending
// outcome publishes finish before the producer closes.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down collector")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.publisher != nil {
		a.publisher.Wait()
	}
	errs = append(errs, a.messaging.Shutdown()...)

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.closeDatabases(shutdownCtx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Collector exited successfully")
	return nil
}

func (a *App) closeDatabases(ctx context.Context) []error {
	return a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)
}
