package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"pixelgate/internal/cloaking"
	"pixelgate/internal/config"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/internal/management"
	"pixelgate/internal/site"
	"pixelgate/pkg/bootstrap"
	"pixelgate/pkg/health"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/middleware"
	"pixelgate/pkg/migrations"
	"pixelgate/pkg/ratelimit"
	"pixelgate/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	messaging      *bootstrap.Messaging
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
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, constants.ServiceManagement)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, constants.DBConnectTimeout)
	defer cancel()

	db, err := a.dbConnector.InitPostgreSQL(initCtx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		if err := migrations.MigratePostgres(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

// siteCache connects the redis shared with the collectors so that every change
// evicts the cached site before the request returns.
func (a *App) siteCache(ctx context.Context) management.SiteCacheInvalidator {
	initCtx, cancel := context.WithTimeout(ctx, constants.DBConnectTimeout)
	defer cancel()

	rdb, err := a.dbConnector.InitRedis(initCtx)
	if err != nil {
		a.logger.WarnwCtx(initCtx, "Redis connection failed, collectors rely on config events for cache eviction", "error", err)
		return nil
	}
	if rdb == nil {
		return nil
	}
	a.redis = rdb
	return site.NewRedisCache(rdb, 0)
}

// variantStore connects MongoDB when configured. Variant routes answer 503
// without it.
func (a *App) variantStore(ctx context.Context) site.VariantStore {
	initCtx, cancel := context.WithTimeout(ctx, constants.DBConnectTimeout)
	defer cancel()

	mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
	if err != nil {
		a.logger.WarnwCtx(initCtx, "MongoDB connection failed, continuing without content variants", "error", err)
		return nil
	}
	if mongoClient == nil {
		return nil
	}
	a.mongoClient = mongoClient

	dbName := a.config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	mongoDB := mongoClient.Database(dbName)

	if a.config.Database.RunMigrations {
		if err := migrations.EnsureContentVariantIndexes(initCtx, mongoDB, constants.ContentVariantsCollection); err != nil {
			a.logger.WarnwCtx(initCtx, "Failed to create content variant indexes", "error", err)
		}
	}
	return site.NewMongoVariantStore(mongoDB)
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceManagement))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if rl := a.config.Management.RateLimit; rl.Enabled {
		a.rateStore = ratelimit.NewStore(ratelimit.FromConfig(rl))
		router.Use(ratelimit.RateLimitMiddleware(a.rateStore, ratelimit.ClientIPKey))
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	engine, err := cloaking.NewEngine(a.logger)
	if err != nil {
		return fmt.Errorf("failed to create cloaking engine: %w", err)
	}

	opts := []management.ServiceOption{
		management.WithAudit(management.NewAuditRepository(a.db)),
	}
	if variants := a.variantStore(ctx); variants != nil {
		opts = append(opts, management.WithVariants(variants))
	}
	if cache := a.siteCache(ctx); cache != nil {
		opts = append(opts, management.WithSiteCache(cache))
	}

	if a.config.Broker.Kafka.ConfigUpdateTopic != "" {
		messaging, err := bootstrap.InitMessaging(a.config.Broker, constants.ServiceManagement, false, a.logger)
		if err != nil {
			a.logger.WarnwCtx(ctx, "Failed to create config event producer, config events will be disabled", "error", err)
		} else if messaging.Producer != nil {
			a.messaging = messaging
			opts = append(opts, management.WithConfigEvents(
				management.NewConfigEventProducer(messaging.Producer, a.config.Broker.Kafka.ConfigUpdateTopic, a.logger),
			))
			metrics.RegisterBrokerMetrics()
			a.logger.InfowCtx(ctx, "Config event producer initialized")
		}
	}

	svc := management.NewService(management.NewRepository(a.db), engine, a.logger, opts...)
	management.NewHandler(svc, a.logger).RegisterRoutes(router)

	metrics.RegisterManagementMetrics()

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
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout(),
		WriteTimeout: a.config.Server.WriteTimeout(),
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	if a.rateStore != nil {
		go a.rateStore.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	errs = append(errs, a.messaging.Shutdown()...)

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(shutdownCtx, a.redis, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
