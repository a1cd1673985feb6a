package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/auth"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/cache"
	rediscache "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/cache/redis"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/config"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/event"
	handler "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/handler/http"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository/memory"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository/postgres"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/service"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/storage/local"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/migrations"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/database"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/health"
	pkgkafka "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/kafka"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/middleware"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

// App wires together all dependencies and runs the book service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	shutdownTracer func(context.Context) error
	handler        http.Handler
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
// Resources opened before a failure are released before it returns.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.closeResources(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Tracing.
	shutdownTracer, err := tracing.InitTracer(initCtx, cfg.TracingConfig())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracer = shutdownTracer

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	healthHandler := health.NewHandler()

	repo, err := a.initRepository(initCtx, registry, healthHandler)
	if err != nil {
		return err
	}

	// Cover image storage.
	store, err := local.New(cfg.ImageDir, cfg.ImageBaseURL())
	if err != nil {
		return fmt.Errorf("init image storage: %w", err)
	}
	healthHandler.Register("image_storage", func(context.Context) error {
		_, err := os.Stat(store.Dir())
		return err
	})

	bestRated, err := a.initCache(initCtx, healthHandler)
	if err != nil {
		return err
	}

	events := a.initEvents(healthHandler)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry, cfg.JWTIssuer)
	bookService := service.NewBookService(repo, store, bestRated, events, logger)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	a.handler = handler.NewRouter(handler.RouterConfig{
		BookService:   bookService,
		HealthHandler: healthHandler,
		ValidateToken: jwtManager.UserID,
		Metrics:       middleware.NewHTTPMetrics(registry, config.ServiceName),
		Gatherer:      registry,
		CORS:          corsCfg,
		ImageDir:      store.Dir(),
		ImagePath:     cfg.ImageRoute(),
		Logger:        logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return nil
}

// initRepository opens the configured book store.
func (a *App) initRepository(ctx context.Context, reg prometheus.Registerer, hh *health.Handler) (repository.BookRepository, error) {
	if a.cfg.StoreDriver == config.StoreDriverMemory {
		a.logger.Warn("using in-memory book store; data is lost on restart")
		return memory.NewBookRepository(), nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if err := database.RegisterPoolMetrics(reg, pool, config.ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold, a.logger)

	hh.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	return postgres.NewBookRepository(pool), nil
}

// initCache connects the Redis best-rated cache when enabled.
func (a *App) initCache(ctx context.Context, hh *health.Handler) (cache.BestRatedCache, error) {
	if !a.cfg.RedisEnabled {
		return cache.Noop{}, nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.RedisConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis",
		slog.String("addr", a.cfg.RedisConfig().Addr()),
		slog.Duration("bestrating_ttl", a.cfg.BestRatingCacheTTL),
	)

	hh.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return rediscache.NewBestRatedCache(client, a.cfg.BestRatingCacheTTL), nil
}

// initEvents creates the Kafka event producer when enabled. Brokers are not
// contacted until the first publish; readiness reports their reachability.
func (a *App) initEvents(hh *health.Handler) event.Publisher {
	if !a.cfg.KafkaEnabled {
		return event.Noop{}
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.producer = producer
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))

	hh.Register("kafka", producer.Ping)
	return event.NewProducer(producer, a.logger)
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources(context.Background())
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeResources(shutdownCtx)

	a.logger.Info("application shutdown complete")
	return nil
}

// closeResources releases every opened client. It tolerates components
// that were never created.
func (a *App) closeResources(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
