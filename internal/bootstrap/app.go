package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"contextkeeper/internal/ai"
	"contextkeeper/internal/app"
	"contextkeeper/internal/cache"
	"contextkeeper/internal/coherence"
	"contextkeeper/internal/config"
	"contextkeeper/internal/model"
	mysqlClient "contextkeeper/internal/platform/mysql"
	rabbitmqClient "contextkeeper/internal/platform/rabbitmq"
	redisClient "contextkeeper/internal/platform/redis"
	sqliteClient "contextkeeper/internal/platform/sqlite"
	"contextkeeper/internal/repository"
	"contextkeeper/internal/worker"
)

type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	CleanupWorker *worker.CascadeCleanupWorker

	Sessions *app.SessionService
	Drift    *app.DriftService

	StartedAt time.Time
}

// OpenStore connects to the configured driver and migrates the schema.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		db, err = mysqlClient.New(ctx, cfg.MySQLDSN(), logger)
	default:
		db, err = sqliteClient.New(ctx, cfg.SQLite.Path, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(model.Tables()...); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return db, nil
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}

	db, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	if err := a.initEmbedder(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	embedder, err := ai.Shared()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var publisher app.CleanupPublisher
	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		publisher = rabbitmqClient.NewCleanupPublisher(a.MQConn, cfg.RabbitMQ.CleanupQueue)
	}

	var transcripts app.TranscriptCache
	if a.Redis != nil {
		transcripts = cache.NewTranscriptCache(a.Redis, time.Duration(cfg.Redis.TranscriptTTLSeconds)*time.Second)
	}

	a.Sessions = app.NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewContextRepository(db),
		repository.NewChatRepository(db),
		publisher,
		transcripts,
		logger.Named("sessions"),
	)
	engine := coherence.NewEngine(embedder,
		coherence.WithWindow(cfg.Coherence.Window),
		coherence.WithPlaceholder(cfg.Coherence.Placeholder),
	)
	a.Drift = app.NewDriftService(a.Sessions, engine, logger.Named("drift"))

	if a.MQConn != nil {
		a.CleanupWorker = worker.NewCascadeCleanupWorker(
			a.MQConn,
			a.Sessions,
			publisher,
			cfg.RabbitMQ.CleanupQueue,
			cfg.RabbitMQ.MaxAttempts,
			logger,
		)
		if err := a.CleanupWorker.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("start cleanup worker failed: %w", err)
		}
	}

	logger.Info("application initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("rabbitmq", a.MQConn != nil),
	)
	return a, nil
}

// initEmbedder builds provider -> cache -> pool and installs it as the
// process-wide embedder.
func (a *App) initEmbedder(ctx context.Context) error {
	cfg := a.Config.Embedding
	provider, err := ai.NewProvider(ctx, ai.ProviderOptions{
		Provider:   cfg.Provider,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		TaskType:   cfg.TaskType,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create embedding provider failed: %w", err)
	}

	var embedder ai.Embedder = provider
	if a.Redis != nil {
		vectors := cache.NewEmbeddingCache(a.Redis, time.Duration(a.Config.Redis.EmbeddingTTLSeconds)*time.Second)
		embedder = ai.NewCachedEmbedder(embedder, vectors, a.Logger.Named("embedding_cache"))
	}
	embedder = ai.NewPooledEmbedder(embedder, cfg.MaxConcurrency)

	if err := ai.InitShared(embedder); err != nil {
		return fmt.Errorf("init shared embedder failed: %w", err)
	}
	return nil
}

// DriftTimeout bounds a single drift computation.
func (a *App) DriftTimeout() time.Duration {
	if a.Config.Embedding.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.Config.Embedding.TimeoutSeconds) * time.Second
}

func (a *App) Close() error {
	var closeErr error
	if a.CleanupWorker != nil {
		a.CleanupWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if err := ai.CloseShared(); err != nil {
		closeErr = err
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
