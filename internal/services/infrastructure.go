package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/config"
	"github.com/garyjia/docman-backlog/internal/lark"
	"github.com/garyjia/docman-backlog/internal/observability/metrics"
	"github.com/garyjia/docman-backlog/internal/repository"
	"github.com/garyjia/docman-backlog/internal/storage"
	"github.com/garyjia/docman-backlog/pkg/database"
)

// replicatorDrainTimeout bounds how long Close waits for queued mirror uploads
const replicatorDrainTimeout = 30 * time.Second

// Repositories holds all data access layer repositories
type Repositories struct {
	Documents     *repository.DocumentRepository
	ProcessingLog *repository.ProcessingLogRepository
	Reservations  *repository.ReservationRepository
}

// Infrastructure holds all singleton foundational components. Optional
// integrations (Redis, MinIO, Lark) are nil when disabled.
type Infrastructure struct {
	Database     *database.DB
	Repositories *Repositories
	Documents    *storage.LocalFileStorage
	Replicator   *storage.Replicator
	Redis        *redis.Client
	LarkClient   *lark.Client
	Metrics      *metrics.PipelineMetrics
	HTTPServer   *http.Server

	closeOnce sync.Once
	closeErr  error
	logger    *zap.Logger
}

// NewInfrastructure creates and initializes all infrastructure components.
// On failure every component opened so far is released.
func NewInfrastructure(ctx context.Context, cfg *config.Config, logger *zap.Logger) (infra *Infrastructure, err error) {
	infra = &Infrastructure{
		Metrics: metrics.NewPipelineMetrics(),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			infra.Close()
			infra = nil
		}
	}()

	// Initialize database
	dbCfg, err := cfg.DatabaseOptions()
	if err != nil {
		return infra, err
	}
	db, err := database.New(dbCfg, logger)
	if err != nil {
		return infra, fmt.Errorf("failed to initialize database: %w", err)
	}
	infra.Database = db

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
		return infra, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize repositories
	infra.Repositories = &Repositories{
		Documents:     repository.NewDocumentRepository(db, logger),
		ProcessingLog: repository.NewProcessingLogRepository(db, logger),
		Reservations:  repository.NewReservationRepository(db, cfg.Backlog.ReservationTTL, logger),
	}

	// Initialize document storage and its optional mirror
	infra.Documents = storage.NewLocalFileStorage(cfg.Storage.DocumentsDir, logger)
	if cfg.MinIO.Enabled {
		if err := infra.initMirror(ctx, cfg.MinIO); err != nil {
			return infra, err
		}
	}

	// Initialize Redis
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return infra, fmt.Errorf("failed to connect to redis: %w", err)
		}
		infra.Redis = rdb
	}

	// Initialize Lark client
	if cfg.Lark.Enabled {
		infra.LarkClient = lark.NewClient(lark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
		}, logger)
	}

	logger.Info("Infrastructure initialized",
		zap.String("database_driver", db.Driver()),
		zap.String("documents_dir", cfg.Storage.DocumentsDir),
		zap.Bool("mirror", infra.Replicator != nil),
		zap.Bool("redis", infra.Redis != nil),
		zap.Bool("lark", infra.LarkClient != nil))

	return infra, nil
}

func (i *Infrastructure) initMirror(ctx context.Context, cfg config.MinIOConfig) error {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	store, err := storage.NewMinIOStore(connectCtx, storage.MinIOConfig{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UseSSL:          cfg.UseSSL,
		Bucket:          cfg.Bucket,
		BasePath:        cfg.BasePath,
		MaxRetries:      cfg.MaxRetries,
	}, i.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize minio mirror: %w", err)
	}

	i.Replicator = storage.NewReplicator(i.Documents, store, cfg.QueueSize, cfg.Workers, cfg.MaxRetries, i.logger)
	i.Replicator.Start(context.Background())
	i.Documents.WithMirror(i.Replicator)
	return nil
}

// StartHTTPServer starts the HTTP server in a goroutine
func (i *Infrastructure) StartHTTPServer(cfg config.ServerConfig, handler http.Handler) {
	i.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		i.logger.Info("Starting HTTP server", zap.String("address", i.HTTPServer.Addr))
		if err := i.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			i.logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the HTTP server and releases all components
func (i *Infrastructure) Shutdown(ctx context.Context) error {
	i.logger.Info("Shutting down infrastructure...")

	if i.HTTPServer != nil {
		if err := i.HTTPServer.Shutdown(ctx); err != nil {
			i.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	err := i.Close()
	i.logger.Info("Infrastructure shutdown complete")
	return err
}

// Close releases the mirror, Redis and the database. It is safe to call
// more than once; only the first call does any work.
func (i *Infrastructure) Close() error {
	i.closeOnce.Do(func() {
		var errs []error

		if i.Replicator != nil {
			ctx, cancel := context.WithTimeout(context.Background(), replicatorDrainTimeout)
			if err := i.Replicator.Stop(ctx); err != nil {
				i.logger.Warn("Replicator did not drain", zap.Error(err))
				errs = append(errs, fmt.Errorf("failed to stop replicator: %w", err))
			}
			cancel()
		}

		if i.Redis != nil {
			if err := i.Redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
			}
		}

		if i.Database != nil {
			if err := i.Database.Close(); err != nil {
				i.logger.Error("Database close error", zap.Error(err))
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			}
		}

		i.closeErr = errors.Join(errs...)
	})
	return i.closeErr
}
