package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"facecraft/internal/config"
	"facecraft/internal/models"
	redis_cache "facecraft/internal/repository/job/cache/redis"
	minio_repo "facecraft/internal/repository/job/cloud/minio"
	postgres_repo "facecraft/internal/repository/job/db/postgres"
	local_repo "facecraft/internal/repository/job/local"
	job_uc "facecraft/internal/usecase/job"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

type fileStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Core is what the API server and the worker share: models, job metadata,
// artifact storage, the optional result cache and the job usecase on top.
type Core struct {
	Models  *models.Set
	DB      *dbpg.DB
	Jobs    *postgres_repo.JobsRepository
	Files   fileStore
	Cache   *redis_cache.ResultCache
	Usecase *job_uc.JobUsecase

	logger *zlog.Zerolog
}

// SetLogLevel applies the configured level to every zerolog logger.
func SetLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("failed to parse log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func NewCore(ctx context.Context, cfg *config.Config, logger *zlog.Zerolog, opts ...job_uc.Option) (*Core, error) {
	c := &Core{logger: logger}

	set, err := models.Load(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	c.Models = set

	dbOpts := &dbpg.Options{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}
	db, err := dbpg.New(cfg.DBDSN(), []string{}, dbOpts)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	retries := cfg.DefaultRetryStrategy()
	c.Jobs = postgres_repo.NewJobsRepository(db, retries)
	if err := c.Jobs.EnsureSchema(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to prepare database schema: %w", err)
	}

	c.Files, err = openFileStore(ctx, cfg.Storage, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Cache = openCache(ctx, cfg, logger)
	if c.Cache != nil {
		opts = append(opts, job_uc.WithCache(c.Cache))
	}

	c.Usecase = job_uc.NewJobUsecase(set.Processor, c.Jobs, c.Files, retries, logger, opts...)

	if n, err := c.Jobs.Count(ctx); err == nil {
		logger.Info().Int("jobs", n).Str("storage", cfg.Storage.Backend).Msg("Job store ready")
	}

	return c, nil
}

func openFileStore(ctx context.Context, cfg config.Storage, logger *zlog.Zerolog) (fileStore, error) {
	switch cfg.Backend {
	case "minio":
		repo, err := minio_repo.NewMinIORepository(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file repository: %w", err)
		}
		if err := repo.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare bucket: %w", err)
		}
		return repo, nil
	default:
		repo, err := local_repo.NewFileRepository(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create file repository: %w", err)
		}
		return repo, nil
	}
}

// openCache returns nil when no address is configured or Redis does not
// answer; the service then runs without result reuse.
func openCache(ctx context.Context, cfg *config.Config, logger *zlog.Zerolog) *redis_cache.ResultCache {
	if cfg.Redis.Addr == "" {
		return nil
	}

	cache := redis_cache.NewResultCache(cfg.Redis, cfg.CleanupAge())
	if err := cache.Ping(ctx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, result cache disabled")
		cache.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Result cache enabled")
	return cache
}

func (c *Core) ModelsReady(context.Context) error {
	if !c.Models.Ready() {
		return errors.New("required models are not loaded")
	}
	return nil
}

func (c *Core) Close() {
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close result cache")
		}
	}
	if c.DB != nil && c.DB.Master != nil {
		if err := c.DB.Master.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close database")
		}
	}
	if c.Models != nil {
		if err := c.Models.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to release models")
		}
	}
}
