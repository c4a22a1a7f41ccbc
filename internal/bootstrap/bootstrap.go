// Package bootstrap assembles imagevault's backends and services from
// configuration. Both the server and the admin CLI build on it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/archive"
	"github.com/prn-tf/imagevault/internal/cache/memory"
	"github.com/prn-tf/imagevault/internal/codec"
	"github.com/prn-tf/imagevault/internal/config"
	"github.com/prn-tf/imagevault/internal/lock"
	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/repository"
	"github.com/prn-tf/imagevault/internal/repository/postgres"
	"github.com/prn-tf/imagevault/internal/repository/redis"
	"github.com/prn-tf/imagevault/internal/repository/sqlite"
	"github.com/prn-tf/imagevault/internal/service"
	"github.com/prn-tf/imagevault/internal/worker"
)

// memoryCacheEntries bounds the in-process thumbnail cache.
const memoryCacheEntries = 10000

// OpenDatabase connects to the configured backend. The schema is not
// migrated here.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (repository.Database, *repository.Repositories, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqlite.ConfigFromDatabase(cfg), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, &repository.Repositories{Blob: sqlite.NewBlobRepository(db)}, nil
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, &repository.Repositories{Blob: postgres.NewBlobRepository(db)}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Coordination is the thumbnail cache and sweep lock, shared through Redis
// when it is enabled and process-local otherwise.
type Coordination struct {
	Cache  repository.Cache
	Locker lock.Locker
	close  func() error
}

// Close releases the backing connection or cache.
func (c *Coordination) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// OpenCoordination builds the cache and locker.
func OpenCoordination(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Coordination, error) {
	if !cfg.Enabled {
		cache := memory.NewCache(memoryCacheEntries)
		logger.Info().Msg("redis disabled, using in-process cache and lock")
		return &Coordination{
			Cache:  cache,
			Locker: lock.NewMemoryLocker(),
			close: func() error {
				cache.Close()
				return nil
			},
		}, nil
	}

	client, err := redis.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.Addr()).Msg("connected to redis")

	return &Coordination{
		Cache:  redis.NewCache(client, cfg.KeyPrefix),
		Locker: lock.NewRedisLocker(redis.NewLock(client, cfg.KeyPrefix)),
		close:  client.Close,
	}, nil
}

// OpenArchiver returns the S3 archiver when archival is enabled.
func OpenArchiver(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (archive.Archiver, error) {
	if !cfg.Enabled {
		return archive.NoopArchiver{}, nil
	}
	a, err := archive.NewS3Archiver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("archiving swept images")
	return a, nil
}

// CodecOptions maps the images section onto codec.Options.
func CodecOptions(cfg config.ImagesConfig) codec.Options {
	return codec.Options{
		MaxWidth:         cfg.MaxWidth,
		MaxHeight:        cfg.MaxHeight,
		ThumbnailSize:    cfg.ThumbnailSize,
		ThumbnailQuality: cfg.ThumbnailQuality,
		JPEGQuality:      cfg.JPEGQuality,
		WEBPQuality:      cfg.WEBPQuality,
		PNGLevel:         cfg.PNGLevel,
	}
}

// Services holds the wired service layer.
type Services struct {
	Ingest    *service.IngestService
	Delivery  *service.DeliveryService
	Catalog   *service.CatalogService
	Retention *service.RetentionService
	Usage     *service.UsageRecorder
}

// NewServices wires the services. m may be nil. The usage recorder is
// returned unstarted.
func NewServices(
	cfg *config.Config,
	repos *repository.Repositories,
	coord *Coordination,
	archiver archive.Archiver,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Services {
	// A nil *metrics.Metrics must not become a non-nil Observer.
	var observer worker.Observer
	if m != nil {
		observer = m
	}

	codecPool := worker.NewPool(worker.Config{
		Name:      "codec",
		Workers:   cfg.Workers.CodecWorkers,
		QueueSize: cfg.Workers.CodecQueue,
	}, observer)
	deliveryPool := worker.NewPool(worker.Config{
		Name:      "delivery",
		Workers:   cfg.Workers.DeliveryWorkers,
		QueueSize: cfg.Workers.DeliveryQueue,
	}, observer)

	usage := service.NewUsageRecorder(repos.Blob, coord.Cache, m, logger, service.UsageConfig{
		QueueSize: cfg.Usage.QueueSize,
		Workers:   cfg.Usage.Workers,
		Timeout:   cfg.Usage.Timeout,
	})

	return &Services{
		Ingest: service.NewIngestService(repos.Blob, codec.NewProcessor(CodecOptions(cfg.Images)), codecPool, m, logger, service.IngestConfig{
			MaxUploadSize: cfg.Images.MaxUploadSize,
			AllowedTypes:  cfg.Images.AllowedTypes,
			ChunkSize:     cfg.Images.ChunkSize,
		}),
		Delivery: service.NewDeliveryService(repos.Blob, coord.Cache, deliveryPool, usage, m, logger, cfg.Cache.ThumbnailTTL),
		Catalog:  service.NewCatalogService(repos.Blob, coord.Cache, logger),
		Retention: service.NewRetentionService(repos.Blob, archiver, coord.Cache, coord.Locker, m, logger, service.RetentionConfig{
			Enabled:   cfg.Retention.Enabled,
			Schedule:  cfg.Retention.Schedule,
			DaysOld:   cfg.Retention.DaysOld,
			BatchSize: cfg.Retention.BatchSize,
			DryRun:    cfg.Retention.DryRun,
			LockTTL:   cfg.Retention.LockTTL,
		}),
		Usage: usage,
	}
}
