package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/repository"
)

// UsageSink accepts usage increments without blocking the caller.
type UsageSink interface {
	Record(blobID string)
}

// UsageConfig sizes the recorder.
type UsageConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// UsageRecorder applies usage increments in the background. Failures and
// drops are logged and counted, never returned to the reader.
type UsageRecorder struct {
	blobRepo repository.BlobRepository
	cache    repository.Cache
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   UsageConfig

	mu      sync.RWMutex
	queue   chan string
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewUsageRecorder creates a recorder. Call Start before Record. Each applied
// increment moves updated_at, so the blob's cached thumbnail entry is dropped;
// cache may be nil.
func NewUsageRecorder(blobRepo repository.BlobRepository, cache repository.Cache, m *metrics.Metrics, logger zerolog.Logger, config UsageConfig) *UsageRecorder {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &UsageRecorder{
		blobRepo: blobRepo,
		cache:    cache,
		metrics:  m,
		logger:   logger.With().Str("service", "usage").Logger(),
		config:   config,
		queue:    make(chan string, config.QueueSize),
	}
}

// Start launches the workers.
func (r *UsageRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.run()
	}
}

// Record queues an increment. It never blocks; a full queue drops the increment.
func (r *UsageRecorder) Record(blobID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped(blobID, "recorder stopped")
		return
	}

	select {
	case r.queue <- blobID:
	default:
		r.dropped(blobID, "queue full")
	}
}

// Stop stops accepting increments and waits for queued ones to be applied.
func (r *UsageRecorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		for id := range r.queue {
			r.apply(id)
		}
		return
	}
	r.wg.Wait()
	r.logger.Info().Msg("Usage recorder stopped")
}

func (r *UsageRecorder) run() {
	defer r.wg.Done()
	for id := range r.queue {
		r.apply(id)
	}
}

func (r *UsageRecorder) apply(blobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()

	if err := r.blobRepo.IncrementUsage(ctx, blobID); err != nil {
		r.logger.Error().Err(err).Str("blob_id", blobID).Msg("failed to increment usage")
		if r.metrics != nil {
			r.metrics.UsageIncrementFailures.Inc()
		}
		return
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, repository.CacheKeys.Thumbnail(blobID)); err != nil {
			r.logger.Warn().Err(err).Str("blob_id", blobID).Msg("failed to invalidate cached thumbnail")
		}
	}
}

func (r *UsageRecorder) dropped(blobID, reason string) {
	r.logger.Warn().Str("blob_id", blobID).Str("reason", reason).Msg("usage increment dropped")
	if r.metrics != nil {
		r.metrics.UsageIncrementsDropped.Inc()
	}
}

var _ UsageSink = (*UsageRecorder)(nil)
