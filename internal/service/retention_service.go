package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/archive"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/lock"
	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/pkg/chunk"
	"github.com/prn-tf/imagevault/internal/repository"
)

// Sweep age bounds in days.
const (
	MinDaysOld     = 1
	MaxDaysOld     = 365
	DefaultDaysOld = 30
)

// RetentionService deletes blobs that were never used, are not attached and
// are older than a cutoff.
type RetentionService struct {
	blobRepo repository.BlobRepository
	archiver archive.Archiver
	cache    repository.Cache
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   RetentionConfig
	now      func() time.Time

	// Control
	mu        sync.Mutex
	scheduler *cron.Cron
}

// RetentionConfig contains sweep configuration.
type RetentionConfig struct {
	// Enabled determines if the sweep runs on Schedule.
	Enabled bool

	// Schedule is a cron expression with a seconds field.
	Schedule string

	// DaysOld is the age threshold of scheduled runs.
	DaysOld int

	// BatchSize is the maximum number of blobs listed and deleted per round.
	BatchSize int

	// DryRun makes scheduled runs only count candidates.
	DryRun bool

	// LockTTL bounds how long one sweep holds the lock.
	LockTTL time.Duration
}

// DefaultRetentionConfig returns sensible defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:   true,
		Schedule:  "0 30 3 * * *",
		DaysOld:   DefaultDaysOld,
		BatchSize: 500,
		DryRun:    false,
		LockTTL:   10 * time.Minute,
	}
}

// NewRetentionService creates a new RetentionService. archiver and cache may be nil.
func NewRetentionService(
	blobRepo repository.BlobRepository,
	archiver archive.Archiver,
	cache repository.Cache,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config RetentionConfig,
) *RetentionService {
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Minute
	}
	if config.DaysOld == 0 {
		config.DaysOld = DefaultDaysOld
	}
	return &RetentionService{
		blobRepo: blobRepo,
		archiver: archiver,
		cache:    cache,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "retention").Logger(),
		config:   config,
		now:      time.Now,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// SweepInput parameterizes one sweep. Zero DaysOld means the configured default.
type SweepInput struct {
	DaysOld int
	DryRun  bool
}

// SweepResult contains the result of a sweep.
type SweepResult struct {
	// DeletedCount is the number of blobs deleted, or in a dry run the
	// number that would be deleted.
	DeletedCount int64

	// Archived is the number of blobs copied to the archive.
	Archived int

	// Errors is the number of blobs skipped because of failures.
	Errors int

	// DryRun echoes the input.
	DryRun bool

	// Skipped is true when another sweep held the lock.
	Skipped bool

	// Cutoff is the creation time bound used.
	Cutoff time.Time

	// Duration is how long the run took.
	Duration time.Duration
}

// =============================================================================
// Scheduling
// =============================================================================

// Start schedules the sweep. It is a no-op when disabled.
func (s *RetentionService) Start() error {
	if !s.config.Enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.config.Schedule, s.runScheduled); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.config.Schedule, err)
	}
	c.Start()
	s.scheduler = c

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Int("days_old", s.config.DaysOld).
		Int("batch_size", s.config.BatchSize).
		Bool("dry_run", s.config.DryRun).
		Bool("archive", s.archiver.Enabled()).
		Msg("Starting retention sweep scheduler")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *RetentionService) Stop() {
	s.mu.Lock()
	c := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info().Msg("Retention sweep scheduler stopped")
}

func (s *RetentionService) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.LockTTL)
	defer cancel()

	if _, err := s.Sweep(ctx, SweepInput{DaysOld: s.config.DaysOld, DryRun: s.config.DryRun}); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled sweep failed")
	}
}

// =============================================================================
// Service Methods
// =============================================================================

// Sweep deletes every blob with zero usage, no attachment and a creation time
// older than DaysOld days. Blobs used or attached between listing and deletion
// survive because the delete re-checks those conditions.
func (s *RetentionService) Sweep(ctx context.Context, input SweepInput) (*SweepResult, error) {
	daysOld := input.DaysOld
	if daysOld == 0 {
		daysOld = s.config.DaysOld
	}
	if daysOld < MinDaysOld || daysOld > MaxDaysOld {
		return nil, validationError(domain.ErrInvalidDaysOld)
	}

	start := time.Now()
	cutoff := s.now().UTC().AddDate(0, 0, -daysOld)
	result := &SweepResult{DryRun: input.DryRun, Cutoff: cutoff}

	lockKey := lock.Keys.RetentionSweep()
	acquired, err := s.locker.Acquire(ctx, lockKey, s.config.LockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to acquire sweep lock")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !acquired {
		s.logger.Info().Msg("Sweep lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Error().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	if input.DryRun {
		count, err := s.blobRepo.CountSweepable(ctx, cutoff)
		if err != nil {
			return nil, repoError(err)
		}
		result.DeletedCount = count
		result.Duration = time.Since(start)
		s.logger.Info().
			Int64("would_delete", count).
			Time("cutoff", cutoff).
			Msg("[DRY RUN] Sweep completed")
		return result, nil
	}

	for {
		batch, err := s.blobRepo.ListSweepable(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list sweepable blobs")
			s.finish(result, start)
			return result, repoError(err)
		}
		if len(batch) == 0 {
			break
		}

		ids, batchErrors := s.archiveBatch(ctx, batch, cutoff, result)

		if len(ids) > 0 {
			deleted, err := s.blobRepo.DeleteSweepable(ctx, ids, cutoff)
			if err != nil {
				s.logger.Error().Err(err).Int("batch", len(ids)).Msg("Failed to delete sweepable blobs")
				s.finish(result, start)
				return result, repoError(err)
			}
			result.DeletedCount += deleted
			s.invalidate(ctx, ids)

			if deleted < int64(len(ids)) {
				s.logger.Info().
					Int64("deleted", deleted).
					Int("candidates", len(ids)).
					Msg("Some blobs were used or attached during the sweep and kept")
			}
		}

		// Failed blobs would be listed again first; leave them for the next run.
		if batchErrors > 0 || len(batch) < s.config.BatchSize {
			break
		}
		if _, err := s.locker.Extend(ctx, lockKey, s.config.LockTTL); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to extend sweep lock")
		}
	}

	s.finish(result, start)
	return result, nil
}

// archiveBatch copies each blob to the archive when enabled and returns the
// ids that may be deleted. Rows that no longer qualify are dropped.
func (s *RetentionService) archiveBatch(ctx context.Context, batch []*domain.Blob, cutoff time.Time, result *SweepResult) ([]string, int) {
	ids := make([]string, 0, len(batch))
	failures := 0

	for _, blob := range batch {
		if !blob.CanSweep(cutoff) {
			s.logger.Warn().
				Str("blob_id", blob.ID).
				Int64("usage_count", blob.UsageCount).
				Msg("Listed blob is not sweepable, skipping")
			continue
		}
		if !s.archiver.Enabled() {
			ids = append(ids, blob.ID)
			continue
		}

		data, err := s.reconstruct(ctx, blob)
		if err == nil {
			err = s.archiver.Archive(ctx, blob, data)
		}
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("blob_id", blob.ID).
				Msg("Failed to archive blob, keeping it")
			result.Errors++
			failures++
			continue
		}
		result.Archived++
		ids = append(ids, blob.ID)
	}
	return ids, failures
}

func (s *RetentionService) reconstruct(ctx context.Context, blob *domain.Blob) ([]byte, error) {
	chunks, err := s.blobRepo.GetChunks(ctx, blob.ID)
	if err != nil {
		return nil, err
	}
	if err := chunk.Verify(chunks, blob.ChunkCount); err != nil {
		return nil, errors.Join(domain.ErrCorruptChunks, err)
	}
	return chunk.Join(chunks)
}

func (s *RetentionService) invalidate(ctx context.Context, ids []string) {
	if s.cache == nil {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = repository.CacheKeys.Thumbnail(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to invalidate swept thumbnails")
	}
}

func (s *RetentionService) finish(result *SweepResult, start time.Time) {
	result.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordSweepRun(result.Duration, int(result.DeletedCount), result.Archived, result.Errors)
	}
	s.logger.Info().
		Int64("deleted", result.DeletedCount).
		Int("archived", result.Archived).
		Int("errors", result.Errors).
		Time("cutoff", result.Cutoff).
		Dur("duration", result.Duration).
		Msg("Sweep completed")
}
