package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/pkg/chunk"
	"github.com/prn-tf/imagevault/internal/repository"
	"github.com/prn-tf/imagevault/internal/worker"
)

// ThumbnailMimetype is the content type of every stored thumbnail.
const ThumbnailMimetype = "image/jpeg"

// DeliveryService serves stored images and thumbnails.
type DeliveryService struct {
	blobRepo     repository.BlobRepository
	cache        repository.Cache
	pool         *worker.Pool
	usage        UsageSink
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	thumbnailTTL time.Duration
}

// NewDeliveryService creates a new DeliveryService. cache may be nil.
func NewDeliveryService(
	blobRepo repository.BlobRepository,
	cache repository.Cache,
	pool *worker.Pool,
	usage UsageSink,
	m *metrics.Metrics,
	logger zerolog.Logger,
	thumbnailTTL time.Duration,
) *DeliveryService {
	return &DeliveryService{
		blobRepo:     blobRepo,
		cache:        cache,
		pool:         pool,
		usage:        usage,
		metrics:      m,
		logger:       logger.With().Str("service", "delivery").Logger(),
		thumbnailTTL: thumbnailTTL,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// FetchInput identifies the image and carries the client's validator.
type FetchInput struct {
	ID          string
	IfNoneMatch string
}

// FetchOutput is either the payload or a not-modified marker.
// Data is nil when NotModified is set.
type FetchOutput struct {
	Data         []byte
	Mimetype     string
	ETag         string
	LastModified time.Time
	NotModified  bool
}

// thumbnailEntry is the cached form of a thumbnail with its validators.
// UsageRecorder drops it whenever updated_at moves.
type thumbnailEntry struct {
	Hash      string    `json:"h"`
	UpdatedAt time.Time `json:"u"`
	Data      []byte    `json:"d"`
}

// =============================================================================
// Service Methods
// =============================================================================

// Fetch reconstructs the processed image and records one usage. A matching
// If-None-Match answers NotModified before any chunk is read and without
// recording usage.
func (s *DeliveryService) Fetch(ctx context.Context, input FetchInput) (*FetchOutput, error) {
	if err := validateBlobID(input.ID); err != nil {
		return nil, err
	}

	blob, err := s.blobRepo.GetByID(ctx, input.ID)
	if err != nil {
		return nil, repoError(err)
	}

	out := &FetchOutput{
		Mimetype:     blob.Mimetype,
		ETag:         blob.Hash,
		LastModified: blob.UpdatedAt,
	}

	if ETagMatches(input.IfNoneMatch, out.ETag) {
		out.NotModified = true
		s.recordDelivery("full", "not_modified")
		return out, nil
	}

	err = s.pool.Do(ctx, func(ctx context.Context) error {
		chunks, err := s.blobRepo.GetChunks(ctx, blob.ID)
		if err != nil {
			return repoError(err)
		}
		if err := chunk.Verify(chunks, blob.ChunkCount); err != nil {
			return fmt.Errorf("%w: %w: %v", ErrPersistence, domain.ErrCorruptChunks, err)
		}
		data, err := chunk.Join(chunks)
		if err != nil {
			return fmt.Errorf("%w: %w: %v", ErrPersistence, domain.ErrCorruptChunks, err)
		}
		out.Data = data
		return nil
	})
	if err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			s.recordDelivery("full", "rejected")
			return nil, fmt.Errorf("%w: %w", ErrQueueFull, err)
		}
		s.logger.Error().Err(err).Str("blob_id", blob.ID).Msg("failed to reconstruct image")
		s.recordDelivery("full", "error")
		return nil, err
	}

	if int64(len(out.Data)) != blob.ProcessedSize {
		s.logger.Warn().
			Str("blob_id", blob.ID).
			Int("reconstructed", len(out.Data)).
			Int64("expected", blob.ProcessedSize).
			Msg("reconstructed size differs from recorded size")
	}

	s.usage.Record(blob.ID)
	s.recordDelivery("full", "ok")
	return out, nil
}

// FetchThumbnail returns the stored thumbnail. It never records usage.
func (s *DeliveryService) FetchThumbnail(ctx context.Context, input FetchInput) (*FetchOutput, error) {
	if err := validateBlobID(input.ID); err != nil {
		return nil, err
	}

	entry, err := s.thumbnail(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	out := &FetchOutput{
		Mimetype:     ThumbnailMimetype,
		ETag:         domain.ThumbnailETagPrefix + entry.Hash,
		LastModified: entry.UpdatedAt,
	}
	if ETagMatches(input.IfNoneMatch, out.ETag) {
		out.NotModified = true
		s.recordDelivery("thumbnail", "not_modified")
		return out, nil
	}

	out.Data = entry.Data
	s.recordDelivery("thumbnail", "ok")
	return out, nil
}

// thumbnail loads the thumbnail through the cache.
func (s *DeliveryService) thumbnail(ctx context.Context, id string) (*thumbnailEntry, error) {
	key := repository.CacheKeys.Thumbnail(id)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		if err == nil {
			var entry thumbnailEntry
			if err := json.Unmarshal(raw, &entry); err == nil {
				s.recordCache("hit")
				return &entry, nil
			}
			s.logger.Warn().Str("blob_id", id).Msg("discarding malformed cached thumbnail")
		} else if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("blob_id", id).Msg("thumbnail cache read failed")
		}
		s.recordCache("miss")
	}

	blob, err := s.blobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	if blob.Thumbnail == "" {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, domain.NewDomainError(domain.ErrBlobNotFound, "thumbnail not available", id))
	}
	data, err := base64.StdEncoding.DecodeString(blob.Thumbnail)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrPersistence, domain.ErrCorruptChunks, err)
	}

	entry := &thumbnailEntry{Hash: blob.Hash, UpdatedAt: blob.UpdatedAt, Data: data}

	if s.cache != nil {
		if raw, err := json.Marshal(entry); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.thumbnailTTL); err != nil {
				s.logger.Warn().Err(err).Str("blob_id", id).Msg("thumbnail cache write failed")
			}
		}
	}
	return entry, nil
}

func (s *DeliveryService) recordDelivery(kind, result string) {
	if s.metrics != nil {
		s.metrics.DeliveriesTotal.WithLabelValues(kind, result).Inc()
	}
}

func (s *DeliveryService) recordCache(result string) {
	if s.metrics != nil {
		s.metrics.ThumbnailCache.WithLabelValues(result).Inc()
	}
}

// ETagMatches reports whether an If-None-Match header value matches tag.
// It accepts "*", comma separated lists, quoted and weak validators.
func ETagMatches(header, tag string) bool {
	header = strings.TrimSpace(header)
	if header == "" || tag == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == tag {
			return true
		}
	}
	return false
}

func validateBlobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return validationError(domain.NewDomainError(domain.ErrInvalidBlobID, "", id))
	}
	return nil
}
