package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/codec"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/pkg/chunk"
	"github.com/prn-tf/imagevault/internal/pkg/crypto"
	"github.com/prn-tf/imagevault/internal/repository"
	"github.com/prn-tf/imagevault/internal/worker"
)

// ImageProcessor is the codec contract used by ingestion.
type ImageProcessor interface {
	Process(ctx context.Context, data []byte, declaredMimetype string) (*codec.Result, error)
	Passthrough(data []byte, declaredMimetype string) *codec.Result
}

// IngestConfig contains ingestion limits.
type IngestConfig struct {
	MaxUploadSize int64
	AllowedTypes  []string
	ChunkSize     int
}

// IngestService validates, deduplicates, processes and persists uploads.
type IngestService struct {
	blobRepo  repository.BlobRepository
	processor ImageProcessor
	pool      *worker.Pool
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	config    IngestConfig
	allowed   map[string]struct{}
	now       func() time.Time
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	blobRepo repository.BlobRepository,
	processor ImageProcessor,
	pool *worker.Pool,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config IngestConfig,
) *IngestService {
	if config.ChunkSize <= 0 {
		config.ChunkSize = chunk.DefaultSize
	}
	allowed := make(map[string]struct{}, len(config.AllowedTypes))
	for _, t := range config.AllowedTypes {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &IngestService{
		blobRepo:  blobRepo,
		processor: processor,
		pool:      pool,
		metrics:   m,
		logger:    logger.With().Str("service", "ingest").Logger(),
		config:    config,
		allowed:   allowed,
		now:       time.Now,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// IngestInput contains one upload.
type IngestInput struct {
	Data             []byte
	OriginalName     string
	DeclaredMimetype string
	// DeclaredSize is the size reported by the transport; 0 means len(Data).
	DeclaredSize  int64
	OwnerID       string
	AttachmentRef *domain.AttachmentRef

	// KeepOriginalOnCodecError stores the raw bytes when the codec fails
	// instead of rejecting the upload.
	KeepOriginalOnCodecError bool
}

// IngestOutput is the stored (or reused) blob.
type IngestOutput struct {
	Blob *domain.Blob

	// Duplicate is true when an existing blob of the owner was reused.
	Duplicate bool
}

// =============================================================================
// Service Methods
// =============================================================================

// Ingest stores an upload. When the owner already has a blob with the same
// content hash and the upload names an attachment target, that blob's usage
// is incremented and it is returned without reprocessing. Uploads without a
// target always produce a new blob.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*IngestOutput, error) {
	if err := s.validate(input); err != nil {
		s.recordUpload("rejected", 0, 0)
		return nil, err
	}

	hash := crypto.ComputeSHA256(input.Data)

	if input.AttachmentRef != nil {
		existing, err := s.blobRepo.FindByOwnerHash(ctx, input.OwnerID, hash)
		switch {
		case err == nil:
			if err := s.blobRepo.IncrementUsage(ctx, existing.ID); err != nil {
				s.logger.Error().Err(err).Str("blob_id", existing.ID).Msg("failed to increment usage of duplicate")
				return nil, repoError(err)
			}
			existing.UsageCount++
			s.recordUpload("duplicate", 0, 0)
			s.logger.Info().
				Str("blob_id", existing.ID).
				Str("owner_id", input.OwnerID).
				Msg("duplicate upload reused")
			return &IngestOutput{Blob: existing, Duplicate: true}, nil
		case !errors.Is(err, domain.ErrBlobNotFound):
			s.logger.Error().Err(err).Str("owner_id", input.OwnerID).Msg("failed to query dedup index")
			return nil, repoError(err)
		}
	}

	result, err := s.process(ctx, input)
	if err != nil {
		s.recordUpload("failed", 0, 0)
		return nil, err
	}

	chunks, err := chunk.Split(result.Data, s.config.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	now := s.now().UTC()
	blob := &domain.Blob{
		ID:            uuid.NewString(),
		OriginalName:  input.OriginalName,
		Mimetype:      result.Mimetype,
		OriginalSize:  int64(len(input.Data)),
		ProcessedSize: int64(len(result.Data)),
		Width:         result.Width,
		Height:        result.Height,
		Chunks:        chunks,
		ChunkCount:    len(chunks),
		ChunkSize:     s.config.ChunkSize,
		Thumbnail:     base64.StdEncoding.EncodeToString(result.Thumbnail),
		Hash:          hash,
		Compression:   result.Compression,
		OwnerID:       input.OwnerID,
		AttachmentRef: input.AttachmentRef,
		UsageCount:    1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.blobRepo.Create(ctx, blob); err != nil {
		s.logger.Error().Err(err).Str("owner_id", input.OwnerID).Msg("failed to create blob")
		s.recordUpload("failed", 0, 0)
		return nil, repoError(err)
	}

	s.recordUpload("created", blob.OriginalSize, blob.ProcessedSize)
	s.logger.Info().
		Str("blob_id", blob.ID).
		Str("owner_id", blob.OwnerID).
		Str("mimetype", blob.Mimetype).
		Int64("original_size", blob.OriginalSize).
		Int64("processed_size", blob.ProcessedSize).
		Int("chunks", blob.ChunkCount).
		Bool("resized", blob.Compression.Resized).
		Msg("image stored")

	return &IngestOutput{Blob: blob}, nil
}

// validate rejects bad uploads before any hashing.
func (s *IngestService) validate(input IngestInput) error {
	if len(input.Data) == 0 {
		return validationError(domain.ErrEmptyUpload)
	}
	if input.OwnerID == "" {
		return validationError(domain.ErrMissingOwner)
	}
	if _, ok := s.allowed[strings.ToLower(input.DeclaredMimetype)]; !ok {
		return validationError(domain.NewDomainError(domain.ErrInvalidMimetype, "", input.DeclaredMimetype))
	}

	size := input.DeclaredSize
	if size <= 0 {
		size = int64(len(input.Data))
	}
	if s.config.MaxUploadSize > 0 && (size > s.config.MaxUploadSize || int64(len(input.Data)) > s.config.MaxUploadSize) {
		return validationError(domain.NewDomainError(
			domain.ErrPayloadTooLarge,
			fmt.Sprintf("image size exceeds %dMB limit", s.config.MaxUploadSize/(1024*1024)),
			"",
		))
	}

	if err := input.AttachmentRef.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

// process runs the codec on the pool, falling back to the raw bytes when the
// call site asked for it.
func (s *IngestService) process(ctx context.Context, input IngestInput) (*codec.Result, error) {
	mimetype := strings.ToLower(input.DeclaredMimetype)
	start := time.Now()

	var result *codec.Result
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.processor.Process(ctx, input.Data, mimetype)
		return err
	})

	if s.metrics != nil && err == nil {
		s.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, worker.ErrQueueFull):
		s.logger.Warn().Str("owner_id", input.OwnerID).Msg("codec queue full, rejecting upload")
		return nil, fmt.Errorf("%w: %w", ErrQueueFull, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case input.KeepOriginalOnCodecError:
		s.logger.Warn().
			Err(err).
			Str("owner_id", input.OwnerID).
			Str("mimetype", mimetype).
			Msg("codec failed, keeping original bytes")
		return s.processor.Passthrough(input.Data, mimetype), nil
	default:
		s.logger.Error().Err(err).Str("owner_id", input.OwnerID).Msg("codec failed")
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}
}

func (s *IngestService) recordUpload(result string, originalSize, processedSize int64) {
	if s.metrics != nil {
		s.metrics.RecordUpload(result, originalSize, processedSize)
	}
}
