package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/repository"
)

// Listing limits.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// CatalogService handles metadata reads, listings, deletion and attachment changes.
type CatalogService struct {
	blobRepo repository.BlobRepository
	cache    repository.Cache
	logger   zerolog.Logger
}

// NewCatalogService creates a new CatalogService. cache may be nil.
func NewCatalogService(blobRepo repository.BlobRepository, cache repository.Cache, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		blobRepo: blobRepo,
		cache:    cache,
		logger:   logger.With().Str("service", "catalog").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// ListMineInput selects a page of the caller's images.
// Zero Page and Limit take defaults; empty SortBy and SortOrder too.
type ListMineInput struct {
	OwnerID   string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// ListMineOutput is one page of images.
type ListMineOutput struct {
	Items []*domain.Blob
	Page  int
	Limit int
	Total int64
	Pages int
}

// =============================================================================
// Service Methods
// =============================================================================

// Info returns a blob's metadata.
func (s *CatalogService) Info(ctx context.Context, id string) (*domain.Blob, error) {
	if err := validateBlobID(id); err != nil {
		return nil, err
	}
	blob, err := s.blobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	return blob, nil
}

// ListByAttachment returns the blobs attached to targetID, newest first.
func (s *CatalogService) ListByAttachment(ctx context.Context, targetID string) ([]*domain.Blob, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, validationError(domain.ErrInvalidAttachment)
	}
	blobs, err := s.blobRepo.ListByAttachment(ctx, targetID)
	if err != nil {
		s.logger.Error().Err(err).Str("target_id", targetID).Msg("failed to list attached images")
		return nil, repoError(err)
	}
	return blobs, nil
}

// ListMine returns a page of the owner's blobs.
func (s *CatalogService) ListMine(ctx context.Context, input ListMineInput) (*ListMineOutput, error) {
	if input.OwnerID == "" {
		return nil, validationError(domain.ErrMissingOwner)
	}

	page, limit := input.Page, input.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 1 || limit < 1 || limit > MaxPageLimit {
		return nil, validationError(domain.ErrInvalidPagination)
	}

	sortBy := input.SortBy
	if sortBy == "" {
		sortBy = repository.OrderByCreatedAt
	}
	if _, ok := repository.OrderColumns[sortBy]; !ok {
		return nil, validationError(domain.NewDomainError(domain.ErrInvalidSortField, "", sortBy))
	}

	descending := true
	switch strings.ToLower(input.SortOrder) {
	case "", "desc":
	case "asc":
		descending = false
	default:
		return nil, validationError(domain.NewDomainError(domain.ErrInvalidSortField, "sortOrder must be asc or desc", input.SortOrder))
	}

	result, err := s.blobRepo.ListByOwner(ctx, input.OwnerID, repository.ListOptions{
		Offset:     (page - 1) * limit,
		Limit:      limit,
		OrderBy:    sortBy,
		Descending: descending,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("owner_id", input.OwnerID).Msg("failed to list owner images")
		return nil, repoError(err)
	}

	pages := int((result.Total + int64(limit) - 1) / int64(limit))
	return &ListMineOutput{
		Items: result.Items,
		Page:  page,
		Limit: limit,
		Total: result.Total,
		Pages: pages,
	}, nil
}

// Delete removes a blob. Only the owner or a privileged caller may delete.
func (s *CatalogService) Delete(ctx context.Context, caller domain.Caller, id string) error {
	blob, err := s.authorize(ctx, caller, id)
	if err != nil {
		return err
	}

	if err := s.blobRepo.Delete(ctx, blob.ID); err != nil {
		s.logger.Error().Err(err).Str("blob_id", blob.ID).Msg("failed to delete blob")
		return repoError(err)
	}
	s.invalidate(ctx, blob.ID)

	s.logger.Info().
		Str("blob_id", blob.ID).
		Str("caller_id", caller.ID).
		Msg("image deleted")
	return nil
}

// Attach sets the blob's attachment reference. Usage is unchanged.
func (s *CatalogService) Attach(ctx context.Context, caller domain.Caller, id string, ref domain.AttachmentRef) (*domain.Blob, error) {
	if err := ref.Validate(); err != nil {
		return nil, validationError(err)
	}
	return s.setAttachment(ctx, caller, id, &ref)
}

// Detach clears the blob's attachment reference. Usage is unchanged, so a
// detached blob that was never fetched becomes eligible for the sweep.
func (s *CatalogService) Detach(ctx context.Context, caller domain.Caller, id string) (*domain.Blob, error) {
	return s.setAttachment(ctx, caller, id, nil)
}

func (s *CatalogService) setAttachment(ctx context.Context, caller domain.Caller, id string, ref *domain.AttachmentRef) (*domain.Blob, error) {
	if _, err := s.authorize(ctx, caller, id); err != nil {
		return nil, err
	}
	if err := s.blobRepo.SetAttachment(ctx, id, ref); err != nil {
		s.logger.Error().Err(err).Str("blob_id", id).Msg("failed to update attachment")
		return nil, repoError(err)
	}
	s.invalidate(ctx, id)

	blob, err := s.blobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	return blob, nil
}

// authorize loads the blob and checks that caller may manage it.
func (s *CatalogService) authorize(ctx context.Context, caller domain.Caller, id string) (*domain.Blob, error) {
	if err := validateBlobID(id); err != nil {
		return nil, err
	}
	blob, err := s.blobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	if !caller.CanManage(blob) {
		return nil, forbiddenError(id)
	}
	return blob, nil
}

func (s *CatalogService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, repository.CacheKeys.Thumbnail(id)); err != nil {
		s.logger.Warn().Err(err).Str("blob_id", id).Msg("failed to invalidate thumbnail cache")
	}
}
