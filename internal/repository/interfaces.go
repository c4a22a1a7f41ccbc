// Package repository defines data access interfaces for imagevault.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/imagevault/internal/domain"
)

// =============================================================================
// Blob Repository
// =============================================================================

// BlobRepository defines the interface for blob data access.
// It doubles as the deduplication index through FindByOwnerHash.
type BlobRepository interface {
	// Create persists a blob and its chunks in one transaction.
	Create(ctx context.Context, blob *domain.Blob) error

	// GetByID retrieves a blob with its thumbnail but without chunks.
	GetByID(ctx context.Context, id string) (*domain.Blob, error)

	// GetChunks retrieves the chunks of a blob ordered by index.
	GetChunks(ctx context.Context, id string) ([]domain.Chunk, error)

	// FindByOwnerHash returns the oldest blob of the owner with the given
	// content hash, or domain.ErrBlobNotFound.
	FindByOwnerHash(ctx context.Context, ownerID, hash string) (*domain.Blob, error)

	// IncrementUsage adds one to usage_count and touches updated_at.
	IncrementUsage(ctx context.Context, id string) error

	// SetAttachment replaces the attachment reference; nil detaches.
	// usage_count is left unchanged.
	SetAttachment(ctx context.Context, id string, ref *domain.AttachmentRef) error

	// Delete removes a blob and its chunks.
	Delete(ctx context.Context, id string) error

	// ListByAttachment returns blobs attached to a target, newest first,
	// without chunks or thumbnails.
	ListByAttachment(ctx context.Context, targetID string) ([]*domain.Blob, error)

	// ListByOwner returns a page of the owner's blobs without chunks or thumbnails.
	ListByOwner(ctx context.Context, ownerID string, opts ListOptions) (*ListResult[domain.Blob], error)

	// ListSweepable returns up to limit blobs with usage_count 0, no
	// attachment and created_at before cutoff, oldest first.
	ListSweepable(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Blob, error)

	// DeleteSweepable deletes the given blobs, re-checking the sweep
	// conditions so that a blob used or attached meanwhile survives.
	// Returns the number actually deleted.
	DeleteSweepable(ctx context.Context, ids []string, cutoff time.Time) (int64, error)

	// CountSweepable counts blobs matching the sweep conditions.
	CountSweepable(ctx context.Context, cutoff time.Time) (int64, error)
}

// =============================================================================
// Common Types
// =============================================================================

// Sortable columns for ListOptions.OrderBy.
const (
	OrderByCreatedAt     = "createdAt"
	OrderByUpdatedAt     = "updatedAt"
	OrderByOriginalName  = "originalName"
	OrderByProcessedSize = "processedSize"
	OrderByUsageCount    = "usageCount"
)

// OrderColumns maps sortable fields to column names shared by both backends.
var OrderColumns = map[string]string{
	OrderByCreatedAt:     "created_at",
	OrderByUpdatedAt:     "updated_at",
	OrderByOriginalName:  "original_name",
	OrderByProcessedSize: "processed_size",
	OrderByUsageCount:    "usage_count",
}

// ListOptions contains common options for list operations.
type ListOptions struct {
	// Offset is the number of items to skip.
	Offset int

	// Limit is the maximum number of items to return.
	Limit int

	// OrderBy is one of the OrderBy* constants.
	OrderBy string

	// Descending determines the sort order.
	Descending bool
}

// OrderClause renders a safe ORDER BY expression, defaulting to created_at.
func (o ListOptions) OrderClause() string {
	col, ok := OrderColumns[o.OrderBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if o.Descending {
		dir = "DESC"
	}
	return col + " " + dir + ", id " + dir
}

// ListResult contains paginated list results.
type ListResult[T any] struct {
	// Items contains the results.
	Items []*T

	// Total is the total number of items (before pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the page size.
	Limit int
}
