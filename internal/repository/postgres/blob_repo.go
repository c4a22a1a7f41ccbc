package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/repository"
)

// blobRepository implements repository.BlobRepository for PostgreSQL.
type blobRepository struct {
	db *DB
}

// NewBlobRepository creates a new PostgreSQL blob repository.
func NewBlobRepository(db *DB) repository.BlobRepository {
	return &blobRepository{db: db}
}

const blobColumns = `id::text, owner_id, original_name, mimetype, original_size, processed_size,
	width, height, chunk_count, chunk_size, hash,
	compression_quality, compression_format, compression_resized, compression_max_width, compression_max_height,
	attachment_target_id, attachment_sub_index, usage_count, created_at, updated_at`

func scanBlob(row pgx.Row, withThumbnail bool) (*domain.Blob, error) {
	blob := &domain.Blob{}
	var (
		maxWidth, maxHeight *int
		targetID            *string
		subIndex            *int
	)

	dest := []any{
		&blob.ID, &blob.OwnerID, &blob.OriginalName, &blob.Mimetype, &blob.OriginalSize, &blob.ProcessedSize,
		&blob.Width, &blob.Height, &blob.ChunkCount, &blob.ChunkSize, &blob.Hash,
		&blob.Compression.Quality, &blob.Compression.Format, &blob.Compression.Resized, &maxWidth, &maxHeight,
		&targetID, &subIndex, &blob.UsageCount, &blob.CreatedAt, &blob.UpdatedAt,
	}
	if withThumbnail {
		dest = append(dest, &blob.Thumbnail)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	blob.Compression.MaxWidth = maxWidth
	blob.Compression.MaxHeight = maxHeight
	if targetID != nil {
		blob.AttachmentRef = &domain.AttachmentRef{TargetID: *targetID, SubIndex: subIndex}
	}
	blob.CreatedAt = blob.CreatedAt.UTC()
	blob.UpdatedAt = blob.UpdatedAt.UTC()

	return blob, nil
}

func attachmentArgs(ref *domain.AttachmentRef) (*string, *int) {
	if ref == nil {
		return nil, nil
	}
	return &ref.TargetID, ref.SubIndex
}

// Create persists a blob row and copies its chunks in the same transaction.
func (r *blobRepository) Create(ctx context.Context, blob *domain.Blob) error {
	targetID, subIndex := attachmentArgs(blob.AttachmentRef)

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO blobs (id, owner_id, original_name, mimetype, original_size, processed_size,
				width, height, chunk_count, chunk_size, hash,
				compression_quality, compression_format, compression_resized, compression_max_width, compression_max_height,
				attachment_target_id, attachment_sub_index, usage_count, created_at, updated_at, thumbnail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
			blob.ID, blob.OwnerID, blob.OriginalName, blob.Mimetype, blob.OriginalSize, blob.ProcessedSize,
			blob.Width, blob.Height, blob.ChunkCount, blob.ChunkSize, blob.Hash,
			blob.Compression.Quality, blob.Compression.Format, blob.Compression.Resized,
			blob.Compression.MaxWidth, blob.Compression.MaxHeight,
			targetID, subIndex, blob.UsageCount, blob.CreatedAt, blob.UpdatedAt, blob.Thumbnail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert blob: %w", err)
		}

		id, err := uuid.Parse(blob.ID)
		if err != nil {
			return fmt.Errorf("invalid blob id %q: %w", blob.ID, err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"blob_chunks"},
			[]string{"blob_id", "idx", "data"},
			pgx.CopyFromSlice(len(blob.Chunks), func(i int) ([]any, error) {
				c := blob.Chunks[i]
				return []any{[16]byte(id), c.Index, c.Data}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy chunks: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a blob with its thumbnail.
func (r *blobRepository) GetByID(ctx context.Context, id string) (*domain.Blob, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+blobColumns+`, thumbnail FROM blobs WHERE id = $1`, id)

	blob, err := scanBlob(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return blob, nil
}

// GetChunks retrieves chunks ordered by index.
func (r *blobRepository) GetChunks(ctx context.Context, id string) ([]domain.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT idx, data FROM blob_chunks WHERE blob_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Chunk, error) {
		var c domain.Chunk
		err := row.Scan(&c.Index, &c.Data)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}
	return chunks, nil
}

// FindByOwnerHash returns the oldest matching blob.
func (r *blobRepository) FindByOwnerHash(ctx context.Context, ownerID, hash string) (*domain.Blob, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+blobColumns+` FROM blobs
		WHERE owner_id = $1 AND hash = $2
		ORDER BY created_at ASC
		LIMIT 1`, ownerID, hash)

	blob, err := scanBlob(row, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to find blob by hash: %w", err)
	}
	return blob, nil
}

// IncrementUsage atomically bumps usage_count.
func (r *blobRepository) IncrementUsage(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE blobs SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBlobNotFound
	}
	return nil
}

// SetAttachment replaces or clears the attachment reference.
func (r *blobRepository) SetAttachment(ctx context.Context, id string, ref *domain.AttachmentRef) error {
	targetID, subIndex := attachmentArgs(ref)

	result, err := r.db.Pool.Exec(ctx, `
		UPDATE blobs
		SET attachment_target_id = $2, attachment_sub_index = $3, updated_at = NOW()
		WHERE id = $1`, id, targetID, subIndex)
	if err != nil {
		return fmt.Errorf("failed to set attachment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBlobNotFound
	}
	return nil
}

// Delete removes a blob; chunks cascade.
func (r *blobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM blobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBlobNotFound
	}
	return nil
}

func (r *blobRepository) queryBlobs(ctx context.Context, q Querier, query string, args ...any) ([]*domain.Blob, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blobs: %w", err)
	}

	blobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Blob, error) {
		return scanBlob(row, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan blobs: %w", err)
	}
	return blobs, nil
}

// ListByAttachment returns attached blobs, newest first.
func (r *blobRepository) ListByAttachment(ctx context.Context, targetID string) ([]*domain.Blob, error) {
	return r.queryBlobs(ctx, r.db.Pool, `
		SELECT `+blobColumns+` FROM blobs
		WHERE attachment_target_id = $1
		ORDER BY created_at DESC, id DESC`, targetID)
}

// ListByOwner returns a page of the owner's blobs.
func (r *blobRepository) ListByOwner(ctx context.Context, ownerID string, opts repository.ListOptions) (*repository.ListResult[domain.Blob], error) {
	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM blobs WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count blobs: %w", err)
	}

	blobs, err := r.queryBlobs(ctx, r.db.Pool, `
		SELECT `+blobColumns+` FROM blobs
		WHERE owner_id = $1
		ORDER BY `+opts.OrderClause()+`
		LIMIT $2 OFFSET $3`, ownerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}

	return &repository.ListResult[domain.Blob]{
		Items:  blobs,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ListSweepable returns sweep candidates, oldest first.
func (r *blobRepository) ListSweepable(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Blob, error) {
	return r.queryBlobs(ctx, r.db.Pool, `
		SELECT `+blobColumns+` FROM blobs
		WHERE usage_count = 0 AND attachment_target_id IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
}

// DeleteSweepable deletes the listed blobs that still match the sweep conditions.
func (r *blobRepository) DeleteSweepable(ctx context.Context, ids []string, cutoff time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM blobs
		WHERE usage_count = 0 AND attachment_target_id IS NULL AND created_at < $1
		AND id = ANY($2::uuid[])`, cutoff, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sweepable blobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountSweepable counts blobs matching the sweep conditions.
func (r *blobRepository) CountSweepable(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM blobs
		WHERE usage_count = 0 AND attachment_target_id IS NULL AND created_at < $1`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sweepable blobs: %w", err)
	}
	return count, nil
}

// Ensure blobRepository implements repository.BlobRepository
var _ repository.BlobRepository = (*blobRepository)(nil)
