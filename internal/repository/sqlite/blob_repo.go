package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/repository"
)

// blobRepository implements repository.BlobRepository for SQLite.
type blobRepository struct {
	db *DB
}

// NewBlobRepository creates a new SQLite blob repository.
func NewBlobRepository(db *DB) repository.BlobRepository {
	return &blobRepository{db: db}
}

const blobColumns = `id, owner_id, original_name, mimetype, original_size, processed_size,
	width, height, chunk_count, chunk_size, hash,
	compression_quality, compression_format, compression_resized, compression_max_width, compression_max_height,
	attachment_target_id, attachment_sub_index, usage_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanBlob reads blobColumns, optionally followed by thumbnail.
func scanBlob(row rowScanner, withThumbnail bool) (*domain.Blob, error) {
	blob := &domain.Blob{}
	var (
		resized              int
		maxWidth, maxHeight  sql.NullInt64
		targetID             sql.NullString
		subIndex             sql.NullInt64
		createdAt, updatedAt string
	)

	dest := []any{
		&blob.ID, &blob.OwnerID, &blob.OriginalName, &blob.Mimetype, &blob.OriginalSize, &blob.ProcessedSize,
		&blob.Width, &blob.Height, &blob.ChunkCount, &blob.ChunkSize, &blob.Hash,
		&blob.Compression.Quality, &blob.Compression.Format, &resized, &maxWidth, &maxHeight,
		&targetID, &subIndex, &blob.UsageCount, &createdAt, &updatedAt,
	}
	if withThumbnail {
		dest = append(dest, &blob.Thumbnail)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	blob.Compression.Resized = resized != 0
	if maxWidth.Valid {
		v := int(maxWidth.Int64)
		blob.Compression.MaxWidth = &v
	}
	if maxHeight.Valid {
		v := int(maxHeight.Int64)
		blob.Compression.MaxHeight = &v
	}
	if targetID.Valid {
		blob.AttachmentRef = &domain.AttachmentRef{TargetID: targetID.String}
		if subIndex.Valid {
			v := int(subIndex.Int64)
			blob.AttachmentRef.SubIndex = &v
		}
	}
	blob.CreatedAt = parseTime(createdAt)
	blob.UpdatedAt = parseTime(updatedAt)

	return blob, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func attachmentArgs(ref *domain.AttachmentRef) (any, any) {
	if ref == nil {
		return nil, nil
	}
	return ref.TargetID, nullInt(ref.SubIndex)
}

// Create persists a blob row and its chunks atomically.
func (r *blobRepository) Create(ctx context.Context, blob *domain.Blob) error {
	targetID, subIndex := attachmentArgs(blob.AttachmentRef)
	resized := 0
	if blob.Compression.Resized {
		resized = 1
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blobs (`+blobColumns+`, thumbnail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			blob.ID, blob.OwnerID, blob.OriginalName, blob.Mimetype, blob.OriginalSize, blob.ProcessedSize,
			blob.Width, blob.Height, blob.ChunkCount, blob.ChunkSize, blob.Hash,
			blob.Compression.Quality, blob.Compression.Format, resized,
			nullInt(blob.Compression.MaxWidth), nullInt(blob.Compression.MaxHeight),
			targetID, subIndex, blob.UsageCount, formatTime(blob.CreatedAt), formatTime(blob.UpdatedAt),
			blob.Thumbnail,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("blob %s already exists: %w", blob.ID, err)
			}
			return fmt.Errorf("failed to insert blob: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO blob_chunks (blob_id, idx, data) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range blob.Chunks {
			if _, err := stmt.ExecContext(ctx, blob.ID, c.Index, c.Data); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", c.Index, err)
			}
		}
		return nil
	})
}

// GetByID retrieves a blob with its thumbnail.
func (r *blobRepository) GetByID(ctx context.Context, id string) (*domain.Blob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+blobColumns+`, thumbnail FROM blobs WHERE id = ?`, id)

	blob, err := scanBlob(row, true)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return blob, nil
}

// GetChunks retrieves chunks ordered by index.
func (r *blobRepository) GetChunks(ctx context.Context, id string) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT idx, data FROM blob_chunks WHERE blob_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.Index, &c.Data); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

// FindByOwnerHash returns the oldest matching blob.
func (r *blobRepository) FindByOwnerHash(ctx context.Context, ownerID, hash string) (*domain.Blob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+blobColumns+` FROM blobs
		WHERE owner_id = ? AND hash = ?
		ORDER BY created_at ASC
		LIMIT 1`, ownerID, hash)

	blob, err := scanBlob(row, false)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to find blob by hash: %w", err)
	}
	return blob, nil
}

// IncrementUsage atomically bumps usage_count.
func (r *blobRepository) IncrementUsage(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE blobs SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment usage count: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrBlobNotFound
	}
	return nil
}

// SetAttachment replaces or clears the attachment reference.
func (r *blobRepository) SetAttachment(ctx context.Context, id string, ref *domain.AttachmentRef) error {
	targetID, subIndex := attachmentArgs(ref)

	result, err := r.db.ExecContext(ctx, `
		UPDATE blobs
		SET attachment_target_id = ?, attachment_sub_index = ?, updated_at = ?
		WHERE id = ?`,
		targetID, subIndex, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set attachment: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrBlobNotFound
	}
	return nil
}

// Delete removes a blob; chunks cascade.
func (r *blobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrBlobNotFound
	}
	return nil
}

func (r *blobRepository) queryBlobs(ctx context.Context, query string, args ...any) ([]*domain.Blob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*domain.Blob
	for rows.Next() {
		blob, err := scanBlob(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		blobs = append(blobs, blob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}
	return blobs, nil
}

// ListByAttachment returns attached blobs, newest first.
func (r *blobRepository) ListByAttachment(ctx context.Context, targetID string) ([]*domain.Blob, error) {
	return r.queryBlobs(ctx, `
		SELECT `+blobColumns+` FROM blobs
		WHERE attachment_target_id = ?
		ORDER BY created_at DESC, id DESC`, targetID)
}

// ListByOwner returns a page of the owner's blobs.
func (r *blobRepository) ListByOwner(ctx context.Context, ownerID string, opts repository.ListOptions) (*repository.ListResult[domain.Blob], error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count blobs: %w", err)
	}

	blobs, err := r.queryBlobs(ctx, `
		SELECT `+blobColumns+` FROM blobs
		WHERE owner_id = ?
		ORDER BY `+opts.OrderClause()+`
		LIMIT ? OFFSET ?`, ownerID, opts.Limit, opts.Offset)
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
	return r.queryBlobs(ctx, `
		SELECT `+blobColumns+` FROM blobs
		WHERE usage_count = 0 AND attachment_target_id IS NULL AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`, formatTime(cutoff), limit)
}

// DeleteSweepable deletes the listed blobs that still match the sweep conditions.
func (r *blobRepository) DeleteSweepable(ctx context.Context, ids []string, cutoff time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(cutoff))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM blobs
		WHERE usage_count = 0 AND attachment_target_id IS NULL AND created_at < ?
		AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sweepable blobs: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// CountSweepable counts blobs matching the sweep conditions.
func (r *blobRepository) CountSweepable(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blobs
		WHERE usage_count = 0 AND attachment_target_id IS NULL AND created_at < ?`,
		formatTime(cutoff),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sweepable blobs: %w", err)
	}
	return count, nil
}

// Ensure blobRepository implements repository.BlobRepository
var _ repository.BlobRepository = (*blobRepository)(nil)
