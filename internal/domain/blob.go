// Package domain contains the core business entities for imagevault.
package domain

import (
	"fmt"
	"time"
)

// Blob is one processed image stored with its chunked bytes and inline thumbnail.
// Identical uploads from the same owner may share a Blob via the dedup index,
// but nothing enforces (OwnerID, Hash) uniqueness.
type Blob struct {
	// ID is the primary key (UUID).
	ID string `json:"id"`

	// OriginalName is the file name declared by the uploader.
	OriginalName string `json:"originalName"`

	// Mimetype is the mimetype of the processed bytes, not the upload.
	Mimetype string `json:"mimetype"`

	// OriginalSize is the size of the uploaded bytes.
	OriginalSize int64 `json:"originalSize"`

	// ProcessedSize is the size of the re-encoded bytes held in Chunks.
	ProcessedSize int64 `json:"processedSize"`

	// Width and Height are the final pixel dimensions.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Chunks hold the base64 of the processed bytes, ordered by Index.
	Chunks []Chunk `json:"-"`

	// ChunkCount is len(Chunks) at write time.
	ChunkCount int `json:"chunkCount"`

	// ChunkSize is the slice length (in base64 characters) used at write time.
	ChunkSize int `json:"chunkSize"`

	// Thumbnail is a base64 JPEG preview stored inline.
	Thumbnail string `json:"-"`

	// Hash is the SHA-256 hex digest of the original upload.
	Hash string `json:"hash"`

	// Compression records the transformation that produced the stored bytes.
	Compression Compression `json:"compression"`

	// OwnerID scopes deduplication.
	OwnerID string `json:"ownerId"`

	// AttachmentRef is the external record this blob illustrates, if any.
	AttachmentRef *AttachmentRef `json:"attachmentRef"`

	// UsageCount starts at 1 and never decreases.
	UsageCount int64 `json:"usageCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chunk is one positional slice of a blob's base64 payload.
type Chunk struct {
	Index int    `json:"index"`
	Data  string `json:"data"`
}

// AttachmentRef is an opaque pointer to a record owned by a collaborator.
type AttachmentRef struct {
	TargetID string `json:"targetId"`
	SubIndex *int   `json:"subIndex,omitempty"`
}

// Validate checks that the reference names a target.
func (a *AttachmentRef) Validate() error {
	if a == nil {
		return nil
	}
	if a.TargetID == "" {
		return NewDomainError(ErrInvalidAttachment, "targetId is required", "")
	}
	if a.SubIndex != nil && *a.SubIndex < 0 {
		return NewDomainError(ErrInvalidAttachment, "subIndex must not be negative", a.TargetID)
	}
	return nil
}

// Compression describes how the stored bytes were derived from the upload.
type Compression struct {
	Quality   int    `json:"quality"`
	Format    string `json:"format"`
	Resized   bool   `json:"resized"`
	MaxWidth  *int   `json:"maxWidth,omitempty"`
	MaxHeight *int   `json:"maxHeight,omitempty"`
}

// Image formats recorded in Compression.Format.
const (
	FormatJPEG     = "jpeg"
	FormatPNG      = "png"
	FormatGIF      = "gif"
	FormatWEBP     = "webp"
	FormatOriginal = "original"
)

// IsAttached reports whether a collaborator currently references the blob.
func (b *Blob) IsAttached() bool {
	return b.AttachmentRef != nil
}

// CanSweep reports whether the retention sweep may delete the blob.
// Any usage or any attachment exempts it regardless of age.
func (b *Blob) CanSweep(cutoff time.Time) bool {
	return b.UsageCount == 0 && !b.IsAttached() && b.CreatedAt.Before(cutoff)
}

// ThumbnailETagPrefix distinguishes thumbnail validators from full-image ones.
const ThumbnailETagPrefix = "thumb-"

// ThumbnailETag is the validator served with the thumbnail.
func (b *Blob) ThumbnailETag() string {
	return ThumbnailETagPrefix + b.Hash
}

// URL is the path of the full image.
func (b *Blob) URL() string {
	return "/images/" + b.ID
}

// ThumbnailURL is the path of the thumbnail.
func (b *Blob) ThumbnailURL() string {
	return "/images/" + b.ID + "/thumbnail"
}

// FormattedSize renders ProcessedSize for display.
func (b *Blob) FormattedSize() string {
	return FormatSize(b.ProcessedSize)
}

// FormatSize renders a byte count as B, KB or MB with one decimal.
func FormatSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}
