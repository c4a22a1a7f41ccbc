package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Blob Errors
	// ===========================================

	// ErrBlobNotFound indicates the requested blob does not exist.
	ErrBlobNotFound = errors.New("image not found")

	// ErrForbidden indicates the caller may not modify the blob.
	ErrForbidden = errors.New("access denied")

	// ErrInvalidBlobID indicates the blob id is malformed.
	ErrInvalidBlobID = errors.New("invalid image id")

	// ===========================================
	// Upload Errors
	// ===========================================

	// ErrEmptyUpload indicates no bytes were supplied.
	ErrEmptyUpload = errors.New("no image file provided")

	// ErrInvalidMimetype indicates the declared mimetype is not accepted.
	ErrInvalidMimetype = errors.New("invalid file type, only JPEG, PNG, GIF and WEBP images are allowed")

	// ErrPayloadTooLarge indicates the declared size exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("file too large")

	// ErrMissingOwner indicates the upload carries no owner.
	ErrMissingOwner = errors.New("owner id is required")

	// ErrInvalidAttachment indicates a malformed attachment reference.
	ErrInvalidAttachment = errors.New("invalid attachment reference")

	// ===========================================
	// Processing Errors
	// ===========================================

	// ErrUnsupportedImage indicates the codec could not decode the upload.
	ErrUnsupportedImage = errors.New("unsupported or corrupt image")

	// ErrCorruptChunks indicates stored chunks do not reconstruct to the recorded size.
	ErrCorruptChunks = errors.New("stored chunks are corrupt")

	// ===========================================
	// Retention Errors
	// ===========================================

	// ErrInvalidDaysOld indicates the sweep age is outside 1..365.
	ErrInvalidDaysOld = errors.New("daysOld must be between 1 and 365")

	// ===========================================
	// Listing Errors
	// ===========================================

	// ErrInvalidSortField indicates an unsupported sort column.
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidPagination indicates page or limit is out of range.
	ErrInvalidPagination = errors.New("invalid pagination parameters")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., blob id, mimetype).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
