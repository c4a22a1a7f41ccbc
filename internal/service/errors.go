// Package service provides business logic services for imagevault.
package service

import (
	"errors"
	"fmt"

	"github.com/prn-tf/imagevault/internal/domain"
)

// Error kinds. Services wrap the underlying cause with one of these so the
// transport layer can map responses with errors.Is.
var (
	// ErrValidation is returned for bad input, before any work is done.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller may not act on the blob.
	ErrForbidden = errors.New("forbidden")

	// ErrProcessing is returned when the codec fails on the primary path.
	ErrProcessing = errors.New("image processing failed")

	// ErrPersistence is returned for storage read/write failures.
	ErrPersistence = errors.New("storage failure")

	// ErrQueueFull is returned when a worker pool rejects the task.
	ErrQueueFull = errors.New("server busy, retry later")

	// ErrInternalError covers everything else.
	ErrInternalError = errors.New("internal server error")
)

func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// repoError classifies a repository failure.
func repoError(err error) error {
	if errors.Is(err, domain.ErrBlobNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// forbiddenError reports that the caller may not manage blob id.
func forbiddenError(id string) error {
	return fmt.Errorf("%w: %w", ErrForbidden, domain.NewDomainError(domain.ErrForbidden, "not authorized to modify this image", id))
}
