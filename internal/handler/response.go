// Package handler provides HTTP handlers for the imagevault API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/service"
)

// =============================================================================
// Response Envelopes
// =============================================================================

// ErrorBody is the error part of a failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// DataResponse is written for successful requests that return a payload.
type DataResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Duplicate  bool            `json:"duplicate,omitempty"`
	Data       any             `json:"data,omitempty"`
	Pagination *PaginationView `json:"pagination,omitempty"`
}

// BlobView is a blob's metadata plus its derived fields. Chunks and the
// thumbnail never appear in it.
type BlobView struct {
	*domain.Blob
	URL           string `json:"url"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	FormattedSize string `json:"formattedSize"`
}

// PaginationView describes a listing page.
type PaginationView struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// CleanupResponse is the result of a sweep.
type CleanupResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deletedCount"`
	DryRun       bool   `json:"dryRun"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// NewBlobView wraps b.
func NewBlobView(b *domain.Blob) BlobView {
	return BlobView{
		Blob:          b,
		URL:           b.URL(),
		ThumbnailURL:  b.ThumbnailURL(),
		FormattedSize: b.FormattedSize(),
	}
}

// NewBlobViews wraps every blob.
func NewBlobViews(blobs []*domain.Blob) []BlobView {
	views := make([]BlobView, len(blobs))
	for i, b := range blobs {
		views[i] = NewBlobView(b)
	}
	return views
}

// =============================================================================
// Writers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   ErrorBody{Code: code, Message: message},
	})
}

// errorKind maps a service error kind to its response.
type errorKind struct {
	kind   error
	status int
	code   string
}

var errorKinds = []errorKind{
	{service.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{service.ErrQueueFull, http.StatusServiceUnavailable, "SERVICE_BUSY"},
	{service.ErrProcessing, http.StatusUnprocessableEntity, "PROCESSING_ERROR"},
}

// writeError maps err to a status code and writes the error envelope.
// Persistence and unknown errors are logged and hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			if k.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			writeErrorCode(w, k.status, k.code, clientMessage(err, k.kind))
			return
		}
	}

	if errors.Is(err, context.Canceled) {
		// Client went away; nothing useful to write.
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request cancelled")
		return
	}

	logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	writeErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", service.ErrInternalError.Error())
}

// clientMessage strips the kind prefix added by the service layer.
func clientMessage(err, kind error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, kind.Error()+": "); trimmed != "" {
		return trimmed
	}
	return msg
}
