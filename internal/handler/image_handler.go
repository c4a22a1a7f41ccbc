package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/auth"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/service"
)

// CacheControl is sent with every image and thumbnail.
const CacheControl = "public, max-age=31536000"

// multipartOverhead is the room allowed for form fields and boundaries on top
// of the image itself.
const multipartOverhead = 1 << 20

// ImageHandler serves the /images API.
type ImageHandler struct {
	ingest    *service.IngestService
	delivery  *service.DeliveryService
	catalog   *service.CatalogService
	retention *service.RetentionService
	config    ImageHandlerConfig
	logger    zerolog.Logger
}

// ImageHandlerConfig contains upload settings of the HTTP call site.
type ImageHandlerConfig struct {
	MaxUploadSize int64

	// KeepOriginalOnCodecError stores raw bytes when processing fails.
	KeepOriginalOnCodecError bool
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(
	ingest *service.IngestService,
	delivery *service.DeliveryService,
	catalog *service.CatalogService,
	retention *service.RetentionService,
	config ImageHandlerConfig,
	logger zerolog.Logger,
) *ImageHandler {
	return &ImageHandler{
		ingest:    ingest,
		delivery:  delivery,
		catalog:   catalog,
		retention: retention,
		config:    config,
		logger:    logger.With().Str("handler", "images").Logger(),
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers image routes. Static segments are registered
// before {id} so that they win.
func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/images", func(r chi.Router) {
		r.Post("/upload", h.handleUpload)
		r.Get("/my/images", h.handleListMine)
		r.Get("/by-attachment/{attachmentId}", h.handleListByAttachment)
		r.With(auth.RequirePrivileged).Delete("/admin/cleanup", h.handleCleanup)

		r.Get("/{id}", h.handleFetch)
		r.Get("/{id}/thumbnail", h.handleThumbnail)
		r.Get("/{id}/info", h.handleInfo)
		r.Delete("/{id}", h.handleDelete)
		r.Put("/{id}/attachment", h.handleAttach)
		r.Delete("/{id}/attachment", h.handleDetach)
	})
}

// =============================================================================
// Upload
// =============================================================================

func (h *ImageHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	if h.config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrPayloadTooLarge.Error())
			return
		}
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrEmptyUpload.Error())
		return
	}
	defer file.Close()

	ref, err := attachmentFromForm(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("read upload: %w", err))
		return
	}

	out, err := h.ingest.Ingest(r.Context(), service.IngestInput{
		Data:                     data,
		OriginalName:             header.Filename,
		DeclaredMimetype:         header.Header.Get("Content-Type"),
		DeclaredSize:             header.Size,
		OwnerID:                  caller.ID,
		AttachmentRef:            ref,
		KeepOriginalOnCodecError: h.config.KeepOriginalOnCodecError,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if out.Duplicate {
		writeJSON(w, http.StatusOK, DataResponse{
			Success:   true,
			Message:   "Image already exists, usage count incremented",
			Duplicate: true,
			Data:      NewBlobView(out.Blob),
		})
		return
	}

	writeJSON(w, http.StatusCreated, DataResponse{
		Success: true,
		Message: "Image uploaded and processed successfully",
		Data:    NewBlobView(out.Blob),
	})
}

// attachmentFromForm reads the optional targetId and subIndex fields.
func attachmentFromForm(r *http.Request) (*domain.AttachmentRef, error) {
	targetID := r.FormValue("targetId")
	subIndex := r.FormValue("subIndex")
	if targetID == "" {
		if subIndex != "" {
			return nil, domain.ErrInvalidAttachment
		}
		return nil, nil
	}

	ref := &domain.AttachmentRef{TargetID: targetID}
	if subIndex != "" {
		n, err := strconv.Atoi(subIndex)
		if err != nil || n < 0 {
			return nil, domain.NewDomainError(domain.ErrInvalidAttachment, "subIndex must be a non-negative integer", subIndex)
		}
		ref.SubIndex = &n
	}
	return ref, nil
}

// =============================================================================
// Delivery
// =============================================================================

func (h *ImageHandler) handleFetch(w http.ResponseWriter, r *http.Request) {
	out, err := h.delivery.Fetch(r.Context(), service.FetchInput{
		ID:          chi.URLParam(r, "id"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeImage(w, out)
}

func (h *ImageHandler) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	out, err := h.delivery.FetchThumbnail(r.Context(), service.FetchInput{
		ID:          chi.URLParam(r, "id"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeImage(w, out)
}

// writeImage writes the payload with its cache validators, or 304.
func writeImage(w http.ResponseWriter, out *service.FetchOutput) {
	header := w.Header()
	header.Set("Cache-Control", CacheControl)
	header.Set("ETag", out.ETag)
	header.Set("Last-Modified", out.LastModified.UTC().Format(http.TimeFormat))

	if out.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", out.Mimetype)
	header.Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

// =============================================================================
// Metadata
// =============================================================================

func (h *ImageHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	blob, err := h.catalog.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: NewBlobView(blob)})
}

func (h *ImageHandler) handleListByAttachment(w http.ResponseWriter, r *http.Request) {
	blobs, err := h.catalog.ListByAttachment(r.Context(), chi.URLParam(r, "attachmentId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: NewBlobViews(blobs)})
}

func (h *ImageHandler) handleListMine(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	query := r.URL.Query()
	page, err := optionalInt(query.Get("page"))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrInvalidPagination.Error())
		return
	}
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrInvalidPagination.Error())
		return
	}

	out, err := h.catalog.ListMine(r.Context(), service.ListMineInput{
		OwnerID:   caller.ID,
		Page:      page,
		Limit:     limit,
		SortBy:    query.Get("sortBy"),
		SortOrder: query.Get("sortOrder"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{
		Success: true,
		Data:    NewBlobViews(out.Items),
		Pagination: &PaginationView{
			Page:  out.Page,
			Limit: out.Limit,
			Total: out.Total,
			Pages: out.Pages,
		},
	})
}

// =============================================================================
// Mutations
// =============================================================================

func (h *ImageHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	if err := h.catalog.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Message: "Image deleted successfully"})
}

// attachRequest is the body of PUT /images/{id}/attachment.
type attachRequest struct {
	TargetID string `json:"targetId"`
	SubIndex *int   `json:"subIndex,omitempty"`
}

func (h *ImageHandler) handleAttach(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if req.SubIndex != nil && *req.SubIndex < 0 {
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrInvalidAttachment.Error())
		return
	}

	blob, err := h.catalog.Attach(r.Context(), caller, chi.URLParam(r, "id"), domain.AttachmentRef{
		TargetID: req.TargetID,
		SubIndex: req.SubIndex,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Message: "Image attached", Data: NewBlobView(blob)})
}

func (h *ImageHandler) handleDetach(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	blob, err := h.catalog.Detach(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Message: "Image detached", Data: NewBlobView(blob)})
}

// =============================================================================
// Retention
// =============================================================================

func (h *ImageHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	daysOld := service.DefaultDaysOld
	if raw := query.Get("daysOld"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < service.MinDaysOld || n > service.MaxDaysOld {
			writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrInvalidDaysOld.Error())
			return
		}
		daysOld = n
	}

	dryRun := false
	if raw := query.Get("dryRun"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", "dryRun must be a boolean")
			return
		}
		dryRun = b
	}

	res, err := h.retention.Sweep(r.Context(), service.SweepInput{DaysOld: daysOld, DryRun: dryRun})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	msg := fmt.Sprintf("Cleaned up %d unused images", res.DeletedCount)
	switch {
	case res.Skipped:
		msg = "Another cleanup is in progress"
	case res.DryRun:
		msg = fmt.Sprintf("%d unused images would be cleaned up", res.DeletedCount)
	}

	writeJSON(w, http.StatusOK, CleanupResponse{
		Success:      true,
		Message:      msg,
		DeletedCount: res.DeletedCount,
		DryRun:       res.DryRun,
		Skipped:      res.Skipped,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Explicit zero is out of range rather than "use the default".
		return -1, nil
	}
	return n, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
