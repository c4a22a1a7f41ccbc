package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/repository"
)

// HealthHandler reports database reachability.
type HealthHandler struct {
	db      repository.DatabaseHealth
	version string
	logger  zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db repository.DatabaseHealth, version string, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		version: version,
		logger:  logger.With().Str("handler", "health").Logger(),
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version,omitempty"`
}

// ServeHTTP answers 200 when the database responds and 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Database: "ok", Version: h.version}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("database ping failed")
		resp.Status = "unhealthy"
		resp.Database = "error"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
