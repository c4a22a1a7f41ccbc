package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/metrics"
)

// Router wires the imagevault HTTP API.
type Router struct {
	imageHandler   *ImageHandler
	healthHandler  http.Handler
	authMiddleware func(http.Handler) http.Handler
	metrics        *metrics.Metrics
	metricsPath    string
	logger         zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	ImageHandler   *ImageHandler
	HealthHandler  http.Handler
	AuthMiddleware func(http.Handler) http.Handler

	// Metrics is optional. When set, it is served on MetricsPath.
	Metrics     *metrics.Metrics
	MetricsPath string

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	path := config.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	return &Router{
		imageHandler:   config.ImageHandler,
		healthHandler:  config.HealthHandler,
		authMiddleware: config.AuthMiddleware,
		metrics:        config.Metrics,
		metricsPath:    path,
		logger:         config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler. Only JSON bodies are gzipped;
// images are already compressed.
func (rt *Router) Handler() (http.Handler, error) {
	gzip, err := gzhttp.NewWrapper(gzhttp.ContentTypes([]string{"application/json"}))
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(rt.logger, rt.metrics))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return gzip(next) })

	if rt.healthHandler != nil {
		r.Method(http.MethodGet, "/health", rt.healthHandler)
	}
	if rt.metrics != nil {
		r.Method(http.MethodGet, rt.metricsPath, rt.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if rt.authMiddleware != nil {
			r.Use(rt.authMiddleware)
		}
		rt.imageHandler.RegisterRoutes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r, nil
}
