package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/service"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/health"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/middleware"
)

// imageMaxAge is the Cache-Control max-age of served cover images. Image
// keys are never reused, so covers can be cached for a long time.
const imageMaxAge = 7 * 24 * 60 * 60

// RouterConfig holds everything the router needs.
type RouterConfig struct {
	BookService   *service.BookService
	HealthHandler *health.Handler

	// ValidateToken authenticates bearer tokens on mutating routes.
	ValidateToken middleware.TokenValidator

	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer
	CORS     middleware.CORSConfig

	// ImageDir is served under ImagePath when set.
	ImageDir  string
	ImagePath string

	Logger *slog.Logger
}

// NewRouter creates a chi router with all book service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	// Health check endpoints
	r.Get("/health/live", cfg.HealthHandler.LivenessHandler())
	r.Get("/health/ready", cfg.HealthHandler.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Cover images
	if cfg.ImageDir != "" {
		prefix := "/" + strings.Trim(cfg.ImagePath, "/")
		r.With(middleware.CacheControl(imageMaxAge)).
			Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.ImageDir))))
	}

	// Book API endpoints
	bookHandler := NewBookHandler(cfg.BookService, cfg.Logger)
	auth := middleware.Auth(cfg.ValidateToken)

	r.Route("/api/books", func(r chi.Router) {
		r.Get("/", bookHandler.ListBooks)
		r.Get("/bestrating", bookHandler.TopRated)
		r.Get("/{id}", bookHandler.GetBook)

		// Credentials are checked before the body's content type.
		r.Group(func(r chi.Router) {
			r.Use(auth, ContentTypeJSON)

			r.Post("/", bookHandler.CreateBook)
			r.Put("/{id}", bookHandler.UpdateBook)
			r.Delete("/{id}", bookHandler.DeleteBook)
			r.Post("/{id}/rating", bookHandler.RateBook)
		})
	})

	return r
}
