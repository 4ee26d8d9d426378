package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/api/handlers"
	"github.com/tracklight/backend/internal/api/middleware"
	"github.com/tracklight/backend/internal/api/websocket"
	"github.com/tracklight/backend/internal/modules/exports"
	"github.com/tracklight/backend/internal/shared/config"
	"github.com/tracklight/backend/internal/shared/database"
	"github.com/tracklight/backend/internal/shared/metrics"
	"github.com/tracklight/backend/internal/shared/storage"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *database.Postgres
	Redis         *database.Redis
	Storage       *storage.Service
	WSHub         *websocket.Hub
	ExportsModule *exports.Module
	Prober        handlers.Prober
	EncoderReady  func() bool
	Metrics       *metrics.Metrics
}

// Server represents the API server
type Server struct {
	config        *config.Config
	logger        *zap.Logger
	db            *database.Postgres
	redis         *database.Redis
	storage       *storage.Service
	wsHub         *websocket.Hub
	exportsModule *exports.Module
	prober        handlers.Prober
	encoderReady  func() bool
	metrics       *metrics.Metrics
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		config:        cfg.Config,
		logger:        cfg.Logger,
		db:            cfg.DB,
		redis:         cfg.Redis,
		storage:       cfg.Storage,
		wsHub:         cfg.WSHub,
		exportsModule: cfg.ExportsModule,
		prober:        cfg.Prober,
		encoderReady:  cfg.EncoderReady,
		metrics:       cfg.Metrics,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.SecurityHeaders)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.metrics))
	}

	// CORS: reflect the configured editor origins, credentials on for the
	// anonymous cookie.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Range"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Content-Length", "Content-Range", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create rate limiter
	rateLimiter := middleware.NewRateLimiter(s.redis.Client, s.logger)

	// Apply global rate limit (100 req/min per IP) - before auth so it catches everything
	r.Use(rateLimiter.Limit(middleware.GlobalRateLimit))

	// Create Clerk auth middleware
	isSecure := s.config.Environment == "production"
	clerkAuth := middleware.NewClerkAuthMiddleware(s.config.ClerkSecretKey, isSecure)

	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.db, s.redis, s.encoderReady)
	assetHandler := handlers.NewAssetHandler(s.storage, s.db, s.prober, s.logger)
	projectHandler := handlers.NewProjectHandler(s.storage, s.db, s.logger)
	exportHandler := handlers.NewExportHandler(s.exportsModule, s.storage, s.db, s.logger)
	wsHandler := handlers.NewWebSocketHandler(s.wsHub, s.logger)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (public)
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)

		// Protected routes - apply Clerk auth middleware
		r.Group(func(r chi.Router) {
			r.Use(clerkAuth.Handler)

			// Source assets
			r.Route("/assets", func(r chi.Router) {
				// Upload routes: rate limited per user + stricter anonymous IP limit
				r.With(
					rateLimiter.Limit(middleware.AssetUploadRateLimit),
					rateLimiter.Limit(middleware.AnonAssetUploadRateLimit),
					middleware.ValidateFileUpload(middleware.AllMediaFileValidation),
				).Post("/", assetHandler.Upload)
				r.Get("/", assetHandler.List)
				r.Get("/{id}", assetHandler.Get)
				r.Get("/{id}/download", assetHandler.Download)
				r.Get("/{id}/probe", assetHandler.Probe)
				r.Delete("/{id}", assetHandler.Delete)
			})

			// Project documents
			r.Route("/projects", func(r chi.Router) {
				r.Post("/", projectHandler.Save)
				r.Get("/", projectHandler.List)
				r.Get("/{id}", projectHandler.Get)
				r.Get("/{id}/document", projectHandler.Document)
				r.Put("/{id}", projectHandler.Update)
				r.Delete("/{id}", projectHandler.Delete)
			})

			// Export jobs
			r.Route("/exports", func(r chi.Router) {
				// Export creation: rate limited per user + stricter anonymous IP limit
				r.With(
					rateLimiter.Limit(middleware.ExportCreationRateLimit),
					rateLimiter.Limit(middleware.AnonExportCreationRateLimit),
				).Post("/", exportHandler.Create)
				r.Get("/", exportHandler.List)
				r.Get("/{id}", exportHandler.Get)
				r.Get("/{id}/download", exportHandler.Download)
				r.Post("/{id}/cancel", exportHandler.Cancel)
				r.Delete("/{id}", exportHandler.Delete)
			})

			// WebSocket
			r.Get("/ws", wsHandler.HandleConnection)
		})
	})

	return r
}
