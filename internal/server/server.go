// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pawmap/internal/config"
	"pawmap/internal/domain/feed"
	"pawmap/internal/domain/identity"
	"pawmap/internal/domain/place"
	"pawmap/internal/server/handlers"
	feedService "pawmap/internal/service/feed"
	placesService "pawmap/internal/service/places"
)

// Dependencies are the stores and clients the HTTP surface is built on
type Dependencies struct {
	MessageStore feed.Store
	PlaceStore   place.Store
	Searcher     place.Searcher
	Uploader     place.ImageUploader
	Images       handlers.ImageSource

	FeedConfig   config.FeedConfig
	PlacesConfig config.PlacesConfig

	// Health reports whether the backing store is reachable; nil means always
	Health func(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", HeaderUserID, HeaderUserName, HeaderUserEmail},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Use(Identity)

	provider := identity.ContextProvider{}

	// Create handler dependencies
	feedHandler := handlers.NewFeedHandler(
		deps.MessageStore,
		provider,
		feedService.EngineConfig{MaxMessageLength: deps.FeedConfig.MaxMessageLength},
		deps.FeedConfig.MaxMessages,
	)
	placeHandler := handlers.NewPlaceHandler(
		deps.PlaceStore,
		deps.Searcher,
		deps.Uploader,
		provider,
		placesService.EngineConfig{FetchLimit: deps.PlacesConfig.FetchLimit},
	)
	imageHandler := handlers.NewImageHandler(deps.Images)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			if deps.Health != nil {
				if err := deps.Health(r.Context()); err != nil {
					http.Error(w, "unavailable", http.StatusServiceUnavailable)
					return
				}
			}
			_, _ = w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Post("/messages", feedHandler.SendMessage)

			r.Route("/places", func(r chi.Router) {
				r.Get("/", placeHandler.ListPlaces)
				r.Post("/", placeHandler.SubmitPlace)
			})

			r.Get("/images/{id}", imageHandler.GetImage)
		})
	})

	// WebSocket endpoints for live updates; no request timeout
	router.Get("/ws/feed", feedHandler.ServeWebSocket)
	router.Get("/ws/places", placeHandler.ServeWebSocket)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
