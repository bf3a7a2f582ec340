// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"pawmap/internal/adapter/placesearch"
	"pawmap/internal/adapter/storage"
	"pawmap/internal/config"
	"pawmap/internal/domain/document"
	"pawmap/internal/server"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pawmap",
		Short: "Dog-friendly places and community chat API",
		Long:  "Pawmap serves a live community chat feed and an aggregated map of dog-friendly places.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

// newServeCmd creates the serve subcommand
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// newMigrateCmd creates the migrate subcommand
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx := cmd.Context()
			db, err := initDatabase(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
			log.Println("Migrations applied")
			return nil
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize document store
	var (
		docs   document.Store
		health func(ctx context.Context) error
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		log.Println("Using in-memory document store")
		docs = storage.NewMemoryStore()

	default:
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}

		natsConn, err := initNATS(cfg.NATS)
		if err != nil {
			return err
		}
		defer natsConn.Close()

		docs = storage.NewDocumentStore(db, natsConn, cfg.Store.SubjectPrefix)
		health = db.Ping
	}

	// Initialize storage adapters
	images := storage.NewImageStore(docs, cfg.Images.BaseURL, cfg.Images.MaxBytes)

	// Initialize external place search
	if cfg.Search.APIKey == "" {
		log.Println("GOOGLE_PLACES_API_KEY not set, external places disabled")
	}
	searcher := placesearch.NewClient(
		cfg.Search.APIKey,
		placesearch.WithBaseURL(cfg.Search.BaseURL),
		placesearch.WithOrigin(placesearch.Origin{Lat: cfg.Search.OriginLat, Lng: cfg.Search.OriginLng}),
		placesearch.WithRadius(cfg.Search.RadiusMeters),
		placesearch.WithMaxResults(cfg.Search.MaxResults),
		placesearch.WithPhotoWorkers(cfg.Search.PhotoConcurrency),
		placesearch.WithTimeout(cfg.Search.Timeout),
	)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, server.Dependencies{
		MessageStore: storage.NewMessageStore(docs),
		PlaceStore:   storage.NewPlaceStore(docs),
		Searcher:     searcher,
		Uploader:     images,
		Images:       images,
		FeedConfig:   cfg.Feed,
		PlacesConfig: cfg.Places,
		Health:       health,
	})

	// Start HTTP server
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
