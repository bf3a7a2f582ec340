// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Store       StoreConfig
	Feed        FeedConfig
	Places      PlacesConfig
	Search      SearchConfig
	Images      ImagesConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Driver string
	// SubjectPrefix namespaces the change notifications on NATS
	SubjectPrefix string
}

// FeedConfig holds live feed configuration
type FeedConfig struct {
	MaxMessages      int
	MaxMessageLength int
}

// PlacesConfig holds place aggregation configuration
type PlacesConfig struct {
	FetchLimit int
}

// SearchConfig holds external place search configuration
type SearchConfig struct {
	APIKey           string
	BaseURL          string
	OriginLat        float64
	OriginLng        float64
	RadiusMeters     int
	MaxResults       int
	Timeout          time.Duration
	PhotoConcurrency int
}

// ImagesConfig holds uploaded image configuration
type ImagesConfig struct {
	// BaseURL prefixes image URLs handed to clients; empty gives relative URLs
	BaseURL  string
	MaxBytes int
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "pawmap"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Store: StoreConfig{
			Driver:        getEnv("STORE_DRIVER", StoreDriverPostgres),
			SubjectPrefix: getEnv("STORE_SUBJECT_PREFIX", "docstore"),
		},
		Feed: FeedConfig{
			MaxMessages:      getEnvAsInt("FEED_MAX_MESSAGES", 100),
			MaxMessageLength: getEnvAsInt("FEED_MAX_MESSAGE_LENGTH", 1000),
		},
		Places: PlacesConfig{
			FetchLimit: getEnvAsInt("PLACES_FETCH_LIMIT", 80),
		},
		Search: SearchConfig{
			APIKey:           getEnv("GOOGLE_PLACES_API_KEY", ""),
			BaseURL:          getEnv("SEARCH_BASE_URL", "https://maps.googleapis.com"),
			OriginLat:        getEnvAsFloat("SEARCH_ORIGIN_LAT", 47.6062),
			OriginLng:        getEnvAsFloat("SEARCH_ORIGIN_LNG", -122.3321),
			RadiusMeters:     getEnvAsInt("SEARCH_RADIUS_METERS", 20000),
			MaxResults:       getEnvAsInt("SEARCH_MAX_RESULTS", 25),
			Timeout:          getEnvAsDuration("SEARCH_TIMEOUT", 10*time.Second),
			PhotoConcurrency: getEnvAsInt("SEARCH_PHOTO_CONCURRENCY", 8),
		},
		Images: ImagesConfig{
			BaseURL:  getEnv("IMAGES_BASE_URL", ""),
			MaxBytes: getEnvAsInt("IMAGES_MAX_BYTES", 5<<20),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	switch config.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}

	if config.Store.Driver == StoreDriverMemory && config.Environment != "development" {
		return fmt.Errorf("memory store is only allowed in development")
	}

	if config.Feed.MaxMessages <= 0 {
		return fmt.Errorf("feed max messages must be positive")
	}

	if config.Places.FetchLimit <= 0 {
		return fmt.Errorf("places fetch limit must be positive")
	}

	if config.Search.OriginLat < -90 || config.Search.OriginLat > 90 ||
		config.Search.OriginLng < -180 || config.Search.OriginLng > 180 {
		return fmt.Errorf("search origin is out of range")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
