// Package config provides configuration loading for bookrec.
//
// Configuration is loaded from environment variables with defaults
// (Load) or from a YAML file overridden by environment variables
// (LoadWithFile).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/bookrec/internal/logging"
)

// Config holds the complete bookrec configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Recommend     RecommendConfig     `koanf:"recommend"`
	Goals         GoalsConfig         `koanf:"goals"`
	Service       ServiceConfig       `koanf:"service"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       logging.Config      `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"` // requests/second per client, 0 disables
	RateBurst       int           `koanf:"rate_burst"`
}

// DatabaseConfig holds MySQL connection settings. DSN wins over the
// discrete host/user/password fields when both are set.
type DatabaseConfig struct {
	DSN             Secret        `koanf:"dsn"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	User            string        `koanf:"user"`
	Password        Secret        `koanf:"password"`
	Name            string        `koanf:"name"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
}

// ConnectionString returns the DSN to hand to the MySQL driver.
func (d DatabaseConfig) ConnectionString() string {
	if d.DSN.IsSet() {
		return d.DSN.Value()
	}
	if d.Host == "" || d.Name == "" {
		return ""
	}
	port := d.Port
	if port == 0 {
		port = 3306
	}
	u := &url.URL{
		Scheme: "mysql",
		Host:   fmt.Sprintf("%s:%d", d.Host, port),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password.Value())
	}
	return u.String()
}

// VectorStoreConfig selects and configures the catalog similarity index.
type VectorStoreConfig struct {
	Provider   string        `koanf:"provider"` // "chromem" or "qdrant"
	VectorSize int           `koanf:"vector_size"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded index.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig configures the remote index.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig selects the query embedder.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"` // "fastembed" or "tei"
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// RecommendConfig holds book recommendation tuning.
type RecommendConfig struct {
	Alpha          float64       `koanf:"alpha"`
	MaxSeeds       int           `koanf:"max_seeds"`
	BatchSeeds     int           `koanf:"batch_seeds"`
	ContentK       int           `koanf:"content_k"`
	CollaborativeN int           `koanf:"collaborative_n"`
	Limit          int           `koanf:"limit"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	QueryTimeout   time.Duration `koanf:"query_timeout"`
}

// GoalsConfig holds goal coaching settings.
type GoalsConfig struct {
	InactivityDays int    `koanf:"inactivity_days"`
	TimeZone       string `koanf:"timezone"`
}

// Location resolves TimeZone, falling back to UTC.
func (g GoalsConfig) Location() *time.Location {
	if g.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(g.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ServiceConfig holds orchestration settings.
type ServiceConfig struct {
	Workers int `koanf:"workers"`
}

// SchedulerConfig holds the batch refresh schedule.
type SchedulerConfig struct {
	Enabled   bool   `koanf:"enabled"`
	BooksCron string `koanf:"books_cron"`
	GoalsCron string `koanf:"goals_cron"`
}

// NATSConfig holds event publication settings.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure        bool   `koanf:"insecure"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Database: DatabaseConfig{
			Port:            3306,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			VectorSize: 384,
			Chromem: ChromemConfig{
				Path:       "data/catalog_index",
				Collection: "book_catalog",
				Compress:   true,
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "book_catalog",
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "BAAI/bge-small-en-v1.5",
			BaseURL:  "http://localhost:8080",
			CacheDir: "local_cache",
		},
		Recommend: RecommendConfig{
			Alpha:          0.8,
			MaxSeeds:       4,
			BatchSeeds:     3,
			ContentK:       10,
			CollaborativeN: 5,
			Limit:          12,
			CacheTTL:       10 * time.Minute,
			QueryTimeout:   5 * time.Second,
		},
		Goals: GoalsConfig{
			InactivityDays: 5,
			TimeZone:       "Asia/Seoul",
		},
		Service: ServiceConfig{Workers: 8},
		Scheduler: SchedulerConfig{
			BooksCron: "0 3 * * *",
			GoalsCron: "30 3 * * *",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "bookrec",
		},
		Observability: ObservabilityConfig{
			ServiceName: "bookrec",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_HOST, SERVER_PORT (default: 0.0.0.0:8000)
//   - DATABASE_DSN, or DB_HOST / DB_PORT / DB_USER / DB_PASSWORD / DB_NAME
//   - VECTORSTORE_PROVIDER (default: chromem), VECTORSTORE_CHROMEM_PATH
//   - EMBEDDINGS_PROVIDER (default: fastembed), EMBEDDINGS_BASE_URL
//   - RECOMMEND_ALPHA (default: 0.8)
//   - GOALS_INACTIVITY_DAYS (default: 5), GOALS_TIMEZONE (default: Asia/Seoul)
//   - SCHEDULER_ENABLED, NATS_ENABLED, OTEL_ENABLE
//   - LOG_LEVEL, LOG_FORMAT
func Load() *Config {
	cfg := Default()

	cfg.Server.Host = getEnvString("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.RateLimit = getEnvFloat("SERVER_RATE_LIMIT", cfg.Server.RateLimit)

	cfg.Database.DSN = Secret(getEnvString("DATABASE_DSN", ""))
	cfg.Database.Host = getEnvString("DB_HOST", "")
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvString("DB_USER", "")
	cfg.Database.Password = Secret(getEnvString("DB_PASSWORD", ""))
	cfg.Database.Name = getEnvString("DB_NAME", "")
	cfg.Database.QueryTimeout = getEnvDuration("DATABASE_QUERY_TIMEOUT", cfg.Database.QueryTimeout)

	cfg.VectorStore.Provider = getEnvString("VECTORSTORE_PROVIDER", cfg.VectorStore.Provider)
	cfg.VectorStore.Chromem.Path = getEnvString("VECTORSTORE_CHROMEM_PATH", cfg.VectorStore.Chromem.Path)
	cfg.VectorStore.Qdrant.Host = getEnvString("VECTORSTORE_QDRANT_HOST", cfg.VectorStore.Qdrant.Host)
	cfg.VectorStore.Qdrant.Port = getEnvInt("VECTORSTORE_QDRANT_PORT", cfg.VectorStore.Qdrant.Port)

	cfg.Embeddings.Provider = getEnvString("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnvString("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.BaseURL = getEnvString("EMBEDDINGS_BASE_URL", cfg.Embeddings.BaseURL)

	cfg.Recommend.Alpha = getEnvFloat("RECOMMEND_ALPHA", cfg.Recommend.Alpha)
	cfg.Recommend.QueryTimeout = getEnvDuration("RECOMMEND_QUERY_TIMEOUT", cfg.Recommend.QueryTimeout)

	cfg.Goals.InactivityDays = getEnvInt("GOALS_INACTIVITY_DAYS", cfg.Goals.InactivityDays)
	cfg.Goals.TimeZone = getEnvString("GOALS_TIMEZONE", cfg.Goals.TimeZone)

	cfg.Service.Workers = getEnvInt("SERVICE_WORKERS", cfg.Service.Workers)
	cfg.Scheduler.Enabled = getEnvBool("SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.NATS.Enabled = getEnvBool("NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = getEnvString("NATS_URL", cfg.NATS.URL)

	cfg.Observability.EnableTelemetry = getEnvBool("OTEL_ENABLE", cfg.Observability.EnableTelemetry)
	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", cfg.Observability.ServiceName)
	cfg.Observability.Endpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observability.Endpoint)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvString("LOG_FORMAT", cfg.Logging.Format)

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("rate limit must be >= 0")
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported vectorstore provider: %q", c.VectorStore.Provider)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("unsupported embeddings provider: %q", c.Embeddings.Provider)
	}

	r := c.Recommend
	if r.Alpha < 0 || r.Alpha > 1 {
		return fmt.Errorf("recommend alpha must be within [0,1], got %v", r.Alpha)
	}
	if r.MaxSeeds <= 0 || r.BatchSeeds <= 0 || r.ContentK <= 0 || r.CollaborativeN <= 0 || r.Limit <= 0 {
		return errors.New("recommend seed, k and limit values must be positive")
	}
	if r.QueryTimeout <= 0 {
		return errors.New("recommend query timeout must be positive")
	}

	if c.Goals.InactivityDays <= 0 {
		return fmt.Errorf("inactivity threshold must be positive, got %d", c.Goals.InactivityDays)
	}
	if c.Goals.TimeZone != "" {
		if _, err := time.LoadLocation(c.Goals.TimeZone); err != nil {
			return fmt.Errorf("invalid goals timezone %q: %w", c.Goals.TimeZone, err)
		}
	}
	if c.Service.Workers <= 0 {
		return errors.New("service workers must be positive")
	}
	if c.Scheduler.Enabled && (c.Scheduler.BooksCron == "" || c.Scheduler.GoalsCron == "") {
		return errors.New("scheduler cron expressions required when scheduler is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
