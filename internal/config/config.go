package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgconfig "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/config"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/database"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/tracing"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/validator"
)

// ServiceName identifies this service in logs, metrics, traces and events.
const ServiceName = "book-service"

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the book service.
type Config struct {
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`

	// HTTP server
	HTTPPort           int      `env:"HTTP_PORT" envDefault:"4000" validate:"gte=1,lte=65535"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Persistence
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"postgres" validate:"oneof=postgres memory"`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"grimoire"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"grimoire_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"grimoire"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime  time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime  time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Authentication
	JWTSecret string        `env:"JWT_SECRET,notEmpty"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"grimoire"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	// Cover images
	ImageDir      string `env:"IMAGE_DIR" envDefault:"images"`
	ImagePath     string `env:"IMAGE_PATH" envDefault:"/booksImages"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:""`

	// Redis best-rated cache
	RedisEnabled       bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost          string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort          int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	BestRatingCacheTTL time.Duration `env:"BESTRATING_CACHE_TTL" envDefault:"60s"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0" validate:"gte=0,lte=1"`
}

// Load reads .env files from the working directory, then the environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom loads .env.<ENVIRONMENT> and then .env from dir, without
// overriding variables already set, and parses the environment.
func LoadFrom(dir string) (*Config, error) {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}
	if err := pkgconfig.LoadDotEnv(
		filepath.Join(dir, ".env."+environment),
		filepath.Join(dir, ".env"),
	); err != nil {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load book service config: %w", err)
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid book service config: %w", err)
	}
	return cfg, nil
}

// PostgresConfig returns the connection settings for database.NewPostgresPool.
func (c *Config) PostgresConfig() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

// RedisConfig returns the settings for database.NewRedisClient.
func (c *Config) RedisConfig() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// TracingConfig returns the OpenTelemetry settings.
func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTelEndpoint,
		SampleRate:     c.OTelSampleRate,
		Enabled:        c.OTelEnabled,
	}
}

// ImageRoute returns the URL path images are served under, with a leading
// slash and no trailing one.
func (c *Config) ImageRoute() string {
	return "/" + strings.Trim(c.ImagePath, "/")
}

// ImageBaseURL returns the public URL prefix of stored images. It defaults
// to the local HTTP port when PUBLIC_BASE_URL is unset.
func (c *Config) ImageBaseURL() string {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.HTTPPort)
	}
	return base + c.ImageRoute()
}
