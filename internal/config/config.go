package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Cache     CacheConfig
	Services  ServicesConfig
	Events    EventsConfig
	Worker    WorkerConfig
	Staleness StalenessConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"3000"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	MaxBodyBytes    int64         `envconfig:"SERVER_MAX_BODY_BYTES" default:"104857600"` // 100MB snapshot payloads
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"listing-snapshot-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// DatabaseConfig holds snapshot database settings.
type DatabaseConfig struct {
	Type string `envconfig:"DB_TYPE" default:"sqlite"` // postgres, mysql, sqlite or mongodb
	Path string `envconfig:"DB_PATH" default:"./data/snapshots.db"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"snapshots"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASS" default:""`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"snapshots"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"snapshots"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	// OpTimeout bounds a storage call when the caller set no deadline.
	OpTimeout time.Duration `envconfig:"DB_OP_TIMEOUT" default:"30s"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name, d.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (d *DatabaseConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// QueueConfig holds the Redis job store settings.
type QueueConfig struct {
	Host      string        `envconfig:"QUEUE_HOST" default:"localhost"`
	Port      int           `envconfig:"QUEUE_PORT" default:"6379"`
	Password  string        `envconfig:"QUEUE_PASSWORD" default:""`
	DB        int           `envconfig:"QUEUE_DB" default:"0"`
	Prefix    string        `envconfig:"QUEUE_PREFIX" default:"bull:snapshot"`
	OpTimeout time.Duration `envconfig:"QUEUE_OP_TIMEOUT" default:"5s"`
}

// Address returns the Redis address in host:port format.
func (q *QueueConfig) Address() string {
	return fmt.Sprintf("%s:%d", q.Host, q.Port)
}

// CacheConfig holds metadata cache settings. The redis cache shares the
// queue connection.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"1h"`
}

// ServicesConfig holds the metadata service endpoints.
type ServicesConfig struct {
	SchemaURL string        `envconfig:"SCHEMA_SERVICE_URL" default:"http://localhost:3001"`
	SkinURL   string        `envconfig:"SKIN_SERVICE_URL" default:"http://localhost:3002"`
	Timeout   time.Duration `envconfig:"SERVICES_TIMEOUT" default:"10s"`
}

// EventsConfig holds snapshot notification settings.
type EventsConfig struct {
	Driver       string `envconfig:"EVENTS_DRIVER" default:"none"` // amqp, redis or none
	RabbitHost   string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	RabbitPort   int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	RabbitUser   string `envconfig:"RABBITMQ_USERNAME" default:"guest"`
	RabbitPass   string `envconfig:"RABBITMQ_PASSWORD" default:"guest"`
	RabbitVHost  string `envconfig:"RABBITMQ_VHOST" default:""`
	Exchange     string `envconfig:"EVENTS_EXCHANGE" default:"bptf-snapshot.created"`
	RedisChannel string `envconfig:"EVENTS_CHANNEL" default:"bptf-snapshot.created"`
}

// AMQPURL returns the RabbitMQ connection URL.
func (e *EventsConfig) AMQPURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(e.RabbitUser, e.RabbitPass),
		Host:   fmt.Sprintf("%s:%d", e.RabbitHost, e.RabbitPort),
		Path:   "/" + e.RabbitVHost,
	}
	return u.String()
}

// WorkerConfig holds refresh worker pool settings.
type WorkerConfig struct {
	Concurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
	JobTimeout   time.Duration `envconfig:"WORKER_JOB_TIMEOUT" default:"2m"`
	LockDuration time.Duration `envconfig:"WORKER_LOCK_DURATION" default:"30s"`
	RefreshURL   string        `envconfig:"WORKER_REFRESH_URL" default:""` // empty disables the pool
}

// StalenessConfig holds the periodic stale snapshot sweep settings.
type StalenessConfig struct {
	StaleAfter      time.Duration `envconfig:"STALE_AFTER" default:"24h"`
	CheckInterval   time.Duration `envconfig:"STALE_CHECK_INTERVAL" default:"10m"`
	BatchSize       int           `envconfig:"STALE_BATCH_SIZE" default:"100"`
	RefreshPriority int           `envconfig:"STALE_REFRESH_PRIORITY" default:"10"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
