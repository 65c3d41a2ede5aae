package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"studio-sync/internal/repository"

	"github.com/joho/godotenv"
)

const (
	BackendCouchDB = repository.BackendCouchDB
	BackendRedis   = repository.BackendRedis
	BackendS3      = repository.BackendS3
	BackendMemory  = repository.BackendMemory
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	S3        S3Config
	Sync      SyncConfig
	Auth      AuthConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// DatabaseConfig addresses the CouchDB server used by the couchdb backend.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type SyncConfig struct {
	StateKey        string
	ActiveThreshold time.Duration
	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

type AuthConfig struct {
	Enabled              bool
	JWTSecret            string
	JWTExpiration        time.Duration
	JWTRefreshExpiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := getEnvAsDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendCouchDB)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "studio_sync"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "studio-sync:"),
		},
		S3: S3Config{
			Bucket:   getEnv("S3_BUCKET", ""),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Sync: SyncConfig{
			StateKey:        getEnv("SYNC_STATE_KEY", "sync/global-state.json"),
			ActiveThreshold: duration("SYNC_ACTIVE_THRESHOLD", "5m"),
			MaxAttempts:     getEnvAsInt("SYNC_MAX_ATTEMPTS", 5),
			BackoffInitial:  duration("SYNC_BACKOFF_INITIAL", "50ms"),
			BackoffMax:      duration("SYNC_BACKOFF_MAX", "1s"),
		},
		Auth: AuthConfig{
			Enabled:              getEnvAsBool("AUTH_ENABLED", false),
			JWTSecret:            getEnv("JWT_SECRET", ""),
			JWTExpiration:        duration("JWT_EXPIRATION", "720h"),
			JWTRefreshExpiration: duration("JWT_REFRESH_EXPIRATION", "2160h"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 65536)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendCouchDB, BackendRedis, BackendMemory:
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be positive, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.ActiveThreshold <= 0 {
		return errors.New("SYNC_ACTIVE_THRESHOLD must be positive")
	}
	if c.Sync.BackoffInitial <= 0 || c.Sync.BackoffMax < c.Sync.BackoffInitial {
		return errors.New("SYNC_BACKOFF_INITIAL must be positive and not above SYNC_BACKOFF_MAX")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when AUTH_ENABLED is set")
	}

	return nil
}

// CouchURL builds the CouchDB address with credentials.
func (d DatabaseConfig) CouchURL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

// StoreOptions maps the backend selection onto repository.OpenBlobStore.
func StoreOptions(store StoreConfig, db DatabaseConfig, r RedisConfig, s3 S3Config) repository.StoreOptions {
	return repository.StoreOptions{
		Backend:     store.Backend,
		CouchURL:    db.CouchURL(),
		CouchDB:     db.Name,
		RedisURL:    r.URL,
		RedisDB:     r.DB,
		RedisPrefix: r.KeyPrefix,
		S3Bucket:    s3.Bucket,
		S3Region:    s3.Region,
		S3Endpoint:  s3.Endpoint,
	}
}

func (c *Config) StoreOptions() repository.StoreOptions {
	return StoreOptions(c.Store, c.Database, c.Redis, c.S3)
}

// JWTSecret returns the signing secret only when auth is enabled.
func (c *Config) JWTSecret() string {
	if !c.Auth.Enabled {
		return ""
	}
	return c.Auth.JWTSecret
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
