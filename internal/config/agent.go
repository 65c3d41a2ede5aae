package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"studio-sync/internal/repository"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AgentConfig configures one editor's sync agent.
type AgentConfig struct {
	ServerURL         string        `yaml:"server_url"`
	UserID            string        `yaml:"user_id"`
	Interval          time.Duration `yaml:"interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DataDir           string        `yaml:"data_dir"`
	WorkspaceDir      string        `yaml:"workspace_dir"`
	Token             string        `yaml:"token"`

	// Snapshot storage, shared with the server's store selection.
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	S3       S3Config       `yaml:"s3"`
}

// LoadAgent reads AGENT_* environment defaults, then overlays the YAML file
// at path when one is given.
func LoadAgent(path string) (*AgentConfig, error) {
	godotenv.Load()

	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".studio-sync")

	interval, err := getEnvAsDuration("AGENT_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	heartbeat, err := getEnvAsDuration("AGENT_HEARTBEAT_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		ServerURL:         getEnv("AGENT_SERVER_URL", "http://localhost:8080"),
		UserID:            getEnv("AGENT_USER_ID", ""),
		Interval:          interval,
		HeartbeatInterval: heartbeat,
		DataDir:           getEnv("AGENT_DATA_DIR", dataDir),
		WorkspaceDir:      getEnv("AGENT_WORKSPACE_DIR", filepath.Join(dataDir, "workspace")),
		Token:             getEnv("AGENT_TOKEN", ""),
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", BackendCouchDB),
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
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "studio-sync:"),
		},
		S3: S3Config{
			Bucket:   getEnv("S3_BUCKET", ""),
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read agent config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse agent config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AgentConfig) StoreOptions() repository.StoreOptions {
	return StoreOptions(c.Store, c.Database, c.Redis, c.S3)
}

func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if c.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.DataDir == "" {
		return errors.New("data dir is required")
	}
	return nil
}
