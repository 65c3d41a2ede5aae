package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendCouchDB, cfg.Store.Backend)
	assert.Equal(t, "sync/global-state.json", cfg.Sync.StateKey)
	assert.Equal(t, 5*time.Minute, cfg.Sync.ActiveThreshold)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.BackoffInitial)
	assert.Equal(t, time.Second, cfg.Sync.BackoffMax)
	assert.False(t, cfg.Auth.Enabled)
	assert.Empty(t, cfg.JWTSecret())
	assert.Equal(t, "*", cfg.CORS.AllowedOrigins)
	assert.Equal(t, "GET,POST,OPTIONS", cfg.CORS.AllowedMethods)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "S3")
	t.Setenv("S3_BUCKET", "studio-state")
	t.Setenv("SYNC_ACTIVE_THRESHOLD", "90s")
	t.Setenv("SYNC_MAX_ATTEMPTS", "8")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendS3, cfg.Store.Backend)
	assert.Equal(t, "studio-state", cfg.S3.Bucket)
	assert.Equal(t, 90*time.Second, cfg.Sync.ActiveThreshold)
	assert.Equal(t, 8, cfg.Sync.MaxAttempts)
	assert.Equal(t, "s3cret", cfg.JWTSecret())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad duration", env: map[string]string{"SYNC_BACKOFF_MAX": "soon"}},
		{name: "zero attempts", env: map[string]string{"SYNC_MAX_ATTEMPTS": "0"}},
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "floppy"}},
		{name: "s3 without bucket", env: map[string]string{"STORE_BACKEND": "s3"}},
		{name: "auth without secret", env: map[string]string{"AUTH_ENABLED": "true"}},
		{name: "inverted backoff", env: map[string]string{"SYNC_BACKOFF_INITIAL": "2s", "SYNC_BACKOFF_MAX": "1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadAgent_EnvironmentDefaults(t *testing.T) {
	t.Setenv("AGENT_USER_ID", "alice")
	t.Setenv("AGENT_DATA_DIR", "/tmp/agent")

	cfg, err := LoadAgent("")
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "/tmp/agent", cfg.DataDir)
}

func TestLoadAgent_YAMLOverlay(t *testing.T) {
	t.Setenv("AGENT_USER_ID", "alice")

	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://sync.studio.example
user_id: bob
interval: 10s
store:
  backend: redis
redis:
  url: redis://cache:6379/2
`), 0o600))

	cfg, err := LoadAgent(path)
	require.NoError(t, err)

	assert.Equal(t, "https://sync.studio.example", cfg.ServerURL)
	assert.Equal(t, "bob", cfg.UserID)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval, "fields absent from the file keep their defaults")
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
}

func TestLoadAgent_Errors(t *testing.T) {
	_, err := LoadAgent(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: -5s\n"), 0o600))
	_, err = LoadAgent(path)
	assert.Error(t, err)
}

func TestStoreOptions(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("DB_USER", "couch")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Load()
	require.NoError(t, err)

	opts := cfg.StoreOptions()
	assert.Equal(t, BackendRedis, opts.Backend)
	assert.Equal(t, "redis://cache:6379/0", opts.RedisURL)
	assert.Equal(t, "http://couch:pw@localhost:5984", opts.CouchURL)
	assert.Equal(t, "studio-sync:", opts.RedisPrefix)
}
