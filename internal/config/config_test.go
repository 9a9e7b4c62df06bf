package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/internal/config"
)

func TestLoadConfig(t *testing.T) {
	// Set env var directly to test envconfig logic
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")
	os.Unsetenv("DB_HOST")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.IndexBackendFlat, cfg.IndexBackend)
	assert.Equal(t, config.QueueBackendPostgres, cfg.QueueBackend)
	assert.Equal(t, config.ExtractorDescriptor, cfg.Extractor)
	assert.Equal(t, 6, cfg.MatchTopK)
	assert.Equal(t, 0.0, cfg.MatchMaxDistance)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.True(t, cfg.WorkersAutostart)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "weaviate")
	t.Setenv("QUEUE_BACKEND", "bolt")
	t.Setenv("MATCH_TOP_K", "10")
	t.Setenv("HEARTBEAT_INTERVAL", "2s")
	t.Setenv("WORKERS_AUTOSTART", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "weaviate", cfg.IndexBackend)
	assert.Equal(t, "bolt", cfg.QueueBackend)
	assert.Equal(t, 10, cfg.MatchTopK)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.False(t, cfg.WorkersAutostart)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "annoy")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfig_DSN(t *testing.T) {
	cfg := config.Config{DBHost: "db", DBPort: 5433, DBUser: "u", DBPass: "p", DBName: "n"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", cfg.DSN())
}
