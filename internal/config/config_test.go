package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
database:
  postgres:
    dsn: "host=db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "host=db", cfg.Database.Postgres.DSN)
	assert.Equal(t, 5, cfg.Pipeline.FetchConcurrency)
	assert.Equal(t, 8, cfg.Pipeline.AIConcurrency)
	assert.Equal(t, 10, cfg.Pipeline.CommitLimit)
	assert.Equal(t, 30, cfg.Pipeline.CommitFetch)
	assert.Equal(t, 10000, cfg.Pipeline.MaxSummaryChars)
	assert.Equal(t, 300*time.Second, cfg.Pipeline.RunTimeout)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, "project-ingest", cfg.Kafka.Topic)
}

func TestLoad_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  item_timeout: 15s
  run_timeout: 2m
  ai_concurrency: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Pipeline.ItemTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, 3, cfg.Pipeline.AIConcurrency)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: "from-file"
`)
	t.Setenv("CODELENS_LLM_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
