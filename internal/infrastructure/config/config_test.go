package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
storage:
  database_path: "custom.db"
engine:
  split_epsilon: 0.005
  knn_neighbors: 7
  transaction_timeout: 30s
observability:
  logging:
    level: debug
    format: json
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "custom.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 0.005, cfg.Engine.SplitEpsilon)
	assert.Equal(t, 7, cfg.Engine.KNNNeighbors)
	assert.Equal(t, 30*time.Second, cfg.Engine.TransactionTimeout)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
	// Unset values fall back to defaults
	assert.Equal(t, 20, cfg.Engine.MinCorpusSize)
	assert.Equal(t, 4, cfg.Engine.MaxParallelScorers)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	os.Setenv("TEST_RECONCILE_DB", "expanded.db")
	defer os.Unsetenv("TEST_RECONCILE_DB")

	path := writeConfig(t, `
storage:
  database_path: "${TEST_RECONCILE_DB}"
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "expanded.db", cfg.Storage.DatabasePath)
}

func TestLoad_RejectsInvalidEngineValues(t *testing.T) {
	path := writeConfig(t, `
engine:
  knn_neighbors: -3
`)

	_, err := Load(path)

	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("RECONCILE_DB_PATH", "test.db")
	os.Setenv("RECONCILE_KNN_NEIGHBORS", "9")
	os.Setenv("RECONCILE_TRANSACTION_TIMEOUT", "5s")
	defer func() {
		os.Unsetenv("RECONCILE_DB_PATH")
		os.Unsetenv("RECONCILE_KNN_NEIGHBORS")
		os.Unsetenv("RECONCILE_TRANSACTION_TIMEOUT")
	}()

	cfg := LoadFromEnv()

	assert.NotNil(t, cfg)
	assert.Equal(t, "test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 9, cfg.Engine.KNNNeighbors)
	assert.Equal(t, 5*time.Second, cfg.Engine.TransactionTimeout)
	assert.Equal(t, 0.01, cfg.Engine.SplitEpsilon)
}

func TestLoadOrEnv_FallsBack(t *testing.T) {
	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.NotNil(t, cfg)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}
