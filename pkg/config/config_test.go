package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	t.Setenv("FLEET_DB_HOST", "localhost")
	t.Setenv("FLEET_DB_PASSWORD", "secret")

	path := writeTempConfig(t, `
llm:
  backend: mock
  workspace_base_path: /tmp/fleet-workspaces
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Executor.WorkerCount)
	assert.Equal(t, 5, cfg.Executor.BatchSize)
	assert.Equal(t, 10, cfg.Hierarchy.MaxDepth)
	assert.Equal(t, "mock", cfg.LLM.Backend)
}

func TestLoad_OverridesWin(t *testing.T) {
	t.Setenv("FLEET_DB_HOST", "localhost")
	t.Setenv("FLEET_DB_PASSWORD", "secret")

	path := writeTempConfig(t, `
executor:
  worker_count: 7
llm:
  backend: mock
  workspace_base_path: /tmp/fleet-workspaces
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Executor.WorkerCount)
}

func TestLoad_RequiresAPIKeyForNonMockBackend(t *testing.T) {
	t.Setenv("FLEET_DB_HOST", "localhost")
	t.Setenv("FLEET_DB_PASSWORD", "secret")

	path := writeTempConfig(t, `
llm:
  backend: anthropic
  workspace_base_path: /tmp/fleet-workspaces
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("FLEET_DB_HOST", "localhost")
	t.Setenv("FLEET_DB_PASSWORD", "secret")
	t.Setenv("FLEET_LLM_MODEL", "gpt-5")

	path := writeTempConfig(t, `
llm:
  backend: mock
  model: ${FLEET_LLM_MODEL}
  workspace_base_path: /tmp/fleet-workspaces
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", cfg.LLM.Model)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "reading config file", cfgErr.Stage)
}
