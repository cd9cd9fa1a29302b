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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:8010", cfg.Router.Listen)
	assert.Equal(t, "http://localhost:8010", cfg.Router.URL)
	assert.Equal(t, 30*time.Second, cfg.Router.CallTimeout)
	assert.Equal(t, "0.0.0.0:8011", cfg.Data.Listen)
	assert.Equal(t, "0.0.0.0:8012", cfg.Support.Listen)
	assert.Equal(t, "0.0.0.0:8013", cfg.Billing.Listen)
	assert.Equal(t, "http://localhost:8000", cfg.ToolServer.URL)
	assert.Equal(t, "./deskmesh.sqlite", cfg.ToolServer.DBPath)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
router:
  listen: 127.0.0.1:9010
  call_timeout: 5s
tool_server:
  db_path: /tmp/test.sqlite
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9010", cfg.Router.Listen)
	assert.Equal(t, 5*time.Second, cfg.Router.CallTimeout)
	assert.Equal(t, "/tmp/test.sqlite", cfg.ToolServer.DBPath)

	// Untouched sections keep their defaults.
	assert.Equal(t, "http://localhost:8010", cfg.Router.URL)
	assert.Equal(t, "0.0.0.0:8011", cfg.Data.Listen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DESKMESH_LOG_LEVEL", "warn")
	t.Setenv("DESKMESH_ROUTER_URL", "http://router.internal:8010")
	t.Setenv("DESKMESH_TOOL_SERVER_URL", "http://tools.internal:8000")
	t.Setenv("DESKMESH_TOOL_SERVER_DB_PATH", "/var/lib/deskmesh/support.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http://router.internal:8010", cfg.Router.URL)
	assert.Equal(t, "http://tools.internal:8000", cfg.ToolServer.URL)
	assert.Equal(t, "/var/lib/deskmesh/support.db", cfg.ToolServer.DBPath)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	t.Setenv("DESKMESH_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvKeyMapper(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DESKMESH_LOG_LEVEL", "log_level"},
		{"DESKMESH_ROUTER_URL", "router.url"},
		{"DESKMESH_ROUTER_CALL_TIMEOUT", "router.call_timeout"},
		{"DESKMESH_TOOL_SERVER_URL", "tool_server.url"},
		{"DESKMESH_TOOL_SERVER_DB_PATH", "tool_server.db_path"},
		{"DESKMESH_BILLING_LISTEN", "billing.listen"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, envKeyMapper(tt.in), tt.in)
	}
}
