package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5252, cfg.Server.Port)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, 3600, cfg.Auth.TokenExpiry)
	assert.Equal(t, "/bin/bash", cfg.Terminal.Shell)
	assert.Equal(t, "", cfg.Terminal.User)
	assert.Equal(t, 1, cfg.Session.SnapshotInterval)
	assert.Equal(t, "systemctl", cfg.System.SystemctlCommand)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
server:
  port: 8443
terminal:
  user: admin
auth:
  enabled: true
  passwordHash: abc123
  secret: topsecret
  tokenExpiry: 600
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "admin", cfg.Terminal.User)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "abc123", cfg.Auth.PasswordHash)
	assert.Equal(t, 600, cfg.Auth.TokenExpiry)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BOARDWATCH_SERVER_PORT", "9999")
	t.Setenv("BOARDWATCH_AUTH_PASSWORD_HASH", "deadbeef")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "deadbeef", cfg.Auth.PasswordHash)
}

func TestValidate(t *testing.T) {
	t.Run("auth enabled without secret fails", func(t *testing.T) {
		dir := t.TempDir()
		content := []byte("auth:\n  enabled: true\n  passwordHash: abc\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0644))

		_, err := LoadWithPath(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth.secret")
	})

	t.Run("bad port fails", func(t *testing.T) {
		dir := t.TempDir()
		content := []byte("server:\n  port: 70000\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0644))

		_, err := LoadWithPath(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port")
	})

	t.Run("bad log level fails", func(t *testing.T) {
		dir := t.TempDir()
		content := []byte("logging:\n  level: loud\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0644))

		_, err := LoadWithPath(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})
}
