package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ballotbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, filepath.Join(".ballotbox", "exports"), cfg.ExportDir())
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/ballotbox
storage_backend: sqlite
listen_addr: "127.0.0.1:9000"
password_scheme: sha256
provision_default_admin: false
export_keep: 2
min_voter_age: 16
shutdown_timeout: 3s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := Default()
	want.DataDir = "/var/lib/ballotbox"
	want.StorageBackend = "sqlite"
	want.ListenAddr = "127.0.0.1:9000"
	want.PasswordScheme = "sha256"
	want.ProvisionDefaultAdmin = false
	want.ExportKeep = 2
	want.MinVoterAge = 16
	want.ShutdownTimeout = 3 * time.Second
	assert.Equal(t, want, cfg)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9000\"\nexport_keep: 2\n")
	t.Setenv("BALLOTBOX_LISTEN_ADDR", ":7000")
	t.Setenv("BALLOTBOX_PROVISION_DEFAULT_ADMIN", "false")
	t.Setenv("BALLOTBOX_DATABASE_URL", "postgres://localhost/ballots")
	t.Setenv("BALLOTBOX_STORAGE_BACKEND", "postgres")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.ExportKeep)
	assert.False(t, cfg.ProvisionDefaultAdmin)
	assert.Equal(t, "postgres", cfg.StorageBackend)
	assert.Equal(t, "postgres://localhost/ballots", cfg.DatabaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{name: "backend", edit: func(c *Config) { c.StorageBackend = "etcd" }},
		{name: "postgres without url", edit: func(c *Config) { c.StorageBackend = "postgres" }},
		{name: "scheme", edit: func(c *Config) { c.PasswordScheme = "md5" }},
		{name: "empty data dir", edit: func(c *Config) { c.DataDir = "" }},
		{name: "age", edit: func(c *Config) { c.MinVoterAge = 0 }},
		{name: "export keep", edit: func(c *Config) { c.ExportKeep = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cfg := Default()
	assert.Same(t, cfg, FromContext(WithContext(context.Background(), cfg)))
}
