package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 1816, cfg.Web.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 10*time.Second, cfg.Whatsapp.ProbeTimeout)
	assert.Equal(t, 2*time.Second, cfg.Whatsapp.ProbeTTL)
	assert.Equal(t, 64, cfg.Whatsapp.ObserverBuffer)
	assert.Equal(t, 30, cfg.Whatsapp.EventRetentionDays)
	assert.Equal(t, filepath.Join("./data", "auth"), cfg.GetAuthDir())
}

func TestLoadConfigDoesNotMutateDefaults(t *testing.T) {
	t.Setenv("WAHUB_WEB_PORT", "9000")
	_, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 1816, DefaultAppConfig.Web.Port)
}

func TestLoadConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wahub.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
system:
  workdir: /var/lib/wahub
web:
  port: 8080
  secret: s3cret
whatsapp:
  auth_dir: /srv/auth
  probe_timeout: 3s
  print_qr: true
  webhook_url: http://hooks.local/wa
`), 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wahub", cfg.System.Workdir)
	assert.Equal(t, 8080, cfg.Web.Port)
	assert.Equal(t, "s3cret", cfg.Web.Secret)
	assert.Equal(t, "/srv/auth", cfg.GetAuthDir())
	assert.Equal(t, 3*time.Second, cfg.Whatsapp.ProbeTimeout)
	assert.True(t, cfg.Whatsapp.PrintQR)
	assert.Equal(t, "http://hooks.local/wa", cfg.Whatsapp.WebhookURL)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Web.Host)
	assert.Equal(t, 2*time.Second, cfg.Whatsapp.ProbeTTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAHUB_WEB_PORT", "9001")
	t.Setenv("WAHUB_WHATSAPP_AUTH_DIR", "/tmp/auth")
	t.Setenv("WAHUB_WHATSAPP_PROBE_TTL", "500ms")
	t.Setenv("WAHUB_WHATSAPP_PRINT_QR", "true")
	t.Setenv("WAHUB_DB_TYPE", "postgres")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Web.Port)
	assert.Equal(t, "/tmp/auth", cfg.GetAuthDir())
	assert.Equal(t, 500*time.Millisecond, cfg.Whatsapp.ProbeTTL)
	assert.True(t, cfg.Whatsapp.PrintQR)
	assert.Equal(t, "postgres", cfg.Database.Type)
}

func TestInvalidEnvOverride(t *testing.T) {
	t.Setenv("WAHUB_WEB_PORT", "eighty")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAHUB_WEB_PORT")
}

func TestInitDirs(t *testing.T) {
	cfg := *DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	require.NoError(t, cfg.InitDirs())
	assert.DirExists(t, cfg.GetLogDir())
	assert.DirExists(t, cfg.GetAuthDir())
}
