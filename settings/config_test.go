package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webclip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
allowed_origins: ["chrome-extension://abc"]
browser:
  headless: true
  xvfb_display: ":99"
  block_resources: [fonts, media]
service:
  server_url: https://notes.example.org
timeouts:
  scraper: 5s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "https://notes.example.org", cfg.Service.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Scraper)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Renderer)
	assert.Equal(t, "webclip.db", cfg.Database)
	assert.Equal(t, "about:blank", cfg.Browser.StartURL)
	assert.Equal(t, []string{"chrome-extension://abc"}, cfg.AllowedOrigins)
	assert.Equal(t, ":99", cfg.Browser.XvfbDisplay)
	assert.Equal(t, []string{"fonts", "media"}, cfg.Browser.BlockResources)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8787", cfg.Listen)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Service)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WEBCLIP_LISTEN", "0.0.0.0:1234")
	t.Setenv("WEBCLIP_DESKTOP_PORT", "40000")
	t.Setenv("WEBCLIP_HEADLESS", "true")
	t.Setenv("WEBCLIP_XVFB_DISPLAY", ":42")
	t.Setenv("WEBCLIP_BLOCK_RESOURCES", "fonts, websocket,,")
	t.Setenv("WEBCLIP_ALLOWED_ORIGINS", "chrome-extension://a,moz-extension://b")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:1234", cfg.Listen)
	assert.Equal(t, 40000, cfg.Service.DesktopPort)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, ":42", cfg.Browser.XvfbDisplay)
	assert.Equal(t, []string{"fonts", "websocket"}, cfg.Browser.BlockResources)
	assert.Equal(t, []string{"chrome-extension://a", "moz-extension://b"}, cfg.AllowedOrigins)
}

func TestApplyEnv_Invalid(t *testing.T) {
	env := map[string]string{"WEBCLIP_DESKTOP_PORT": "70000"}
	var cfg Config
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))

	env = map[string]string{"WEBCLIP_HEADLESS": "maybe"}
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}
