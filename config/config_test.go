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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetYaml(t *testing.T) {
	path := writeConfig(t, `
stream_url: wss://bot.example.com/ws/actions
api_base_url: https://bot.example.com
web_addr: ":9090"
tls_domains:
  - notify.example.com
tls_cache_dir: /var/cache/certs
reconnect_delay: 5s
dismiss_completed_after: 15s
toast_max_visible: 3
`)

	cfg, err := getYaml(path)
	require.NoError(t, err)
	cfg.APIToken = "secret"
	applyDefaults(&cfg)

	assert.Equal(t, "wss://bot.example.com/ws/actions", cfg.StreamURL)
	assert.Equal(t, "https://bot.example.com", cfg.APIBaseURL)
	assert.Equal(t, ":9090", cfg.WebAddr)
	assert.Equal(t, []string{"notify.example.com"}, cfg.TLSDomains)
	assert.Equal(t, "/var/cache/certs", cfg.TLSCacheDir)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 15*time.Second, cfg.DismissCompletedAfter)
	assert.Equal(t, 3, cfg.ToastMaxVisible)
}

func TestGetYamlDefaults(t *testing.T) {
	path := writeConfig(t, `
stream_url: ws://localhost:9000/ws/actions
api_base_url: http://localhost:9000
`)

	cfg, err := getYaml(path)
	require.NoError(t, err)
	applyDefaults(&cfg)

	assert.Equal(t, defaultWebAddr, cfg.WebAddr)
	assert.Equal(t, defaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.DismissCompletedAfter)
	assert.Equal(t, 30*time.Second, cfg.DismissFailedAfter)
	assert.Equal(t, defaultMaxVisible, cfg.ToastMaxVisible)
	assert.Equal(t, defaultMaxQueued, cfg.ToastMaxQueued)
}

func TestGetYamlRejectsNegativeLimits(t *testing.T) {
	path := writeConfig(t, `
stream_url: ws://localhost:9000/ws/actions
api_base_url: http://localhost:9000
toast_max_visible: -1
`)

	_, err := getYaml(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toast_max_visible")
}

func TestGetYamlMalformed(t *testing.T) {
	path := writeConfig(t, "stream_url: [unclosed")

	_, err := getYaml(path)
	require.Error(t, err)
}

func TestGetYamlMissingFile(t *testing.T) {
	_, err := getYaml(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
