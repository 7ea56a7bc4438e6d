package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "http://localhost:8080", c.Server.PublicURL)
	assert.Equal(t, "memory", c.Cache.Kind)
	assert.Equal(t, "popup", c.Broker.Mode)
	assert.Equal(t, 500*time.Millisecond, c.Broker.PollInterval)
	assert.Zero(t, c.Broker.AwaitTimeout)
	assert.Equal(t, "http://localhost:8080", c.Broker.BackendURL)
	assert.Equal(t, 2*time.Second, c.Bridge.CloseDelay)
	assert.Equal(t, "http://localhost:8080/connections/callback", c.Backend.BridgeURL)
	assert.Equal(t, 10*time.Minute, c.Backend.PendingTTL)
	assert.Equal(t, 5*time.Minute, c.Backend.CodeTTL)
	assert.Nil(t, c.ResolvedCandidates())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: "127.0.0.1:9090"
  rate_limit:
    max: 10
broker:
  backend_url: "https://api.example.com/"
  await_timeout: 5m
  candidates:
    - name: unified
      url: "{backend}/v2/oauth/initiate"
      method: POST
  clients:
    google:
      client_id: yaml-id
`)
	t.Setenv("LINKBROKER_MODE", "REDIRECT")
	t.Setenv("LINKBROKER_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("LINKBROKER_STRICT_STATE", "true")
	t.Setenv("LINKBROKER_GOOGLE_CLIENT_ID", "env-id")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9090", c.Server.PublicURL)
	assert.Equal(t, "redirect", c.Broker.Mode)
	assert.Equal(t, 5*time.Minute, c.Broker.AwaitTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, c.Broker.AllowedOrigins)
	assert.True(t, c.Broker.StrictState)
	assert.Equal(t, "env-id", c.Broker.Clients["google"].ClientID)
	assert.Equal(t, "env-id", c.Backend.Providers["google"].ClientID)
	assert.Equal(t, "redis", c.Cache.Kind)
	assert.Equal(t, 10, c.Server.RateLimit.Max)
	assert.Equal(t, time.Minute, c.Server.RateLimit.Window)

	cands := c.ResolvedCandidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "https://api.example.com/v2/oauth/initiate", cands[0].URL)
}

func TestLoad_Validation(t *testing.T) {
	p := writeYAML(t, `
app:
  app_env: prod
broker:
  mode: tab
cache:
  kind: redis
backend:
  enabled: true
`)
	_, err := Load(p)
	require.Error(t, err)
	for _, want := range []string{"broker.mode", "cache.redis.addr", "session_secret", "secretbox_key"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
