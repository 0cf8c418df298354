package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Stats.PollInterval)
	assert.Equal(t, 3, cfg.Quality.GoodMaxLossPercent)
	assert.Equal(t, 15, cfg.Quality.BadMaxLossPercent)
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "api address must not be empty",
			mutate: func(c *Config) { c.API.Address = "" },
		},
		{
			name:   "session base url must be http",
			mutate: func(c *Config) { c.Session.BaseURL = "ws://meet.example.com" },
		},
		{
			name:   "signal url must be websocket",
			mutate: func(c *Config) { c.Signal.URL = "https://meet.example.com/ws" },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval },
		},
		{
			name:   "poll interval must be > 0",
			mutate: func(c *Config) { c.Stats.PollInterval = 0 },
		},
		{
			name:   "fetch timeout must not exceed poll interval",
			mutate: func(c *Config) { c.Stats.FetchTimeout = c.Stats.PollInterval + time.Second },
		},
		{
			name: "bad threshold must not be below good threshold",
			mutate: func(c *Config) {
				c.Quality.GoodMaxLossPercent = 10
				c.Quality.BadMaxLossPercent = 5
			},
		},
		{
			name: "redis channel required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Channel = ""
			},
		},
		{
			name: "jwt secret required when auth enabled",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.JWTSecret = ""
			},
		},
		{
			name: "rate limit burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Burst = 0
			},
		},
		{
			name: "tracing sample rate within range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.API.Address)
}

func TestLoad_ReadsYAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
session:
  base_url: "https://meet.example.com"
  session_id: "room-42"
stats:
  poll_interval: 5s
  send_transport_id: "send-1"
  recv_transport_id: "recv-1"
quality:
  good_max_loss_percent: 2
  bad_max_loss_percent: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("MEETCORE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com", cfg.Session.BaseURL)
	assert.Equal(t, "room-42", cfg.Session.SessionID)
	assert.Equal(t, 5*time.Second, cfg.Stats.PollInterval)
	assert.Equal(t, "send-1", cfg.Stats.SendTransportID)
	assert.Equal(t, 2, cfg.Quality.GoodMaxLossPercent)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Stats.FetchTimeout)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
