package config_test

import (
	"context"
	"testing"
	"time"

	envconfig "github.com/sethvargo/go-envconfig"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	config "github.com/agentvault/agentvault-go/server/config"
)

func TestLoadWithLookuper_Defaults(t *testing.T) {
	cfg, err := config.LoadWithLookuper(context.Background(), envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.Equal(t, "agentvault-agent", cfg.AgentName)
	assert.Equal(t, "8080", cfg.ServerConfig.Port)
	assert.Equal(t, "memory", cfg.StorageConfig.Provider)
	assert.Equal(t, 15*time.Second, cfg.StreamingConfig.KeepaliveInterval)
	assert.Equal(t, 16, cfg.StreamingConfig.ListenerQueueSize)
	assert.Equal(t, 24*time.Hour, cfg.TaskRetentionConfig.MaxAge)
	assert.False(t, cfg.AuthConfig.Enable)
}

func TestLoadWithLookuper_Overrides(t *testing.T) {
	lookuper := envconfig.MapLookuper(map[string]string{
		"AGENT_NAME":                     "weather-agent",
		"AGENT_URL":                      "https://weather.example.com/a2a",
		"SERVER_PORT":                    "9000",
		"STORAGE_PROVIDER":               "redis",
		"STORAGE_URL":                    "redis://localhost:6379/0",
		"STREAMING_KEEPALIVE_INTERVAL":   "5s",
		"STREAMING_LISTENER_QUEUE_SIZE":  "64",
		"AUTH_ENABLE":                    "true",
		"AUTH_API_KEYS":                  "abc,def",
		"ARTIFACTS_PROVIDER":             "minio",
		"ARTIFACTS_BUCKET":               "out",
		"TASK_RETENTION_MAX_AGE":         "1h",
		"TELEMETRY_ENABLE":               "true",
		"TELEMETRY_METRICS_PORT":         "9191",
		"SERVER_TLS_ENABLE":              "true",
		"SERVER_TLS_CERT_PATH":           "/etc/tls/cert.pem",
		"SERVER_DISABLE_HEALTHCHECK_LOG": "false",
	})

	cfg, err := config.LoadWithLookuper(context.Background(), lookuper)
	require.NoError(t, err)

	assert.Equal(t, "weather-agent", cfg.AgentName)
	assert.Equal(t, "https://weather.example.com/a2a", cfg.AgentURL)
	assert.Equal(t, "9000", cfg.ServerConfig.Port)
	assert.Equal(t, "redis", cfg.StorageConfig.Provider)
	assert.Equal(t, "redis://localhost:6379/0", cfg.StorageConfig.URL)
	assert.Equal(t, 5*time.Second, cfg.StreamingConfig.KeepaliveInterval)
	assert.Equal(t, 64, cfg.StreamingConfig.ListenerQueueSize)
	assert.True(t, cfg.AuthConfig.Enable)
	assert.Equal(t, []string{"abc", "def"}, cfg.AuthConfig.APIKeys)
	assert.Equal(t, "minio", cfg.ArtifactsConfig.Provider)
	assert.Equal(t, "out", cfg.ArtifactsConfig.Bucket)
	assert.Equal(t, time.Hour, cfg.TaskRetentionConfig.MaxAge)
	assert.True(t, cfg.TelemetryConfig.Enable)
	assert.Equal(t, "9191", cfg.TelemetryConfig.Metrics.Port)
	assert.True(t, cfg.ServerConfig.TLSConfig.Enable)
	assert.False(t, cfg.ServerConfig.DisableHealthcheckLog)
}

func TestNewWithDefaults(t *testing.T) {
	cfg, err := config.NewWithDefaults(context.Background(), &config.Config{
		AgentName: "custom-agent",
		ServerConfig: config.ServerConfig{
			Port: "7777",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "custom-agent", cfg.AgentName)
	assert.Equal(t, "7777", cfg.ServerConfig.Port)
	// Untouched fields keep their defaults.
	assert.Equal(t, "memory", cfg.StorageConfig.Provider)
	assert.Equal(t, 15*time.Second, cfg.StreamingConfig.KeepaliveInterval)
}
