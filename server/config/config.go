package config

import (
	"context"
	"time"

	envconfig "github.com/sethvargo/go-envconfig"
)

// Config holds the server configuration, populated from AGENTVAULT_ prefixed
// environment variables.
type Config struct {
	// AgentName is the display name advertised on the agent card
	AgentName string `env:"AGENT_NAME,default=agentvault-agent"`

	// AgentDescription is the description advertised on the agent card
	AgentDescription string `env:"AGENT_DESCRIPTION,default=AgentVault A2A agent"`

	// AgentVersion is the agent software version advertised on the agent card
	AgentVersion string `env:"AGENT_VERSION,default=0.1.0"`

	// AgentURL is the externally reachable A2A endpoint URL
	AgentURL string `env:"AGENT_URL"`

	// AgentCardFilePath optionally points at a card document to serve verbatim
	AgentCardFilePath string `env:"AGENT_CARD_FILE_PATH"`

	// Debug enables debug logging and gin debug mode
	Debug bool `env:"DEBUG,default=false"`

	ServerConfig        ServerConfig        `env:",prefix=SERVER_"`
	AuthConfig          AuthConfig          `env:",prefix=AUTH_"`
	StorageConfig       StorageConfig       `env:",prefix=STORAGE_"`
	ArtifactsConfig     ArtifactsConfig     `env:",prefix=ARTIFACTS_"`
	TelemetryConfig     TelemetryConfig     `env:",prefix=TELEMETRY_"`
	TaskRetentionConfig TaskRetentionConfig `env:",prefix=TASK_RETENTION_"`
	StreamingConfig     StreamingConfig     `env:",prefix=STREAMING_"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Host        string        `env:"HOST,default=0.0.0.0"`
	Port        string        `env:"PORT,default=8080"`
	ReadTimeout time.Duration `env:"READ_TIMEOUT,default=120s"`

	// No write timeout: it would cut long-lived SSE responses.
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=120s"`
	DisableHealthcheckLog bool          `env:"DISABLE_HEALTHCHECK_LOG,default=true"`
	TLSConfig             TLSConfig     `env:",prefix=TLS_"`
}

// TLSConfig holds the optional TLS listener configuration
type TLSConfig struct {
	Enable   bool   `env:"ENABLE,default=false"`
	CertPath string `env:"CERT_PATH"`
	KeyPath  string `env:"KEY_PATH"`
}

// AuthConfig holds the inbound authentication configuration. When Enable is
// false all requests are accepted.
type AuthConfig struct {
	Enable bool `env:"ENABLE,default=false"`

	// IssuerURL enables OIDC bearer token validation when set
	IssuerURL string `env:"ISSUER_URL"`

	// ClientID is the expected audience of validated bearer tokens
	ClientID string `env:"CLIENT_ID"`

	// APIKeys is the set of accepted X-Api-Key values for the apiKey scheme
	APIKeys []string `env:"API_KEYS"`
}

// StorageConfig holds the task repository configuration
type StorageConfig struct {
	// Provider selects the repository backend: memory or redis
	Provider string `env:"PROVIDER,default=memory"`

	// URL is the backend connection string, e.g. redis://localhost:6379/0
	URL string `env:"URL"`
}

// ArtifactsConfig holds the artifact storage configuration
type ArtifactsConfig struct {
	// Provider selects the artifact backend: none, filesystem, or minio
	Provider string `env:"PROVIDER,default=none"`

	// InlineThreshold is the maximum inline artifact size in bytes before
	// content is offloaded to the artifact backend
	InlineThreshold int64 `env:"INLINE_THRESHOLD,default=65536"`

	// BasePath is the root directory of the filesystem backend
	BasePath string `env:"BASE_PATH,default=./artifacts"`

	// BaseURL is the public URL prefix for offloaded filesystem artifacts
	BaseURL string `env:"BASE_URL"`

	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET,default=agentvault-artifacts"`
	UseSSL    bool   `env:"USE_SSL,default=true"`
}

// TelemetryConfig holds the observability configuration
type TelemetryConfig struct {
	Enable  bool          `env:"ENABLE,default=false"`
	Metrics MetricsConfig `env:",prefix=METRICS_"`
}

// MetricsConfig holds the Prometheus metrics listener configuration
type MetricsConfig struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port string `env:"PORT,default=9090"`
}

// TaskRetentionConfig controls background cleanup of finished tasks
type TaskRetentionConfig struct {
	Enable bool `env:"ENABLE,default=true"`

	// MaxAge is how long terminal tasks are retained
	MaxAge time.Duration `env:"MAX_AGE,default=24h"`

	// SweepInterval is how often the cleanup loop runs
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=5m"`
}

// StreamingConfig controls SSE stream behavior
type StreamingConfig struct {
	// KeepaliveInterval is the gap between SSE keepalive comments
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL,default=15s"`

	// ListenerQueueSize bounds each listener's event queue; the oldest
	// event is dropped when a slow consumer fills it
	ListenerQueueSize int `env:"LISTENER_QUEUE_SIZE,default=16"`
}

// Load populates the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWithLookuper(ctx, envconfig.PrefixLookuper("AGENTVAULT_", envconfig.OsLookuper()))
}

// LoadWithLookuper populates the configuration from the given lookuper,
// mainly for tests.
func LoadWithLookuper(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewWithDefaults returns a config with every default applied and the given
// overrides on top. Overrides that are zero-valued leave the default alone.
func NewWithDefaults(ctx context.Context, overrides *Config) (*Config, error) {
	cfg, err := LoadWithLookuper(ctx, emptyLookuper{})
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		applyOverrides(cfg, overrides)
	}
	return cfg, nil
}

type emptyLookuper struct{}

func (emptyLookuper) Lookup(string) (string, bool) { return "", false }

func applyOverrides(cfg, overrides *Config) {
	if overrides.AgentName != "" {
		cfg.AgentName = overrides.AgentName
	}
	if overrides.AgentDescription != "" {
		cfg.AgentDescription = overrides.AgentDescription
	}
	if overrides.AgentVersion != "" {
		cfg.AgentVersion = overrides.AgentVersion
	}
	if overrides.AgentURL != "" {
		cfg.AgentURL = overrides.AgentURL
	}
	if overrides.AgentCardFilePath != "" {
		cfg.AgentCardFilePath = overrides.AgentCardFilePath
	}
	if overrides.Debug {
		cfg.Debug = true
	}
	if overrides.ServerConfig.Port != "" {
		cfg.ServerConfig.Port = overrides.ServerConfig.Port
	}
	if overrides.ServerConfig.Host != "" {
		cfg.ServerConfig.Host = overrides.ServerConfig.Host
	}
	if overrides.AuthConfig.Enable {
		cfg.AuthConfig = overrides.AuthConfig
	}
	if overrides.StorageConfig.Provider != "" {
		cfg.StorageConfig = overrides.StorageConfig
	}
	if overrides.ArtifactsConfig.Provider != "" {
		cfg.ArtifactsConfig = overrides.ArtifactsConfig
	}
	if overrides.TelemetryConfig.Enable {
		cfg.TelemetryConfig = overrides.TelemetryConfig
	}
	if overrides.StreamingConfig.KeepaliveInterval > 0 {
		cfg.StreamingConfig.KeepaliveInterval = overrides.StreamingConfig.KeepaliveInterval
	}
	if overrides.StreamingConfig.ListenerQueueSize > 0 {
		cfg.StreamingConfig.ListenerQueueSize = overrides.StreamingConfig.ListenerQueueSize
	}
	if overrides.TaskRetentionConfig.MaxAge > 0 {
		cfg.TaskRetentionConfig.MaxAge = overrides.TaskRetentionConfig.MaxAge
	}
	if overrides.TaskRetentionConfig.SweepInterval > 0 {
		cfg.TaskRetentionConfig.SweepInterval = overrides.TaskRetentionConfig.SweepInterval
	}
}
