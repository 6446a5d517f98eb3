package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fedgate/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "memory", cfg.Correlation.Type)
	assert.Equal(t, "providers.json", cfg.ProvidersFile)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("FEDGATE_PORT", "9000")
	t.Setenv("FEDGATE_HEALTH_PORT", "9001")
	t.Setenv("FEDGATE_CORRELATION_TYPE", "redis")
	t.Setenv("FEDGATE_CORRELATION_TTL", "2m")
	t.Setenv("FEDGATE_REDIS_URL", "redis://cache.internal:6379")
	t.Setenv("FEDGATE_REDIS_DB", "3")
	t.Setenv("FEDGATE_PROVIDERS_FILE", "/etc/fedgate/providers.json")
	t.Setenv("FEDGATE_LOG_LEVEL", "debug")
	t.Setenv("FEDGATE_OTEL_ENABLED", "true")
	t.Setenv("FEDGATE_OTEL_ENDPOINT", "otel.internal:4317")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "9001", cfg.Server.HealthPort)
	assert.Equal(t, "redis", cfg.Correlation.Type)
	assert.Equal(t, 2*time.Minute, cfg.Correlation.TTL)
	assert.Equal(t, "redis://cache.internal:6379", cfg.Correlation.RedisURL)
	assert.Equal(t, 3, cfg.Correlation.RedisDB)
	assert.Equal(t, "/etc/fedgate/providers.json", cfg.ProvidersFile)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, "otel.internal:4317", cfg.Observability.OTelEndpoint)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "8080", HealthPort: "9090"},
			Correlation: CorrelationConfig{
				Type: "memory",
				TTL:  time.Minute,
			},
			ProvidersFile: "providers.json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "bad correlation type",
			mutate:  func(c *Config) { c.Correlation.Type = "memcached" },
			wantErr: "invalid correlation store type",
		},
		{
			name: "redis without URL",
			mutate: func(c *Config) {
				c.Correlation.Type = "redis"
				c.Correlation.RedisURL = ""
			},
			wantErr: "redis URL is required",
		},
		{
			name:    "zero TTL",
			mutate:  func(c *Config) { c.Correlation.TTL = 0 },
			wantErr: "TTL must be positive",
		},
		{
			name:    "missing providers file",
			mutate:  func(c *Config) { c.ProvidersFile = "" },
			wantErr: "providers file is required",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "fedgate"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const testProvidersJSON = `{
  "providers": [
    {
      "name": "github",
      "kind": "oauth2",
      "endpoint": "https://github.example.com/login/oauth/authorize",
      "relying_party_id": "fedgate-client",
      "callback_url": "https://fedgate.example.com/login",
      "client_id": "fedgate-client",
      "client_secret": "secret",
      "token_url": "https://github.example.com/login/oauth/access_token",
      "user_info_url": "https://github.example.com/api/user"
    }
  ],
  "registry": {
    "allow_unregistered": true,
    "denied_services": ["https://blocked.example.com"]
  }
}`

func TestLoadProviders(t *testing.T) {
	path := writeProvidersFile(t, testProvidersJSON)

	p, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, p.Providers, 1)
	assert.Equal(t, "github", p.Providers[0].Name)
	assert.Equal(t, "secret", p.Providers[0].ClientSecret)
	assert.True(t, p.Registry.AllowUnregistered)
	assert.Equal(t, []string{"https://blocked.example.com"}, p.Registry.DeniedServices)
}

func TestLoadProvidersMissingFile(t *testing.T) {
	_, err := LoadProviders(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read providers file")
}

func TestLoadProvidersBadJSON(t *testing.T) {
	path := writeProvidersFile(t, "{not json")
	_, err := LoadProviders(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse providers file")
}

func TestLoadProvidersEmpty(t *testing.T) {
	path := writeProvidersFile(t, `{"providers": []}`)
	_, err := LoadProviders(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares no identity providers")
}

func TestLoadProvidersInvalidDescriptor(t *testing.T) {
	path := writeProvidersFile(t, `{"providers": [{"name": "broken", "kind": "wsfed"}]}`)
	_, err := LoadProviders(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("garbage"))
}
