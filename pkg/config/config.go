package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/fedgate/pkg/correlation"
	"github.com/platinummonkey/fedgate/pkg/federation"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/registry"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Correlation store configuration
	Correlation CorrelationConfig

	// ProvidersFile points at the JSON file describing identity providers
	// and service policies.
	ProvidersFile string

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// MaxBodyBytes bounds callback POST bodies; SAML and WS-Federation
	// responses arrive as form posts and are small.
	MaxBodyBytes int64
}

// CorrelationConfig selects and tunes the snapshot store.
type CorrelationConfig struct {
	// Type is "memory" or "redis".
	Type string

	// TTL bounds how long a login attempt may stay out at the provider.
	TTL time.Duration

	// Redis settings, used when Type is "redis".
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Correlation:   loadCorrelationConfig(),
		ProvidersFile: getEnv("FEDGATE_PROVIDERS_FILE", "providers.json"),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FEDGATE_HOST", "0.0.0.0"),
		Port:            getEnv("FEDGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FEDGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FEDGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FEDGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FEDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FEDGATE_HEALTH_PORT", "9090"),
		MaxBodyBytes:    getEnvInt64("FEDGATE_MAX_BODY_BYTES", 1<<20),
	}
}

// loadCorrelationConfig loads correlation store configuration from environment
func loadCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Type:            getEnv("FEDGATE_CORRELATION_TYPE", "memory"),
		TTL:             getEnvDuration("FEDGATE_CORRELATION_TTL", correlation.DefaultTTL),
		RedisURL:        getEnv("FEDGATE_REDIS_URL", "redis://localhost:6379"),
		RedisPassword:   getEnv("FEDGATE_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("FEDGATE_REDIS_DB", 0),
		RedisMaxRetries: getEnvInt("FEDGATE_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:   getEnvInt("FEDGATE_REDIS_POOL_SIZE", 10),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("FEDGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("FEDGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FEDGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FEDGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FEDGATE_OTEL_SERVICE_NAME", "fedgate"),
		OTelServiceVersion: getEnv("FEDGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("FEDGATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Correlation.Type {
	case "memory":
	case "redis":
		if c.Correlation.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis correlation store")
		}
	default:
		return fmt.Errorf("invalid correlation store type: %s (must be memory or redis)", c.Correlation.Type)
	}
	if c.Correlation.TTL <= 0 {
		return fmt.Errorf("correlation TTL must be positive")
	}

	if c.ProvidersFile == "" {
		return fmt.Errorf("providers file is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Providers is the on-disk shape of the provider and service-policy file.
type Providers struct {
	Providers []federation.Descriptor       `json:"providers"`
	Registry  registry.StaticRegistryConfig `json:"registry"`
}

// LoadProviders reads and validates the providers file.
func LoadProviders(path string) (*Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var p Providers
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if len(p.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s declares no identity providers", path)
	}
	for i := range p.Providers {
		if err := p.Providers[i].Validate(); err != nil {
			return nil, err
		}
	}

	return &p, nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
