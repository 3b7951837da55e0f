package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

const envPrefix = "GATEHOUSE_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      postgres.ConnectionConfig
	Redis         RedisConfig
	Token         TokenConfig
	RateLimit     RateLimitConfig
	Providers     ProvidersConfig
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
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string

	// Marks session cookies Secure; disable only for local HTTP
	SecureCookies bool
}

// RedisConfig holds the optional Redis settings. An empty URL disables the
// liveness cache and the distributed rate limiter.
type RedisConfig struct {
	postgres.RedisConfig
	LivenessTTL time.Duration
}

// Enabled reports whether Redis is configured
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// TokenConfig holds token signing and lifecycle settings
type TokenConfig struct {
	Issuer        string
	Secret        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SweepSchedule string
	BcryptCost    int
	UserCacheSize int
	UserCacheTTL  time.Duration
}

// Manager returns the signing configuration for auth.NewTokenManager
func (c TokenConfig) Manager() auth.TokenConfig {
	return auth.TokenConfig{
		Issuer:     c.Issuer,
		SigningKey: []byte(c.Secret),
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	}
}

// RateLimitConfig throttles the credential endpoints per client
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// ProviderSettings enables one OAuth provider
type ProviderSettings struct {
	Enabled            bool `yaml:"enabled"`
	sso.ProviderConfig `yaml:",inline"`
}

// ProvidersConfig lists the external identity providers
type ProvidersConfig struct {
	Google    ProviderSettings `yaml:"google"`
	Microsoft ProviderSettings `yaml:"microsoft"`
	Facebook  ProviderSettings `yaml:"facebook"`
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

// providersFile is the layout of GATEHOUSE_PROVIDERS_FILE
type providersFile struct {
	Providers ProvidersConfig `yaml:"providers"`
}

// LoadConfig loads configuration from the environment, filling unset
// variables from a .env file
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(getEnv(envPrefix+"ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Token:         loadTokenConfig(),
		RateLimit:     loadRateLimitConfig(),
		Providers:     loadProvidersConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv(envPrefix+"PROVIDERS_FILE", ""); path != "" {
		if err := cfg.loadProvidersFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv reads path without overriding variables that are already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv(envPrefix+"HOST", "0.0.0.0"),
		Port:            getEnv(envPrefix+"PORT", "8080"),
		ReadTimeout:     getEnvDuration(envPrefix+"READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration(envPrefix+"WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration(envPrefix+"IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration(envPrefix+"SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64(envPrefix+"MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv(envPrefix+"HEALTH_PORT", "9090"),
		SecureCookies:   getEnvBool(envPrefix+"SECURE_COOKIES", true),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         getEnv(envPrefix+"DATABASE_URL", ""),
		MaxConns:    getEnvInt(envPrefix+"DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt(envPrefix+"DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration(envPrefix+"DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration(envPrefix+"DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration(envPrefix+"DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		RedisConfig: postgres.RedisConfig{
			URL:        getEnv(envPrefix+"REDIS_URL", ""),
			Password:   getEnv(envPrefix+"REDIS_PASSWORD", ""),
			DB:         getEnvInt(envPrefix+"REDIS_DB", 0),
			PoolSize:   getEnvInt(envPrefix+"REDIS_POOL_SIZE", 10),
			MaxRetries: getEnvInt(envPrefix+"REDIS_MAX_RETRIES", 3),
		},
		LivenessTTL: getEnvDuration(envPrefix+"REDIS_LIVENESS_TTL", 5*time.Minute),
	}
}

// loadTokenConfig loads token configuration from environment
func loadTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:        getEnv(envPrefix+"JWT_ISSUER", "gatehouse"),
		Secret:        getEnv(envPrefix+"JWT_SECRET", ""),
		AccessTTL:     getEnvDuration(envPrefix+"ACCESS_TOKEN_TTL", time.Hour),
		RefreshTTL:    getEnvDuration(envPrefix+"REFRESH_TOKEN_TTL", 2*time.Hour),
		SweepSchedule: getEnv(envPrefix+"TOKEN_SWEEP_SCHEDULE", "*/15 * * * *"),
		BcryptCost:    getEnvInt(envPrefix+"BCRYPT_COST", auth.DefaultBcryptCost),
		UserCacheSize: getEnvInt(envPrefix+"USER_CACHE_SIZE", 1024),
		UserCacheTTL:  getEnvDuration(envPrefix+"USER_CACHE_TTL", time.Minute),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool(envPrefix+"RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt(envPrefix+"RATE_LIMIT_PER_MINUTE", 20),
		Burst:             getEnvInt(envPrefix+"RATE_LIMIT_BURST", 5),
	}
}

// loadProvidersConfig reads GATEHOUSE_<PROVIDER>_* for each provider
func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Google:    loadProviderSettings("GOOGLE"),
		Microsoft: loadProviderSettings("MICROSOFT"),
		Facebook:  loadProviderSettings("FACEBOOK"),
	}
}

func loadProviderSettings(name string) ProviderSettings {
	prefix := envPrefix + name + "_"
	settings := ProviderSettings{
		Enabled: getEnvBool(prefix+"ENABLED", false),
		ProviderConfig: sso.ProviderConfig{
			ClientID:     getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
			RedirectURL:  getEnv(prefix+"REDIRECT_URL", ""),
			Tenant:       getEnv(prefix+"TENANT", ""),
		},
	}
	if scopes := getEnv(prefix+"SCOPES", ""); scopes != "" {
		settings.Scopes = strings.Fields(strings.ReplaceAll(scopes, ",", " "))
	}
	return settings
}

// loadProvidersFile replaces the environment provider settings with the
// providers named in a YAML file
func (c *Config) loadProvidersFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse providers file %s: %w", path, err)
	}

	overlay := func(dst *ProviderSettings, src ProviderSettings) {
		if src.Enabled || src.ClientID != "" {
			*dst = src
		}
	}
	overlay(&c.Providers.Google, file.Providers.Google)
	overlay(&c.Providers.Microsoft, file.Providers.Microsoft)
	overlay(&c.Providers.Facebook, file.Providers.Facebook)
	return nil
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv(envPrefix+"LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool(envPrefix+"METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool(envPrefix+"OTEL_ENABLED", false),
		OTelEndpoint:       getEnv(envPrefix+"OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv(envPrefix+"OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv(envPrefix+"OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool(envPrefix+"OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("%sDATABASE_URL is required", envPrefix)
	}

	// Validate token config
	if c.Token.Secret == "" {
		return fmt.Errorf("%sJWT_SECRET is required", envPrefix)
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Token.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Token.SweepSchedule); err != nil {
			return fmt.Errorf("invalid token sweep schedule %q: %w", c.Token.SweepSchedule, err)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit must allow at least one request per minute")
	}

	// Google and Microsoft need a full OAuth client; Facebook is not wired to a flow
	for name, p := range map[string]ProviderSettings{
		"google":    c.Providers.Google,
		"microsoft": c.Providers.Microsoft,
	} {
		if !p.Enabled {
			continue
		}
		if p.ClientID == "" || p.ClientSecret == "" {
			return fmt.Errorf("%s provider requires a client id and client secret", name)
		}
		if p.RedirectURL == "" {
			return fmt.Errorf("%s provider requires a redirect URL", name)
		}
	}

	// Validate OpenTelemetry config
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
