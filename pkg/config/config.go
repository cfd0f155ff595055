package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/storage"
)

// envPrefix prefixes every variable read by this package.
const envPrefix = "HRAUTH_"

// minSecretLength is the shortest accepted JWT signing secret in bytes.
const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// RateLimit configuration for credential endpoints
	RateLimit RateLimitConfig

	// Maintenance configuration
	Maintenance MaintenanceConfig

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

	// CORSOrigins lists allowed browser origins; empty disables CORS.
	CORSOrigins []string
	// TrustedProxies lists proxy addresses or CIDR blocks whose
	// X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string
}

// AuthConfig holds credential, token and lockout settings.
type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	MaxFailedAttempts int
	LockoutDuration   time.Duration

	BcryptCost int

	PasswordMinLength    int
	PasswordRequireUpper bool
	PasswordRequireLower bool
	PasswordRequireDigit bool

	APIKeyHeader string
	DefaultRole  string

	// RolesFile is an optional YAML role seed applied at startup.
	RolesFile string
	// BootstrapSuperuser names an existing account promoted at startup.
	BootstrapSuperuser string
}

// RateLimitConfig throttles login and registration per client address.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
	// Distributed shares counters through redis when one is configured.
	Distributed bool
}

// MaintenanceConfig schedules background jobs.
type MaintenanceConfig struct {
	Enabled  bool
	Schedule string
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
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Maintenance:   loadMaintenanceConfig(),
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
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("CORS_ORIGINS"),
		TrustedProxies:  getEnvList("TRUSTED_PROXIES"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("STORAGE_TYPE", cfg.Type)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", cfg.StoreTimeout)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	if maxConns := getEnvInt("POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	// Redis config
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("CACHE_ENABLED", cfg.CacheEnabled)
	if size := getEnvInt("L1_CACHE_SIZE", 0); size > 0 {
		cfg.L1CacheSize = size
	}
	if ttl := getEnvDuration("PROFILE_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["profile"] = ttl
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	password := auth.DefaultPasswordPolicy()
	return AuthConfig{
		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTIssuer:            getEnv("JWT_ISSUER", "hrauth"),
		AccessTTL:            getEnvDuration("ACCESS_TOKEN_TTL", auth.DefaultAccessTTL),
		RefreshTTL:           getEnvDuration("REFRESH_TOKEN_TTL", auth.DefaultRefreshTTL),
		MaxFailedAttempts:    getEnvInt("MAX_FAILED_ATTEMPTS", auth.DefaultMaxFailedAttempts),
		LockoutDuration:      getEnvDuration("LOCKOUT_DURATION", auth.DefaultLockoutDuration),
		BcryptCost:           getEnvInt("BCRYPT_COST", bcrypt.DefaultCost),
		PasswordMinLength:    getEnvInt("PASSWORD_MIN_LENGTH", password.MinLength),
		PasswordRequireUpper: getEnvBool("PASSWORD_REQUIRE_UPPER", password.RequireUpper),
		PasswordRequireLower: getEnvBool("PASSWORD_REQUIRE_LOWER", password.RequireLower),
		PasswordRequireDigit: getEnvBool("PASSWORD_REQUIRE_DIGIT", password.RequireDigit),
		APIKeyHeader:         getEnv("API_KEY_HEADER", "X-API-Key"),
		DefaultRole:          getEnv("DEFAULT_ROLE", "user"),
		RolesFile:            getEnv("ROLES_FILE", ""),
		BootstrapSuperuser:   getEnv("BOOTSTRAP_SUPERUSER", ""),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
		Window:            getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		Distributed:       getEnvBool("RATE_LIMIT_DISTRIBUTED", true),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:  getEnvBool("MAINTENANCE_ENABLED", true),
		Schedule: getEnv("MAINTENANCE_SCHEDULE", "@every 5m"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "hrauth"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
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
	if _, err := auth.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.Burst < 0) {
		return fmt.Errorf("rate limit requires positive requests and window and a non-negative burst")
	}

	if c.Maintenance.Enabled {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule %q: %w", c.Maintenance.Schedule, err)
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
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1], got %v", r)
		}
	}

	return nil
}

// Validate checks the auth settings.
func (a AuthConfig) Validate() error {
	if len(a.JWTSecret) < minSecretLength {
		return fmt.Errorf("%sJWT_SECRET must be at least %d bytes", envPrefix, minSecretLength)
	}
	if a.AccessTTL <= 0 || a.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if a.AccessTTL >= a.RefreshTTL {
		return fmt.Errorf("access token ttl %s must be shorter than refresh token ttl %s", a.AccessTTL, a.RefreshTTL)
	}
	if a.MaxFailedAttempts <= 0 {
		return errors.New("max failed attempts must be positive")
	}
	if a.LockoutDuration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if a.BcryptCost < bcrypt.MinCost || a.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if a.PasswordMinLength <= 0 || a.PasswordMinLength > auth.MaxPasswordBytes {
		return fmt.Errorf("password minimum length must be between 1 and %d", auth.MaxPasswordBytes)
	}
	if strings.TrimSpace(a.APIKeyHeader) == "" {
		return errors.New("api key header is required")
	}
	return nil
}

// TokenConfig returns the codec settings.
func (a AuthConfig) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     []byte(a.JWTSecret),
		Issuer:     a.JWTIssuer,
		AccessTTL:  a.AccessTTL,
		RefreshTTL: a.RefreshTTL,
	}
}

// ServiceConfig returns the auth service policies.
func (c *Config) ServiceConfig() auth.ServiceConfig {
	sc := auth.DefaultServiceConfig()
	sc.Lockout = auth.LockoutPolicy{MaxAttempts: c.Auth.MaxFailedAttempts, Duration: c.Auth.LockoutDuration}
	sc.Password = auth.PasswordPolicy{
		MinLength:    c.Auth.PasswordMinLength,
		RequireUpper: c.Auth.PasswordRequireUpper,
		RequireLower: c.Auth.PasswordRequireLower,
		RequireDigit: c.Auth.PasswordRequireDigit,
	}
	sc.DefaultRole = c.Auth.DefaultRole
	sc.StoreTimeout = c.Storage.StoreTimeout
	sc.ProfileTTL = c.Storage.TTL("profile", sc.ProfileTTL)
	return sc
}

// OTelConfig returns the tracing exporter settings.
func (o ObservabilityConfig) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(envPrefix+key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
