package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/appgate/pkg/cache"
	"github.com/platinummonkey/appgate/pkg/middleware"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/signature"
	"github.com/platinummonkey/appgate/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Credential cache configuration
	Cache CacheConfig

	// Application signature authentication
	Auth AuthConfig

	// Static API key authentication
	StaticKey StaticKeyConfig

	// Upstreams maps a service code to the base URL requests are proxied to
	Upstreams map[string]string

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

	// Health/metrics/admin server (separate port for k8s probes)
	HealthPort string
}

// CacheConfig holds credential cache settings
type CacheConfig struct {
	cache.Config

	// SweepSchedule is a cron spec for evicting expired entries
	SweepSchedule string
	// WarmKeys are resolved at startup
	WarmKeys []string
}

// AuthConfig holds application signature settings
type AuthConfig struct {
	Order       int
	ParamSource string // "query" or "header"

	AppKeyParam    string
	SignatureParam string
	TimestampParam string
	NonceParam     string

	AppKeyHeader    string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string

	ExcludedParams []string
	Algorithm      string

	// ReplayWindow enables timestamp and nonce checks when positive
	ReplayWindow    time.Duration
	ReplayCacheSize int

	TrustForwardedFor bool
	SkipPaths         []string

	// TagHeader, when set, carries the rejection tag on 401 responses
	TagHeader string
}

// StaticKeyConfig holds static API key settings
type StaticKeyConfig struct {
	Enabled      bool
	Order        int
	Header       string
	Keys         []string
	PathPrefixes []string
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
		Cache:         loadCacheConfig(),
		Auth:          loadAuthConfig(),
		StaticKey:     loadStaticKeyConfig(),
		Upstreams:     getEnvMap("APPGATE_UPSTREAMS"),
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
		Host:            getEnv("APPGATE_HOST", "0.0.0.0"),
		Port:            getEnv("APPGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("APPGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("APPGATE_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("APPGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("APPGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("APPGATE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("APPGATE_STORAGE_TYPE", cfg.Type)
	cfg.MemorySeedFile = getEnv("APPGATE_MEMORY_SEED_FILE", cfg.MemorySeedFile)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("APPGATE_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnvList("APPGATE_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("APPGATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("APPGATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("APPGATE_POSTGRES_TIMEOUT", cfg.PostgresTimeout)
	cfg.PostgresMaxLifetime = getEnvDuration("APPGATE_POSTGRES_MAX_LIFETIME", cfg.PostgresMaxLifetime)
	cfg.PostgresMaxIdleTime = getEnvDuration("APPGATE_POSTGRES_MAX_IDLE_TIME", cfg.PostgresMaxIdleTime)

	// Redis config
	cfg.RedisURL = getEnv("APPGATE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("APPGATE_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("APPGATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("APPGATE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("APPGATE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisTTL = getEnvDuration("APPGATE_REDIS_TTL", cfg.RedisTTL)
	cfg.RedisKeyPrefix = getEnv("APPGATE_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)

	// ConfigMap config
	cfg.ConfigMapSource = getEnv("APPGATE_CONFIGMAP_SOURCE", cfg.ConfigMapSource)
	cfg.ConfigMapPath = getEnv("APPGATE_CONFIGMAP_PATH", cfg.ConfigMapPath)
	cfg.ConfigMapNamespace = getEnv("APPGATE_CONFIGMAP_NAMESPACE", cfg.ConfigMapNamespace)
	cfg.ConfigMapName = getEnv("APPGATE_CONFIGMAP_NAME", cfg.ConfigMapName)
	cfg.ConfigMapDataKey = getEnv("APPGATE_CONFIGMAP_DATA_KEY", cfg.ConfigMapDataKey)
	cfg.ConfigMapKubeconfig = getEnv("APPGATE_CONFIGMAP_KUBECONFIG", cfg.ConfigMapKubeconfig)
	cfg.ConfigMapPollSchedule = getEnv("APPGATE_CONFIGMAP_POLL_SCHEDULE", cfg.ConfigMapPollSchedule)

	return cfg
}

// loadCacheConfig loads credential cache configuration from environment
func loadCacheConfig() CacheConfig {
	def := cache.DefaultConfig()
	return CacheConfig{
		Config: cache.Config{
			TTL:             getEnvDuration("APPGATE_CACHE_TTL", def.TTL),
			NegativeTTL:     getEnvDuration("APPGATE_CACHE_NEGATIVE_TTL", def.NegativeTTL),
			ResolveTimeout:  getEnvDuration("APPGATE_CACHE_RESOLVE_TIMEOUT", def.ResolveTimeout),
			RefreshAhead:    getEnvFloat("APPGATE_CACHE_REFRESH_AHEAD", def.RefreshAhead),
			WarmConcurrency: getEnvInt("APPGATE_CACHE_WARM_CONCURRENCY", def.WarmConcurrency),
		},
		SweepSchedule: getEnv("APPGATE_CACHE_SWEEP_SCHEDULE", "@every 1m"),
		WarmKeys:      getEnvList("APPGATE_CACHE_WARM_KEYS", nil),
	}
}

// loadAuthConfig loads signature authentication configuration from environment
func loadAuthConfig() AuthConfig {
	def := middleware.DefaultAppAuthConfig()
	return AuthConfig{
		Order:             getEnvInt("APPGATE_AUTH_ORDER", middleware.DefaultAppAuthOrder),
		ParamSource:       strings.ToLower(getEnv("APPGATE_AUTH_PARAM_SOURCE", def.ParamSource)),
		AppKeyParam:       getEnv("APPGATE_AUTH_APP_KEY_PARAM", def.AppKeyParam),
		SignatureParam:    getEnv("APPGATE_AUTH_SIGNATURE_PARAM", signature.DefaultSignatureParam),
		TimestampParam:    getEnv("APPGATE_AUTH_TIMESTAMP_PARAM", def.TimestampParam),
		NonceParam:        getEnv("APPGATE_AUTH_NONCE_PARAM", def.NonceParam),
		AppKeyHeader:      getEnv("APPGATE_AUTH_APP_KEY_HEADER", def.AppKeyHeader),
		SignatureHeader:   getEnv("APPGATE_AUTH_SIGNATURE_HEADER", def.SignatureHeader),
		TimestampHeader:   getEnv("APPGATE_AUTH_TIMESTAMP_HEADER", def.TimestampHeader),
		NonceHeader:       getEnv("APPGATE_AUTH_NONCE_HEADER", def.NonceHeader),
		ExcludedParams:    getEnvList("APPGATE_AUTH_EXCLUDED_PARAMS", nil),
		Algorithm:         strings.ToLower(getEnv("APPGATE_AUTH_ALGORITHM", string(signature.AlgorithmSHA256))),
		ReplayWindow:      getEnvDuration("APPGATE_AUTH_REPLAY_WINDOW", 0),
		ReplayCacheSize:   getEnvInt("APPGATE_AUTH_REPLAY_CACHE_SIZE", 100_000),
		TrustForwardedFor: getEnvBool("APPGATE_AUTH_TRUST_FORWARDED_FOR", false),
		SkipPaths:         getEnvList("APPGATE_AUTH_SKIP_PATHS", nil),
		TagHeader:         getEnv("APPGATE_AUTH_TAG_HEADER", ""),
	}
}

// loadStaticKeyConfig loads static API key configuration from environment
func loadStaticKeyConfig() StaticKeyConfig {
	return StaticKeyConfig{
		Enabled:      getEnvBool("APPGATE_STATIC_KEY_ENABLED", false),
		Order:        getEnvInt("APPGATE_STATIC_KEY_ORDER", middleware.DefaultStaticKeyOrder),
		Header:       getEnv("APPGATE_STATIC_KEY_HEADER", middleware.DefaultStaticKeyHeader),
		Keys:         getEnvList("APPGATE_STATIC_KEYS", nil),
		PathPrefixes: getEnvList("APPGATE_STATIC_KEY_PATH_PREFIXES", nil),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("APPGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("APPGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("APPGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("APPGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("APPGATE_OTEL_SERVICE_NAME", "appgate"),
		OTelServiceVersion: getEnv("APPGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("APPGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("APPGATE_OTEL_SAMPLE_RATIO", 1.0),
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

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Cache.Config.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// Validate auth config
	switch c.Auth.ParamSource {
	case middleware.ParamSourceQuery, middleware.ParamSourceHeader:
	default:
		return fmt.Errorf("invalid auth param source: %s (must be query or header)", c.Auth.ParamSource)
	}
	if c.Auth.AppKeyParam == "" || c.Auth.SignatureParam == "" {
		return fmt.Errorf("auth app key and signature parameter names are required")
	}
	if _, err := signature.NewVerifier(c.Auth.Verifier()); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Auth.ReplayWindow < 0 {
		return fmt.Errorf("auth replay window must not be negative")
	}

	if c.StaticKey.Enabled && len(c.StaticKey.Keys) == 0 {
		return fmt.Errorf("static key authentication is enabled but no keys are configured")
	}

	for service, raw := range c.Upstreams {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream URL for service %s: %q", service, raw)
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

// Verifier returns the signature verifier configuration
func (a AuthConfig) Verifier() signature.Config {
	return signature.Config{
		Algorithm:      signature.Algorithm(a.Algorithm),
		SignatureParam: a.SignatureParam,
		ExcludedParams: a.ExcludedParams,
	}
}

// AppAuth returns the app auth stage configuration
func (a AuthConfig) AppAuth() middleware.AppAuthConfig {
	return middleware.AppAuthConfig{
		ParamSource:       a.ParamSource,
		AppKeyParam:       a.AppKeyParam,
		TimestampParam:    a.TimestampParam,
		NonceParam:        a.NonceParam,
		AppKeyHeader:      a.AppKeyHeader,
		SignatureHeader:   a.SignatureHeader,
		TimestampHeader:   a.TimestampHeader,
		NonceHeader:       a.NonceHeader,
		TrustForwardedFor: a.TrustForwardedFor,
		SkipPaths:         a.SkipPaths,
	}
}

// Stage returns the static key stage configuration
func (s StaticKeyConfig) Stage() middleware.StaticKeyConfig {
	return middleware.StaticKeyConfig{
		Header:       s.Header,
		Keys:         s.Keys,
		PathPrefixes: s.PathPrefixes,
	}
}

// OTel returns the tracing configuration
func (o ObservabilityConfig) OTel() observability.OTelConfig {
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvList returns a comma-separated environment variable or a default.
// Blank items are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvMap parses "k1=v1,k2=v2". Items without "=" are ignored.
func getEnvMap(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range getEnvList(key, nil) {
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
