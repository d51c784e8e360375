package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// Backend is an access policy store owned by the gateway process
type Backend interface {
	policy.Store

	// HealthCheck reports whether the backend can currently serve resolves
	HealthCheck(ctx context.Context) error

	// Close releases connections and watchers
	Close() error
}

// Backend types
const (
	TypeMemory    = "memory"
	TypePostgres  = "postgres"
	TypeConfigMap = "configmap"
)

// ConfigMap document sources
const (
	SourceFile = "file"
	SourceKube = "kube"
)

// Config for storage backend
type Config struct {
	Type string // "memory", "postgres", "configmap"

	// Memory config
	MemorySeedFile string // optional YAML policy document loaded at startup

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// Redis shared cache config. Empty URL disables the shared tier.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisTTL        time.Duration
	RedisKeyPrefix  string

	// ConfigMap config
	ConfigMapSource       string // "file" or "kube"
	ConfigMapPath         string // mounted document for the file source
	ConfigMapNamespace    string
	ConfigMapName         string
	ConfigMapDataKey      string
	ConfigMapKubeconfig   string // empty means in-cluster
	ConfigMapPollSchedule string // cron spec for the kube source
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                  TypeMemory,
		PostgresMaxConns:      20,
		PostgresMinConns:      2,
		PostgresTimeout:       10 * time.Second,
		PostgresMaxLifetime:   30 * time.Minute,
		PostgresMaxIdleTime:   5 * time.Minute,
		RedisDB:               0,
		RedisMaxRetries:       3,
		RedisPoolSize:         10,
		RedisTTL:              5 * time.Minute,
		RedisKeyPrefix:        "appgate:policy:",
		ConfigMapSource:       SourceFile,
		ConfigMapNamespace:    "default",
		ConfigMapName:         "appgate-applications",
		ConfigMapDataKey:      "applications.yaml",
		ConfigMapPollSchedule: "@every 30s",
	}
}

// SharedCacheEnabled reports whether a redis tier is configured
func (c Config) SharedCacheEnabled() bool {
	return c.RedisURL != ""
}

// Validate checks that the selected backend is fully configured
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres storage requires a postgres URL")
		}
		if c.PostgresMaxConns <= 0 {
			return fmt.Errorf("postgres max connections must be positive")
		}
	case TypeConfigMap:
		switch c.ConfigMapSource {
		case SourceFile:
			if c.ConfigMapPath == "" {
				return fmt.Errorf("configmap file source requires a path")
			}
		case SourceKube:
			if c.ConfigMapNamespace == "" || c.ConfigMapName == "" {
				return fmt.Errorf("configmap kube source requires a namespace and name")
			}
		default:
			return fmt.Errorf("unknown configmap source %q", c.ConfigMapSource)
		}
		if c.ConfigMapDataKey == "" {
			return fmt.Errorf("configmap data key is required")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
	if c.SharedCacheEnabled() && c.RedisTTL <= 0 {
		return fmt.Errorf("redis TTL must be positive")
	}
	return nil
}
