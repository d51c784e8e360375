// Package config loads gateway configuration from environment variables.
//
// # Overview
//
// Every setting has a default; LoadConfig reads APPGATE_* variables over
// those defaults and validates the result.
//
// Server settings:
//
//	APPGATE_HOST="0.0.0.0"
//	APPGATE_PORT="8080"
//	APPGATE_HEALTH_PORT="9090"  # health, metrics and cache admin
//
// Storage settings:
//
//	APPGATE_STORAGE_TYPE="postgres"  # memory, postgres, configmap
//	APPGATE_POSTGRES_URL="postgres://localhost/appgate"
//	APPGATE_POSTGRES_REPLICA_URLS="postgres://replica1/appgate,postgres://replica2/appgate"
//	APPGATE_REDIS_URL="redis://localhost:6379"  # optional shared cache tier
//	APPGATE_CONFIGMAP_SOURCE="kube"  # file, kube
//
// Cache settings:
//
//	APPGATE_CACHE_TTL="5m"
//	APPGATE_CACHE_NEGATIVE_TTL="30s"
//	APPGATE_CACHE_REFRESH_AHEAD="0.8"
//
// Authentication settings:
//
//	APPGATE_AUTH_PARAM_SOURCE="query"  # query, header
//	APPGATE_AUTH_ALGORITHM="sha256"    # sha256, sha512, hmac-sha256
//	APPGATE_AUTH_REPLAY_WINDOW="5m"    # 0 disables timestamp and nonce checks
//	APPGATE_STATIC_KEY_ENABLED="true"
//	APPGATE_STATIC_KEYS="key1,key2"
//
// Routing:
//
//	APPGATE_UPSTREAMS="orders=http://orders:8080,billing=http://billing:8080"
//
// Observability settings:
//
//	APPGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	APPGATE_OTEL_ENABLED="true"
//	APPGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/cache: Uses cache configuration
//   - pkg/middleware: Uses authentication configuration
package config
