// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the gateway must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/appgate/pkg/contextkeys"
//	ctx = contextkeys.WithPolicy(ctx, accessPolicy)
//	p, ok := contextkeys.GetPolicy(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PolicyKey contains *policy.AccessPolicy
	// Set by: middleware.AppAuthStage after a successful authorization
	// Required by: routing, access logging
	// Type: *policy.AccessPolicy
	PolicyKey Key = "access_policy"

	// ServiceKey contains the requested service code
	// Set by: middleware.AppAuthStage
	// Used by: upstream routing, access logging
	// Type: string
	ServiceKey Key = "service_code"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestIDStage
	// Used by: Logger, rejection diagnostics
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: gateway.Pipeline for requests that pass every stage
	// Used by: upstream proxy error logging via observability.FromContext
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithPolicy attaches the resolved access policy to the context
func WithPolicy(ctx context.Context, p *policy.AccessPolicy) context.Context {
	return context.WithValue(ctx, PolicyKey, p)
}

// GetPolicy retrieves the resolved access policy from context
func GetPolicy(ctx context.Context) (*policy.AccessPolicy, bool) {
	p, ok := ctx.Value(PolicyKey).(*policy.AccessPolicy)
	return p, ok && p != nil
}

// WithService adds the requested service code to the context
func WithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ServiceKey, service)
}

// GetService retrieves the requested service code from context
func GetService(ctx context.Context) string {
	if service, ok := ctx.Value(ServiceKey).(string); ok {
		return service
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
