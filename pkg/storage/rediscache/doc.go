// Package rediscache shares resolved access policies between gateway
// replicas through Redis, in front of a slower backend such as postgres.
//
// Keys are "<prefix><appKey>" holding a JSON record with a TTL. Keep the
// Redis TTL at or below the in-process cache TTL, since a revoked
// application stays visible here until its key expires or is invalidated.
package rediscache
