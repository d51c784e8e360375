package policy

import "context"

// Store resolves the full access policy for an application.
//
// Implementations return ErrNotFound (possibly wrapped) when the backend
// definitively has no such application, and an error matching
// ErrBackendUnavailable for anything transient. A returned policy must be
// complete: the grant set is never loaded after the fact.
type Store interface {
	Resolve(ctx context.Context, appKey string) (*AccessPolicy, error)
}

// StoreFunc adapts a function to the Store interface
type StoreFunc func(ctx context.Context, appKey string) (*AccessPolicy, error)

// Resolve calls f
func (f StoreFunc) Resolve(ctx context.Context, appKey string) (*AccessPolicy, error) {
	return f(ctx, appKey)
}
