// Package storage defines the access policy backends the gateway reads from.
//
// Every backend implements Backend: a policy.Store that can also report its
// health and be closed. Implementations live in subpackages:
//
//   - memory: direct table lookup, used in tests and when nothing else is configured
//   - postgres: applications and application_grants tables read in one transaction
//   - configmap: a YAML policy document from a mounted file or the Kubernetes API
//   - rediscache: a read-through decorator sharing resolved policies across gateway replicas
//
// Backends report a missing application as policy.ErrNotFound and every
// infrastructure failure as a policy.BackendError, so the credential cache
// can tell a definitive negative from a transient fault.
package storage
