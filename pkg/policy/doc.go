// Package policy defines the access policy data model shared by the gateway's
// authentication pipeline: application credentials, service grants, the
// AccessPolicy unit held in the cache, rejection reason codes, and the Store
// contract every backend implements.
//
// # Model
//
// One ApplicationCredential owns zero or more ServiceGrants. A grant with an
// empty caller IP allowlist admits nobody.
//
//	p := policy.NewAccessPolicy(
//		policy.ApplicationCredential{AppKey: "acme", AppSecret: "s3cr3t", Status: policy.StatusOnline},
//		[]policy.ServiceGrant{{ServiceCode: "orders", AllowedCallerIPs: []string{"10.0.0.0/8"}, Status: policy.StatusOnline}},
//	)
//
// # Errors
//
// Backends distinguish a definitive miss (ErrNotFound) from a transient
// failure (ErrBackendUnavailable, usually via BackendError). Callers branch
// with errors.Is.
package policy
