// Package middleware provides the authentication stages that run in the
// gateway pipeline.
//
// # Stages
//
// RequestIDStage (order 0): assigns X-Request-ID and stores it in the
// request context.
//
// StaticKeyStage (order 5): requires a shared key in X-Api-Key on the
// configured path prefixes.
//
// AppAuthStage (order 10): resolves the application's access policy by app
// key, verifies the request signature, optionally checks timestamp and
// nonce freshness, then applies the status and caller IP rules for the
// service named by the first path segment.
//
//	verifier, _ := signature.NewVerifier(signature.Config{})
//	stage := middleware.NewAppAuthStage(middleware.DefaultAppAuthConfig(), credCache, verifier)
//	pipeline := gateway.NewPipeline([]gateway.Ordered{
//		{Order: middleware.DefaultRequestIDOrder, Stage: middleware.NewRequestIDStage()},
//		{Order: middleware.DefaultAppAuthOrder, Stage: stage},
//	})
//
// Any failure rejects with 401 and an empty body. Backend failures are
// treated as denials and raise a backend alert metric.
//
// # Related Packages
//
//   - pkg/gateway: Stage ordering and rejection responses
//   - pkg/cache: Credential cache used as the CredentialSource
//   - pkg/signature: Canonicalization and signature verification
//   - pkg/evaluator: Status and caller IP rules
package middleware
