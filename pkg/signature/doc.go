// Package signature implements the request signing scheme used by registered
// applications.
//
// # Canonical form
//
// Every request parameter except the signature itself (and any configured
// transport-level parameters) is sorted by name and concatenated as
// name||value with no separator. The application secret is appended and the
// result digested; the lowercase hex digest is the signature.
//
//	v, _ := signature.NewVerifier(signature.Config{Algorithm: signature.AlgorithmSHA256})
//	sig := v.Sign(secret, signature.Params{"appKey": "acme", "orderId": "42"})
//	ok := v.Verify(secret, params, sig)
//
// The hmac-sha256 algorithm keys an HMAC with the secret instead of appending
// it. Comparison is constant time and malformed signatures verify as false.
//
// # Replay protection
//
// ReplayGuard optionally bounds timestamp skew and remembers nonces per
// application in an expiring LRU.
package signature
