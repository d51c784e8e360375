// Package evaluator decides whether a resolved access policy admits a request
// for a given backend service from a given caller address.
//
// Caller allowlists are matched CIDR-aware for both IPv4 and IPv6; a bare
// address is a single-host range and IPv4-mapped IPv6 addresses compare as
// IPv4. Allowlists are compiled once when the policy is built
// (policy.NewAccessPolicy), not per request.
package evaluator
