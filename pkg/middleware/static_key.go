package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/platinummonkey/appgate/pkg/gateway"
	"github.com/platinummonkey/appgate/pkg/policy"
)

// StaticKeyStageName names the static API key stage
const StaticKeyStageName = "static_key"

// DefaultStaticKeyOrder runs the static key check before app auth
const DefaultStaticKeyOrder = 5

// DefaultStaticKeyHeader carries the static API key
const DefaultStaticKeyHeader = "X-Api-Key"

// StaticKeyConfig configures a StaticKeyStage
type StaticKeyConfig struct {
	Header string
	Keys   []string
	// PathPrefixes restricts the check to matching paths; empty applies
	// it to every path
	PathPrefixes []string
}

// StaticKeyStage requires a shared API key on the configured paths. The
// key header is removed before the request is forwarded.
type StaticKeyStage struct {
	header   string
	keys     [][]byte
	prefixes []string
}

// NewStaticKeyStage creates the stage. Empty keys are ignored.
func NewStaticKeyStage(cfg StaticKeyConfig) *StaticKeyStage {
	header := cfg.Header
	if header == "" {
		header = DefaultStaticKeyHeader
	}
	s := &StaticKeyStage{header: header, prefixes: cfg.PathPrefixes}
	for _, k := range cfg.Keys {
		if k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// Name returns the stage name
func (s *StaticKeyStage) Name() string {
	return StaticKeyStageName
}

// Authenticate checks the key header
func (s *StaticKeyStage) Authenticate(r *http.Request) gateway.Outcome {
	if len(s.prefixes) > 0 && !hasPrefix(r.URL.Path, s.prefixes) {
		return gateway.Next(r)
	}

	supplied := r.Header.Get(s.header)
	if supplied == "" {
		return gateway.Reject(policy.ReasonMissingCredentials, nil)
	}

	// Compare against every key so timing does not reveal which one matched
	match := 0
	for _, k := range s.keys {
		match |= subtle.ConstantTimeCompare(k, []byte(supplied))
	}
	if match != 1 {
		return gateway.Reject(policy.ReasonInvalidAPIKey, nil)
	}

	r.Header.Del(s.header)
	return gateway.Next(r)
}
