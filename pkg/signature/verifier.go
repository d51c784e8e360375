package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Algorithm selects the digest used to sign the canonical string
type Algorithm string

const (
	// AlgorithmSHA256 digests canonical||secret with SHA-256
	AlgorithmSHA256 Algorithm = "sha256"
	// AlgorithmSHA512 digests canonical||secret with SHA-512
	AlgorithmSHA512 Algorithm = "sha512"
	// AlgorithmHMACSHA256 keys HMAC-SHA256 with the secret over the canonical string
	AlgorithmHMACSHA256 Algorithm = "hmac-sha256"
)

// DefaultSignatureParam is the query parameter that carries the signature
const DefaultSignatureParam = "sign"

// Config configures a Verifier
type Config struct {
	Algorithm      Algorithm
	SignatureParam string
	// ExcludedParams lists transport-level parameters that are not signed
	ExcludedParams []string
}

// Verifier computes and checks request signatures
type Verifier struct {
	algorithm Algorithm
	sigParam  string
	exclude   map[string]struct{}
}

// NewVerifier validates cfg and builds a Verifier
func NewVerifier(cfg Config) (*Verifier, error) {
	alg := Algorithm(strings.ToLower(string(cfg.Algorithm)))
	if alg == "" {
		alg = AlgorithmSHA256
	}
	switch alg {
	case AlgorithmSHA256, AlgorithmSHA512, AlgorithmHMACSHA256:
	default:
		return nil, fmt.Errorf("unsupported signature algorithm %q (must be sha256, sha512, or hmac-sha256)", cfg.Algorithm)
	}

	sigParam := cfg.SignatureParam
	if sigParam == "" {
		sigParam = DefaultSignatureParam
	}

	exclude := map[string]struct{}{sigParam: {}}
	for _, p := range cfg.ExcludedParams {
		if p = strings.TrimSpace(p); p != "" {
			exclude[p] = struct{}{}
		}
	}

	return &Verifier{algorithm: alg, sigParam: sigParam, exclude: exclude}, nil
}

// Algorithm returns the configured digest
func (v *Verifier) Algorithm() Algorithm {
	return v.algorithm
}

// SignatureParam returns the parameter name that carries the signature
func (v *Verifier) SignatureParam() string {
	return v.sigParam
}

// Canonical returns the string that is signed for params
func (v *Verifier) Canonical(params Params) string {
	return Canonicalize(params, v.exclude)
}

// Sign returns the lowercase hex signature of params under secret
func (v *Verifier) Sign(secret string, params Params) string {
	return hex.EncodeToString(v.digest(secret, v.Canonical(params)))
}

// Verify reports whether supplied is the signature of params under secret.
// Any malformed input yields false.
func (v *Verifier) Verify(secret string, params Params, supplied string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if secret == "" || supplied == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(supplied))
	if err != nil {
		return false
	}
	expected := v.digest(secret, v.Canonical(params))
	return subtle.ConstantTimeCompare(expected, given) == 1
}

func (v *Verifier) digest(secret, canonical string) []byte {
	var h hash.Hash
	switch v.algorithm {
	case AlgorithmHMACSHA256:
		h = hmac.New(sha256.New, []byte(secret))
		h.Write([]byte(canonical))
		return h.Sum(nil)
	case AlgorithmSHA512:
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(canonical))
	h.Write([]byte(secret))
	return h.Sum(nil)
}
