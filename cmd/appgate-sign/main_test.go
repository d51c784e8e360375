package main

import (
	"bytes"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appgate/pkg/signature"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRun_SignsLikeTheGateway(t *testing.T) {
	var out bytes.Buffer
	config := &Config{Secret: "s3cr3t", Algorithm: "sha256", SignatureParam: "sign"}

	err := run(config, []string{"appKey=acme", "orderId=42"}, &out, quietLogger())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	verifier, err := signature.NewVerifier(signature.Config{})
	require.NoError(t, err)
	want := verifier.Sign("s3cr3t", signature.Params{"appKey": "acme", "orderId": "42"})
	assert.Equal(t, want, lines[0])

	q, err := url.ParseQuery(lines[1])
	require.NoError(t, err)
	assert.Equal(t, want, q.Get("sign"))
	assert.Equal(t, "acme", q.Get("appKey"))
}

func TestRun_Verify(t *testing.T) {
	verifier, err := signature.NewVerifier(signature.Config{Algorithm: signature.AlgorithmHMACSHA256})
	require.NoError(t, err)
	sig := verifier.Sign("s3cr3t", signature.Params{"appKey": "acme"})

	config := &Config{Secret: "s3cr3t", Algorithm: "hmac-sha256", SignatureParam: "sign", Query: "appKey=acme", Verify: sig}
	var out bytes.Buffer
	require.NoError(t, run(config, nil, &out, quietLogger()))
	assert.Equal(t, "OK\n", out.String())

	config.Query = "appKey=other"
	assert.Error(t, run(config, nil, &out, quietLogger()))
}

func TestRun_Freshness(t *testing.T) {
	var out bytes.Buffer
	config := &Config{Secret: "s3cr3t", SignatureParam: "sign", AddFreshness: true}
	require.NoError(t, run(config, []string{"appKey=acme"}, &out, quietLogger()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	q, err := url.ParseQuery(lines[1])
	require.NoError(t, err)
	assert.NotEmpty(t, q.Get("timestamp"))
	assert.NotEmpty(t, q.Get("nonce"))
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		args   []string
	}{
		{"missing secret", &Config{}, []string{"a=1"}},
		{"bad algorithm", &Config{Secret: "s", Algorithm: "md5"}, []string{"a=1"}},
		{"bad argument", &Config{Secret: "s"}, []string{"novalue"}},
		{"no parameters", &Config{Secret: "s"}, nil},
		{"repeated query parameter", &Config{Secret: "s", Query: "a=1&a=2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(tt.config, tt.args, io.Discard, quietLogger()))
		})
	}
}
