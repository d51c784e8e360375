package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/appgate/pkg/signature"
)

// Config holds the signing tool configuration
type Config struct {
	Secret         string
	Algorithm      string
	SignatureParam string
	Excluded       string
	Query          string
	Verify         string
	AddFreshness   bool
	ShowCanonical  bool
	LogLevel       string
}

// Signs request parameters the same way the gateway verifies them:
//
//	appgate-sign -secret s3cr3t appKey=acme orderId=42
//	appgate-sign -secret s3cr3t -query 'appKey=acme&orderId=42' -fresh
//	appgate-sign -secret s3cr3t -verify 9f2c... appKey=acme orderId=42
func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	if err := run(config, flag.Args(), os.Stdout, logger); err != nil {
		logger.Fatalf("Signing failed: %v", err)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Secret, "secret", os.Getenv("APPGATE_SIGN_SECRET"), "Application secret (or APPGATE_SIGN_SECRET)")
	flag.StringVar(&config.Algorithm, "algorithm", string(signature.AlgorithmSHA256), "Digest algorithm (sha256, sha512, hmac-sha256)")
	flag.StringVar(&config.SignatureParam, "sign-param", signature.DefaultSignatureParam, "Name of the signature parameter")
	flag.StringVar(&config.Excluded, "exclude", "", "Comma-separated parameters left out of the signature")
	flag.StringVar(&config.Query, "query", "", "Parameters as a URL query string")
	flag.StringVar(&config.Verify, "verify", "", "Check this signature instead of printing a new one")
	flag.BoolVar(&config.AddFreshness, "fresh", false, "Add timestamp and nonce parameters before signing")
	flag.BoolVar(&config.ShowCanonical, "canonical", false, "Print the canonical string to stderr")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// run signs or verifies the parameters and writes the result to out
func run(config *Config, args []string, out io.Writer, logger *logrus.Logger) error {
	if config.Secret == "" {
		return fmt.Errorf("a secret is required")
	}

	var excluded []string
	if config.Excluded != "" {
		excluded = strings.Split(config.Excluded, ",")
	}
	verifier, err := signature.NewVerifier(signature.Config{
		Algorithm:      signature.Algorithm(config.Algorithm),
		SignatureParam: config.SignatureParam,
		ExcludedParams: excluded,
	})
	if err != nil {
		return err
	}

	values, err := collectParams(config.Query, args)
	if err != nil {
		return err
	}
	if config.AddFreshness {
		values.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
		values.Set("nonce", uuid.NewString())
	}
	values.Del(verifier.SignatureParam())
	params, err := signature.SingleValued(values)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"algorithm": verifier.Algorithm(),
		"params":    len(params),
	}).Debug("Computing signature")
	if config.ShowCanonical {
		logger.Infof("Canonical string: %s", verifier.Canonical(params))
	}

	if config.Verify != "" {
		if !verifier.Verify(config.Secret, params, config.Verify) {
			return fmt.Errorf("signature does not match")
		}
		fmt.Fprintln(out, "OK")
		return nil
	}

	sig := verifier.Sign(config.Secret, params)
	values.Set(verifier.SignatureParam(), sig)
	fmt.Fprintln(out, sig)
	fmt.Fprintln(out, values.Encode())
	return nil
}

// collectParams merges a query string with key=value arguments; arguments win
func collectParams(query string, args []string) (url.Values, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		values.Set(k, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no parameters to sign")
	}
	return values, nil
}
