package configmap

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// Document is the policy document stored under one ConfigMap data key:
// a mapping of appKey to application.
type Document map[string]Application

// Application is one document entry
type Application struct {
	Secret  string   `yaml:"secret"`
	Status  string   `yaml:"status"`
	Servers []Server `yaml:"servers"`
}

// Server grants an application access to one backend service
type Server struct {
	ServiceCode      string    `yaml:"serviceCode"`
	AllowedCallerIPs callerIPs `yaml:"allowedCallerIps"`
	Status           string    `yaml:"status"`
}

// callerIPs accepts either a YAML sequence or a single delimited string
type callerIPs []string

func (c *callerIPs) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = policy.ParseCallerIPs(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, policy.ParseCallerIPs(item)...)
		}
		*c = out
		return nil
	default:
		return fmt.Errorf("line %d: allowedCallerIps must be a list or a string", value.Line)
	}
}

// ParseDocument decodes raw YAML into access policies keyed by appKey.
// The whole document is rejected on the first invalid entry.
func ParseDocument(raw []byte) (map[string]*policy.AccessPolicy, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("policy document is empty")
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy document: %w", err)
	}

	policies := make(map[string]*policy.AccessPolicy, len(doc))
	for appKey, app := range doc {
		p, err := app.toPolicy(appKey)
		if err != nil {
			return nil, err
		}
		policies[appKey] = p
	}
	return policies, nil
}

func (a Application) toPolicy(appKey string) (*policy.AccessPolicy, error) {
	if strings.TrimSpace(appKey) == "" {
		return nil, fmt.Errorf("policy document has an application with an empty key")
	}
	if a.Secret == "" {
		return nil, fmt.Errorf("application %q has no secret", appKey)
	}

	grants := make([]policy.ServiceGrant, 0, len(a.Servers))
	seen := make(map[string]bool, len(a.Servers))
	for i, s := range a.Servers {
		if s.ServiceCode == "" {
			return nil, fmt.Errorf("application %q server %d has no serviceCode", appKey, i)
		}
		if seen[s.ServiceCode] {
			return nil, fmt.Errorf("application %q lists service %q twice", appKey, s.ServiceCode)
		}
		seen[s.ServiceCode] = true
		grants = append(grants, policy.ServiceGrant{
			ServiceCode:      s.ServiceCode,
			AllowedCallerIPs: []string(s.AllowedCallerIPs),
			Status:           policy.ParseStatus(s.Status),
		})
	}

	return policy.NewAccessPolicy(policy.ApplicationCredential{
		AppKey:    appKey,
		AppSecret: a.Secret,
		Status:    policy.ParseStatus(a.Status),
	}, grants), nil
}
