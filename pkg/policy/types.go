package policy

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an application or a service grant
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ParseStatus normalizes a stored status value. Anything that is not
// recognisably online is treated as offline.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "online", "1", "enabled", "active", "true":
		return StatusOnline
	default:
		return StatusOffline
	}
}

// IsOnline reports whether the status admits traffic
func (s Status) IsOnline() bool {
	return s == StatusOnline
}

// ApplicationCredential identifies one registered caller
type ApplicationCredential struct {
	AppKey     string    `json:"app_key"`
	AppSecret  string    `json:"-"` // Signing key only, never rendered
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// ServiceGrant authorizes an application to call one backend service
type ServiceGrant struct {
	ServiceCode      string   `json:"service_code"`
	AllowedCallerIPs []string `json:"allowed_caller_ips"`
	Status           Status   `json:"status"`
}

// AccessPolicy is a credential together with its complete grant set.
// Values are treated as immutable once built; use NewAccessPolicy so the
// grant index is populated in one step.
type AccessPolicy struct {
	Credential ApplicationCredential `json:"credential"`
	Grants     []ServiceGrant        `json:"grants"`

	byService map[string]int
	matchers  []*IPMatcher
}

// NewAccessPolicy assembles a policy from a credential and its grants.
// The grants slice is copied. A duplicated service code keeps the first grant.
func NewAccessPolicy(cred ApplicationCredential, grants []ServiceGrant) *AccessPolicy {
	p := &AccessPolicy{
		Credential: cred,
		Grants:     make([]ServiceGrant, 0, len(grants)),
		byService:  make(map[string]int, len(grants)),
		matchers:   make([]*IPMatcher, 0, len(grants)),
	}
	for _, g := range grants {
		if _, dup := p.byService[g.ServiceCode]; dup {
			continue
		}
		g.AllowedCallerIPs = append([]string(nil), g.AllowedCallerIPs...)
		p.byService[g.ServiceCode] = len(p.Grants)
		p.Grants = append(p.Grants, g)
		p.matchers = append(p.matchers, CompileIPMatcher(g.AllowedCallerIPs))
	}
	return p
}

// AppKey returns the externally presented identifier
func (p *AccessPolicy) AppKey() string {
	return p.Credential.AppKey
}

// Grant returns the grant for serviceCode, if any
func (p *AccessPolicy) Grant(serviceCode string) (ServiceGrant, bool) {
	if p.byService == nil {
		for _, g := range p.Grants {
			if g.ServiceCode == serviceCode {
				return g, true
			}
		}
		return ServiceGrant{}, false
	}
	i, ok := p.byService[serviceCode]
	if !ok {
		return ServiceGrant{}, false
	}
	return p.Grants[i], true
}

// CallerMatcher returns the compiled allowlist of the grant for serviceCode.
// An unknown service yields an empty matcher that admits nobody.
func (p *AccessPolicy) CallerMatcher(serviceCode string) *IPMatcher {
	if i, ok := p.byService[serviceCode]; ok && i < len(p.matchers) {
		return p.matchers[i]
	}
	g, _ := p.Grant(serviceCode)
	return CompileIPMatcher(g.AllowedCallerIPs)
}

// InvalidCallerIPs maps service codes to allowlist entries that could not be
// parsed. Those entries never match.
func (p *AccessPolicy) InvalidCallerIPs() map[string][]string {
	var out map[string][]string
	for i, g := range p.Grants {
		var m *IPMatcher
		if i < len(p.matchers) {
			m = p.matchers[i]
		} else {
			m = CompileIPMatcher(g.AllowedCallerIPs)
		}
		if len(m.Invalid()) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[g.ServiceCode] = m.Invalid()
	}
	return out
}

// String never includes the secret
func (p *AccessPolicy) String() string {
	return fmt.Sprintf("AccessPolicy{app=%s status=%s grants=%d}", p.Credential.AppKey, p.Credential.Status, len(p.Grants))
}

// ParseCallerIPs splits a stored allowlist ("10.0.0.0/8, 192.168.1.4") into
// entries. Empty tokens are dropped; entries are not validated here.
func ParseCallerIPs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
