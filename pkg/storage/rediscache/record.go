package rediscache

import (
	"time"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// record is the Redis wire form of an access policy. Unlike the policy
// types it carries the secret, which the gateway needs to verify signatures.
type record struct {
	AppKey     string        `json:"app_key"`
	AppSecret  string        `json:"app_secret"`
	Status     string        `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ModifiedAt time.Time     `json:"modified_at"`
	Grants     []grantRecord `json:"grants"`
}

type grantRecord struct {
	ServiceCode      string   `json:"service_code"`
	AllowedCallerIPs []string `json:"allowed_caller_ips"`
	Status           string   `json:"status"`
}

func toRecord(p *policy.AccessPolicy) record {
	r := record{
		AppKey:     p.Credential.AppKey,
		AppSecret:  p.Credential.AppSecret,
		Status:     string(p.Credential.Status),
		CreatedAt:  p.Credential.CreatedAt,
		ModifiedAt: p.Credential.ModifiedAt,
		Grants:     make([]grantRecord, 0, len(p.Grants)),
	}
	for _, g := range p.Grants {
		r.Grants = append(r.Grants, grantRecord{
			ServiceCode:      g.ServiceCode,
			AllowedCallerIPs: g.AllowedCallerIPs,
			Status:           string(g.Status),
		})
	}
	return r
}

func (r record) toPolicy() *policy.AccessPolicy {
	grants := make([]policy.ServiceGrant, 0, len(r.Grants))
	for _, g := range r.Grants {
		grants = append(grants, policy.ServiceGrant{
			ServiceCode:      g.ServiceCode,
			AllowedCallerIPs: g.AllowedCallerIPs,
			Status:           policy.ParseStatus(g.Status),
		})
	}
	return policy.NewAccessPolicy(policy.ApplicationCredential{
		AppKey:     r.AppKey,
		AppSecret:  r.AppSecret,
		Status:     policy.ParseStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
	}, grants)
}
