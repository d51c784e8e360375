package evaluator

import (
	"github.com/platinummonkey/appgate/pkg/policy"
)

// Decision is the outcome of evaluating a policy for one request
type Decision struct {
	Allowed bool
	Reason  policy.Reason
}

// Allow is the single allowing decision
var Allow = Decision{Allowed: true}

// Deny builds a denying decision
func Deny(reason policy.Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluator applies status and caller-IP rules to a resolved policy.
// It performs no I/O and holds no state, so one value can be shared freely.
type Evaluator struct{}

// New returns an Evaluator
func New() *Evaluator {
	return &Evaluator{}
}

// Authorize evaluates the rules in order; the first failing rule decides:
//  1. application online, else ApplicationOffline
//  2. a grant exists for requestedService, else ServiceNotGranted
//  3. the grant is online, else ServiceOffline
//  4. callerIP is in the grant's allowlist, else IpNotAllowed
func (e *Evaluator) Authorize(p *policy.AccessPolicy, requestedService, callerIP string) Decision {
	if p == nil {
		return Deny(policy.ReasonCredentialNotFound)
	}
	if !p.Credential.Status.IsOnline() {
		return Deny(policy.ReasonApplicationOffline)
	}

	grant, ok := p.Grant(requestedService)
	if !ok || requestedService == "" {
		return Deny(policy.ReasonServiceNotGranted)
	}
	if !grant.Status.IsOnline() {
		return Deny(policy.ReasonServiceOffline)
	}

	// An empty allowlist admits nobody
	if !p.CallerMatcher(grant.ServiceCode).Contains(callerIP) {
		return Deny(policy.ReasonIPNotAllowed)
	}

	return Allow
}
