package signature

import (
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/appgate/pkg/policy"
)

const defaultReplayCacheSize = 100_000

// ReplayGuard rejects requests whose timestamp is outside the allowed skew
// or whose nonce has already been used by the same application.
type ReplayGuard struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen *lru.LRU[string, struct{}]
}

// NewReplayGuard creates a guard. Nonces are remembered for twice the window,
// which covers every timestamp the guard would still accept.
func NewReplayGuard(window time.Duration, size int, now func() time.Time) *ReplayGuard {
	if size <= 0 {
		size = defaultReplayCacheSize
	}
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{
		window: window,
		now:    now,
		seen:   lru.NewLRU[string, struct{}](size, nil, 2*window),
	}
}

// Check validates timestamp and nonce for appKey and records the nonce.
// It returns ReasonNone when the request is fresh.
func (g *ReplayGuard) Check(appKey, timestamp, nonce string) policy.Reason {
	if timestamp == "" || nonce == "" {
		return policy.ReasonMissingCredentials
	}

	ts, ok := parseTimestamp(timestamp)
	if !ok {
		return policy.ReasonStaleTimestamp
	}
	skew := g.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.window {
		return policy.ReasonStaleTimestamp
	}

	key := appKey + "\x00" + nonce
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen.Contains(key) {
		return policy.ReasonReplayDetected
	}
	g.seen.Add(key, struct{}{})
	return policy.ReasonNone
}

// parseTimestamp accepts unix seconds or unix milliseconds
func parseTimestamp(raw string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
