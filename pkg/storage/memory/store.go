package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// Store is an in-memory access policy table
type Store struct {
	mu       sync.RWMutex
	policies map[string]*policy.AccessPolicy
}

// NewStore creates a store holding policies
func NewStore(policies ...*policy.AccessPolicy) *Store {
	s := &Store{policies: make(map[string]*policy.AccessPolicy, len(policies))}
	for _, p := range policies {
		s.policies[p.AppKey()] = p
	}
	return s
}

// Resolve looks up appKey
func (s *Store) Resolve(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, policy.NewBackendError("memory", "resolve", err)
	}

	s.mu.RLock()
	p, ok := s.policies[appKey]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("application %q: %w", appKey, policy.ErrNotFound)
	}
	return p, nil
}

// Put adds or replaces a policy
func (s *Store) Put(p *policy.AccessPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.AppKey()] = p
}

// Delete removes appKey and its grants
func (s *Store) Delete(appKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, appKey)
}

// Replace swaps the whole table
func (s *Store) Replace(policies map[string]*policy.AccessPolicy) {
	next := make(map[string]*policy.AccessPolicy, len(policies))
	for k, p := range policies {
		next[k] = p
	}
	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()
}

// Keys returns the stored app keys in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.policies))
	for k := range s.policies {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
