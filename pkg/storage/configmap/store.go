package configmap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
)

const backendName = "configmap"

// errNotLoaded is reported until the first valid document arrives
var errNotLoaded = errors.New("policy document not loaded")

type snapshot struct {
	policies map[string]*policy.AccessPolicy
	checksum string
	loadedAt time.Time
}

// Store serves resolves from the most recent valid policy document.
// Resolve is a map lookup over an immutable snapshot.
type Store struct {
	current atomic.Pointer[snapshot]
	metrics *observability.Metrics
	logger  *observability.Logger

	mu      sync.Mutex
	closers []func() error
}

// NewStore creates an empty store. It reports BackendUnavailable until
// Update succeeds once.
func NewStore(metrics *observability.Metrics, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{metrics: metrics, logger: logger.WithField("backend", backendName)}
}

// Update replaces the snapshot with raw. An invalid document is rejected
// and the previous snapshot stays in effect. It reports whether the
// document changed.
func (s *Store) Update(source string, raw []byte) (bool, error) {
	sum := sha256.Sum256(raw)
	checksum := hex.EncodeToString(sum[:])
	if cur := s.current.Load(); cur != nil && cur.checksum == checksum {
		s.metrics.RecordDocumentReload(source, "unchanged")
		return false, nil
	}

	policies, err := ParseDocument(raw)
	if err != nil {
		s.metrics.RecordDocumentReload(source, "rejected")
		s.logger.WithError(err).WithField("source", source).Error("Rejected policy document, keeping previous")
		return false, err
	}

	s.current.Store(&snapshot{policies: policies, checksum: checksum, loadedAt: time.Now()})
	s.metrics.RecordDocumentReload(source, "loaded")
	s.logger.WithFields(map[string]interface{}{
		"source":       source,
		"applications": len(policies),
	}).Info("Loaded policy document")
	return true, nil
}

// Resolve looks up appKey in the current document
func (s *Store) Resolve(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, policy.NewBackendError(backendName, "resolve", errNotLoaded)
	}
	p, ok := snap.policies[appKey]
	if !ok {
		return nil, fmt.Errorf("application %q: %w", appKey, policy.ErrNotFound)
	}
	return p, nil
}

// Loaded reports whether a document has been accepted
func (s *Store) Loaded() bool {
	return s.current.Load() != nil
}

// Keys returns the app keys of the current document in sorted order
func (s *Store) Keys() []string {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	keys := make([]string, 0, len(snap.policies))
	for k := range snap.policies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HealthCheck fails until a document is loaded
func (s *Store) HealthCheck(ctx context.Context) error {
	if !s.Loaded() {
		return errNotLoaded
	}
	return nil
}

// OnClose registers a cleanup run by Close, typically a source's watcher
func (s *Store) OnClose(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close runs registered cleanups
func (s *Store) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
