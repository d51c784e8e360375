package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/appgate/pkg/policy"
)

const backendName = "postgres"

const (
	selectApplication = `
		SELECT app_key, app_secret, status, created_at, modified_at
		FROM applications
		WHERE app_key = $1`

	selectGrants = `
		SELECT service_code, allowed_caller_ips, status
		FROM application_grants
		WHERE app_key = $1
		ORDER BY service_code`
)

// Store resolves access policies from the applications and
// application_grants tables
type Store struct {
	conns *ConnectionManager
}

// NewStore creates a relational policy store
func NewStore(conns *ConnectionManager) *Store {
	return &Store{conns: conns}
}

// Resolve reads the credential row and its grants inside one read-only
// repeatable-read transaction so the returned policy is a consistent snapshot.
func (s *Store) Resolve(ctx context.Context, appKey string) (*policy.AccessPolicy, error) {
	tx, err := s.conns.Replica().BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, policy.NewBackendError(backendName, "begin", err)
	}
	defer tx.Rollback()

	var (
		cred   policy.ApplicationCredential
		status string
	)
	err = tx.QueryRowContext(ctx, selectApplication, appKey).Scan(
		&cred.AppKey, &cred.AppSecret, &status, &cred.CreatedAt, &cred.ModifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %q: %w", appKey, policy.ErrNotFound)
	}
	if err != nil {
		return nil, policy.NewBackendError(backendName, "select application", err)
	}
	cred.Status = policy.ParseStatus(status)

	grants, err := s.loadGrants(ctx, tx, appKey)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, policy.NewBackendError(backendName, "commit", err)
	}

	return policy.NewAccessPolicy(cred, grants), nil
}

func (s *Store) loadGrants(ctx context.Context, tx *sql.Tx, appKey string) ([]policy.ServiceGrant, error) {
	rows, err := tx.QueryContext(ctx, selectGrants, appKey)
	if err != nil {
		return nil, policy.NewBackendError(backendName, "select grants", err)
	}
	defer rows.Close()

	var grants []policy.ServiceGrant
	for rows.Next() {
		var (
			g      policy.ServiceGrant
			ips    sql.NullString
			status string
		)
		if err := rows.Scan(&g.ServiceCode, &ips, &status); err != nil {
			return nil, policy.NewBackendError(backendName, "scan grant", err)
		}
		g.AllowedCallerIPs = policy.ParseCallerIPs(ips.String)
		g.Status = policy.ParseStatus(status)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, policy.NewBackendError(backendName, "iterate grants", err)
	}
	return grants, nil
}

// HealthCheck pings the primary and replicas
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close closes every connection
func (s *Store) Close() error {
	return s.conns.Close()
}
