package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appgate/pkg/policy"
)

var (
	appQuery   = regexp.QuoteMeta(`FROM applications`)
	grantQuery = regexp.QuoteMeta(`FROM application_grants`)
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(NewConnectionManagerFromDB(db)), mock
}

func TestStore_Resolve(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("credential with grants", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(appQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"app_key", "app_secret", "status", "created_at", "modified_at"}).
				AddRow("acme", "s3cr3t", "online", created, created))
		mock.ExpectQuery(grantQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"service_code", "allowed_caller_ips", "status"}).
				AddRow("billing", nil, "offline").
				AddRow("orders", "10.0.0.0/8, 192.168.1.7", "online"))
		mock.ExpectCommit()

		p, err := store.Resolve(context.Background(), "acme")
		require.NoError(t, err)

		assert.Equal(t, "acme", p.AppKey())
		assert.Equal(t, "s3cr3t", p.Credential.AppSecret)
		assert.Equal(t, policy.StatusOnline, p.Credential.Status)
		assert.Equal(t, created, p.Credential.CreatedAt)

		orders, ok := p.Grant("orders")
		require.True(t, ok)
		assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, orders.AllowedCallerIPs)
		assert.Equal(t, policy.StatusOnline, orders.Status)

		billing, ok := p.Grant("billing")
		require.True(t, ok)
		assert.Empty(t, billing.AllowedCallerIPs)
		assert.Equal(t, policy.StatusOffline, billing.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("numeric status column", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(appQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"app_key", "app_secret", "status", "created_at", "modified_at"}).
				AddRow("acme", "s3cr3t", "1", created, created))
		mock.ExpectQuery(grantQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"service_code", "allowed_caller_ips", "status"}))
		mock.ExpectCommit()

		p, err := store.Resolve(context.Background(), "acme")
		require.NoError(t, err)
		assert.True(t, p.Credential.Status.IsOnline())
		assert.Empty(t, p.Grants)
	})

	t.Run("unknown application", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(appQuery).WithArgs("ghost").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.Resolve(context.Background(), "ghost")
		assert.ErrorIs(t, err, policy.ErrNotFound)
		assert.False(t, policy.IsBackendUnavailable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database unavailable", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

		_, err := store.Resolve(context.Background(), "acme")
		require.Error(t, err)
		assert.True(t, policy.IsBackendUnavailable(err))
		assert.False(t, policy.IsNotFound(err))

		var backendErr *policy.BackendError
		require.ErrorAs(t, err, &backendErr)
		assert.Equal(t, "postgres", backendErr.Backend)
		assert.Equal(t, "begin", backendErr.Op)
	})

	t.Run("grant query failure discards credential", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(appQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"app_key", "app_secret", "status", "created_at", "modified_at"}).
				AddRow("acme", "s3cr3t", "online", created, created))
		mock.ExpectQuery(grantQuery).WithArgs("acme").WillReturnError(errors.New("canceling statement due to conflict with recovery"))
		mock.ExpectRollback()

		p, err := store.Resolve(context.Background(), "acme")
		assert.Nil(t, p)
		assert.True(t, policy.IsBackendUnavailable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("grant row error", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(appQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"app_key", "app_secret", "status", "created_at", "modified_at"}).
				AddRow("acme", "s3cr3t", "online", created, created))
		mock.ExpectQuery(grantQuery).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"service_code", "allowed_caller_ips", "status"}).
				AddRow("orders", "10.0.0.0/8", "online").
				RowError(0, errors.New("connection reset")))
		mock.ExpectRollback()

		_, err := store.Resolve(context.Background(), "acme")
		assert.True(t, policy.IsBackendUnavailable(err))
	})
}
