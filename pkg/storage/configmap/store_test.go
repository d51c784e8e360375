package configmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appgate/pkg/policy"
)

func TestStore_BeforeFirstLoad(t *testing.T) {
	s := NewStore(nil, nil)

	_, err := s.Resolve(context.Background(), "acme")
	assert.True(t, policy.IsBackendUnavailable(err))
	assert.False(t, policy.IsNotFound(err))
	assert.Error(t, s.HealthCheck(context.Background()))
	assert.False(t, s.Loaded())
}

func TestStore_Update(t *testing.T) {
	s := NewStore(nil, nil)

	changed, err := s.Update("test", []byte(acmeDocument))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"acme", "legacy"}, s.Keys())
	assert.NoError(t, s.HealthCheck(context.Background()))

	p, err := s.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.AppKey())

	_, err = s.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, policy.ErrNotFound)

	changed, err = s.Update("test", []byte(acmeDocument))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStore_InvalidDocumentKeepsPrevious(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Update("test", []byte(acmeDocument))
	require.NoError(t, err)

	_, err = s.Update("test", []byte("acme:\n  status: online\n"))
	require.Error(t, err)

	p, err := s.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", p.Credential.AppSecret)
}

func TestStore_Close(t *testing.T) {
	s := NewStore(nil, nil)
	calls := 0
	s.OnClose(func() error { calls++; return nil })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)
}
