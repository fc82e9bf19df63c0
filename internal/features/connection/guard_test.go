package connection

import (
	"context"
	"testing"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type guardFixture struct {
	*serviceFixture
	guard *RefreshGuard
	now   time.Time
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	f := &guardFixture{
		serviceFixture: newServiceFixture(t),
		now:            time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	f.guard = NewRefreshGuard(f.svc, f.vault, newRegistry(f.adapter), zap.NewNop())
	f.guard.now = func() time.Time { return f.now }
	return f
}

func (f *guardFixture) seedConnection(t *testing.T, cred *providers.Credential) *Connection {
	t.Helper()
	conn := &Connection{
		ID:              "conn-1",
		Owner:           driverOwner(),
		ProviderType:    providers.ProviderKeepTruckin,
		IntegrationType: cred.Type,
		Status:          StatusActive,
	}
	require.NoError(t, f.repo.Create(context.Background(), conn))
	require.NoError(t, f.vault.Write(context.Background(), conn.ID, cred))

	// Re-read so the in-hand copy carries the persisted updated_at; the CAS
	// path in PersistCredential depends on it.
	stored, err := f.repo.Get(context.Background(), conn.ID)
	require.NoError(t, err)
	return stored
}

func (f *guardFixture) oauthExpiringAt(expiresAt time.Time) *providers.Credential {
	return &providers.Credential{
		Type: providers.IntegrationOAuth,
		OAuth: &providers.OAuthCredential{
			AccessToken:  "at-old",
			RefreshToken: "rt-1",
			ExpiresAt:    expiresAt,
		},
	}
}

func TestEnsurePassesThroughNonOAuth(t *testing.T) {
	f := newGuardFixture(t)
	f.adapter.integration = providers.IntegrationAPIKey
	conn := f.seedConnection(t, &providers.Credential{
		Type:   providers.IntegrationAPIKey,
		APIKey: &providers.APIKeyCredential{Key: "k", Secret: "s"},
	})

	cred, err := f.guard.Ensure(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "k", cred.APIKey.Key)
	assert.Zero(t, f.adapter.refreshes)
}

func TestEnsureSkipsRefreshWhenFresh(t *testing.T) {
	f := newGuardFixture(t)
	conn := f.seedConnection(t, f.oauthExpiringAt(f.now.Add(time.Hour)))

	cred, err := f.guard.Ensure(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "at-old", cred.OAuth.AccessToken)
	assert.Zero(t, f.adapter.refreshes)
}

func TestEnsureRefreshesInsideMargin(t *testing.T) {
	f := newGuardFixture(t)
	// Two minutes to expiry: inside the five minute margin.
	conn := f.seedConnection(t, f.oauthExpiringAt(f.now.Add(2*time.Minute)))

	f.adapter.refreshFn = func(context.Context, *providers.Credential) (*providers.Credential, error) {
		return &providers.Credential{
			Type: providers.IntegrationOAuth,
			OAuth: &providers.OAuthCredential{
				AccessToken:  "at-new",
				RefreshToken: "rt-2",
				ExpiresAt:    f.now.Add(time.Hour),
			},
		}, nil
	}

	cred, err := f.guard.Ensure(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "at-new", cred.OAuth.AccessToken)
	assert.Equal(t, 1, f.adapter.refreshes)

	// The refreshed token is what the vault now holds.
	stored, err := f.vault.Read(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-new", stored.OAuth.AccessToken)
}

func TestEnsureSecondCallerReusesRefreshedToken(t *testing.T) {
	f := newGuardFixture(t)
	conn := f.seedConnection(t, f.oauthExpiringAt(f.now.Add(time.Minute)))

	f.adapter.refreshFn = func(context.Context, *providers.Credential) (*providers.Credential, error) {
		return f.oauthExpiringAt(f.now.Add(time.Hour)), nil
	}

	_, err := f.guard.Ensure(context.Background(), conn)
	require.NoError(t, err)

	fresh, err := f.repo.Get(context.Background(), conn.ID)
	require.NoError(t, err)
	_, err = f.guard.Ensure(context.Background(), fresh)
	require.NoError(t, err)

	// The vault re-read under the lock satisfied the second caller.
	assert.Equal(t, 1, f.adapter.refreshes)
}

func TestEnsureExpiredOnRefreshAuthFailure(t *testing.T) {
	f := newGuardFixture(t)
	conn := f.seedConnection(t, f.oauthExpiringAt(f.now.Add(time.Minute)))

	f.adapter.refreshFn = func(context.Context, *providers.Credential) (*providers.Credential, error) {
		return nil, apperrors.Authentication("token endpoint rejected refresh")
	}

	_, err := f.guard.Ensure(context.Background(), conn)
	assert.True(t, apperrors.IsAuthentication(err))

	got, _ := f.repo.Get(context.Background(), conn.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestEnsureRevokedOnPermanentRefreshFailure(t *testing.T) {
	f := newGuardFixture(t)
	conn := f.seedConnection(t, f.oauthExpiringAt(f.now.Add(time.Minute)))

	f.adapter.refreshFn = func(context.Context, *providers.Credential) (*providers.Credential, error) {
		e := apperrors.Authentication("invalid_grant")
		e.Permanent = true
		return nil, e
	}

	_, err := f.guard.Ensure(context.Background(), conn)
	assert.True(t, apperrors.IsPermanentAuth(err))

	got, _ := f.repo.Get(context.Background(), conn.ID)
	assert.Equal(t, StatusRevoked, got.Status)
}

func TestEnsureTransientRefreshFailureKeepsStatus(t *testing.T) {
	f := newGuardFixture(t)
	conn := f.seedConnection(t, f.oauthExpiringAt(f.now.Add(time.Minute)))

	f.adapter.refreshFn = func(context.Context, *providers.Credential) (*providers.Credential, error) {
		return nil, apperrors.Unavailable("token endpoint down")
	}

	_, err := f.guard.Ensure(context.Background(), conn)
	assert.True(t, apperrors.IsUnavailable(err))

	got, _ := f.repo.Get(context.Background(), conn.ID)
	assert.Equal(t, StatusActive, got.Status)
}
