package freight

import (
	"context"
	"testing"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/features/connection"
	"go-freight/internal/providers"
	"go-freight/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubConnService serves one connection; nothing else is exercised here.
type stubConnService struct {
	conn *connection.Connection
}

func (s *stubConnService) Get(_ context.Context, id string) (*connection.Connection, error) {
	if s.conn == nil || s.conn.ID != id {
		return nil, apperrors.NotFound("connection %s not found", id)
	}
	cp := *s.conn
	return &cp, nil
}

func (s *stubConnService) Create(context.Context, connection.CreateParams) (*connection.Connection, error) {
	panic("not used")
}

func (s *stubConnService) GetByOwner(context.Context, connection.Owner) ([]connection.Connection, error) {
	return nil, nil
}

func (s *stubConnService) Update(context.Context, string, connection.UpdateParams) (*connection.Connection, error) {
	panic("not used")
}

func (s *stubConnService) Delete(context.Context, string) error { return nil }

func (s *stubConnService) Validate(context.Context, string) (bool, error) { return true, nil }

func (s *stubConnService) ListActive(context.Context) ([]connection.Connection, error) {
	return nil, nil
}

func (s *stubConnService) GetByProviderAccount(context.Context, providers.ProviderType, string) (*connection.Connection, error) {
	return nil, apperrors.NotFound("not used")
}

func (s *stubConnService) RecordSyncOutcome(context.Context, string, time.Time, string) error {
	return nil
}

func (s *stubConnService) RecordSyncFailure(context.Context, string, string) error { return nil }

func (s *stubConnService) GetAuthorizationURL(context.Context, providers.ProviderType, string, string) (string, error) {
	return "", nil
}

func (s *stubConnService) ExchangeCode(context.Context, string, providers.ProviderType, string, string) (*connection.Connection, error) {
	panic("not used")
}

func (s *stubConnService) Transition(context.Context, string, connection.Status, string) error {
	return nil
}

func (s *stubConnService) PersistCredential(context.Context, *connection.Connection, *providers.Credential) error {
	return nil
}

func (s *stubConnService) SetSyncCanceller(connection.SyncCanceller) {}

// stubAdapter records the driver ids and loads it was called with.
type stubAdapter struct {
	pushedLoads  []providers.Load
	statusCalls  []string
	hosDriverIDs []string
}

func (a *stubAdapter) Type() providers.ProviderType           { return providers.ProviderMcLeod }
func (a *stubAdapter) Category() providers.Category           { return providers.CategoryTMS }
func (a *stubAdapter) Integration() providers.IntegrationType { return providers.IntegrationAPIKey }

func (a *stubAdapter) Authenticate(context.Context, providers.AuthArtifact) (*providers.Credential, error) {
	return nil, providers.ErrNotSupported(a.Type(), "authenticate")
}

func (a *stubAdapter) AuthorizationURL(string, string) (string, error) { return "", nil }

func (a *stubAdapter) RefreshToken(context.Context, *providers.Credential) (*providers.Credential, error) {
	return nil, providers.ErrNotSupported(a.Type(), "token refresh")
}

func (a *stubAdapter) TestConnection(context.Context, *providers.Credential) error { return nil }

func (a *stubAdapter) SyncEntity(context.Context, *providers.Credential, providers.EntityType, *providers.Window, string) (*providers.Page, error) {
	return &providers.Page{}, nil
}

func (a *stubAdapter) PushLoad(_ context.Context, _ *providers.Credential, load providers.Load) error {
	a.pushedLoads = append(a.pushedLoads, load)
	return nil
}

func (a *stubAdapter) UpdateLoadStatus(_ context.Context, _ *providers.Credential, loadID, status string) error {
	a.statusCalls = append(a.statusCalls, loadID+"="+status)
	return nil
}

func (a *stubAdapter) DriverHOS(_ context.Context, _ *providers.Credential, providerDriverID string) (*providers.HOSStatus, error) {
	a.hosDriverIDs = append(a.hosDriverIDs, providerDriverID)
	return &providers.HOSStatus{ProviderDriverID: providerDriverID, DutyStatus: "driving"}, nil
}

func (a *stubAdapter) DriverHOSLogs(context.Context, *providers.Credential, string, *providers.Window) ([]providers.HOSLog, error) {
	return nil, nil
}

func (a *stubAdapter) DriverLocation(_ context.Context, _ *providers.Credential, providerDriverID string) (*providers.Location, error) {
	return &providers.Location{ProviderDriverID: providerDriverID}, nil
}

func (a *stubAdapter) VerifyWebhook(string, []byte, string) error { return nil }

func (a *stubAdapter) ParseWebhook([]byte) (*providers.ProviderEvent, error) {
	return nil, providers.ErrNotSupported(a.Type(), "webhooks")
}

type freightFixture struct {
	conns   *stubConnService
	adapter *stubAdapter
	svc     FreightService
}

func newFreightFixture(t *testing.T, status connection.Status) *freightFixture {
	t.Helper()

	f := &freightFixture{
		conns: &stubConnService{
			conn: &connection.Connection{
				ID:              "conn-1",
				ProviderType:    providers.ProviderMcLeod,
				IntegrationType: providers.IntegrationAPIKey,
				Status:          status,
				Settings: connection.Settings{
					DriverMap: map[string]string{"drv-1": "mcleod-77"},
				},
			},
		},
		adapter: &stubAdapter{},
	}

	v := vault.NewMemoryVault()
	require.NoError(t, v.Write(context.Background(), "conn-1", &providers.Credential{
		Type:   providers.IntegrationAPIKey,
		APIKey: &providers.APIKeyCredential{Key: "k", Secret: "s"},
	}))

	registry := providers.NewRegistryWith(f.adapter)
	guard := connection.NewRefreshGuard(f.conns, v, registry, zap.NewNop())
	f.svc = NewFreightService(f.conns, guard, registry, zap.NewNop())
	return f
}

func TestPushLoad(t *testing.T) {
	f := newFreightFixture(t, connection.StatusActive)

	err := f.svc.PushLoad(context.Background(), "conn-1", providers.Load{
		ReferenceNo: "REF-100",
		Origin:      "Chicago, IL",
		Destination: "Dallas, TX",
	})
	require.NoError(t, err)
	require.Len(t, f.adapter.pushedLoads, 1)
	assert.Equal(t, "REF-100", f.adapter.pushedLoads[0].ReferenceNo)
}

func TestPushLoadRequiresReference(t *testing.T) {
	f := newFreightFixture(t, connection.StatusActive)

	err := f.svc.PushLoad(context.Background(), "conn-1", providers.Load{})
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, f.adapter.pushedLoads)
}

func TestPushLoadRejectsInactiveConnection(t *testing.T) {
	for _, status := range []connection.Status{
		connection.StatusPending, connection.StatusError,
		connection.StatusExpired, connection.StatusRevoked,
	} {
		f := newFreightFixture(t, status)
		err := f.svc.PushLoad(context.Background(), "conn-1", providers.Load{ReferenceNo: "R"})
		assert.True(t, apperrors.IsConflict(err), string(status))
	}
}

func TestUpdateLoadStatus(t *testing.T) {
	f := newFreightFixture(t, connection.StatusActive)

	require.NoError(t, f.svc.UpdateLoadStatus(context.Background(), "conn-1", "load-9", "delivered"))
	assert.Equal(t, []string{"load-9=delivered"}, f.adapter.statusCalls)

	err := f.svc.UpdateLoadStatus(context.Background(), "conn-1", "load-9", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestDriverHOSMapsDriverID(t *testing.T) {
	f := newFreightFixture(t, connection.StatusActive)

	hos, err := f.svc.DriverHOS(context.Background(), "conn-1", "drv-1")
	require.NoError(t, err)
	assert.Equal(t, "mcleod-77", hos.ProviderDriverID)
	assert.Equal(t, []string{"mcleod-77"}, f.adapter.hosDriverIDs)

	// Unmapped ids pass through untouched.
	_, err = f.svc.DriverHOS(context.Background(), "conn-1", "raw-id")
	require.NoError(t, err)
	assert.Equal(t, []string{"mcleod-77", "raw-id"}, f.adapter.hosDriverIDs)
}

func TestDriverReadsUnknownConnection(t *testing.T) {
	f := newFreightFixture(t, connection.StatusActive)

	_, err := f.svc.DriverLocation(context.Background(), "missing", "drv-1")
	assert.True(t, apperrors.IsNotFound(err))
}
