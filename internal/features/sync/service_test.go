package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/events"
	"go-freight/internal/features/connection"
	"go-freight/internal/providers"
	"go-freight/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOpRepo is an in-memory SyncOperationRepository.
type fakeOpRepo struct {
	mu  sync.Mutex
	ops map[string]*SyncOperation
}

func newFakeOpRepo() *fakeOpRepo {
	return &fakeOpRepo{ops: make(map[string]*SyncOperation)}
}

func (r *fakeOpRepo) Create(_ context.Context, op *SyncOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
	return nil
}

func (r *fakeOpRepo) Get(_ context.Context, id string) (*SyncOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, apperrors.NotFound("sync operation %s not found", id)
	}
	cp := *op
	return &cp, nil
}

func (r *fakeOpRepo) List(_ context.Context, connectionID string, _ int64) ([]SyncOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SyncOperation
	for _, op := range r.ops {
		if op.ConnectionID == connectionID {
			out = append(out, *op)
		}
	}
	return out, nil
}

func (r *fakeOpRepo) Update(_ context.Context, op *SyncOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
	return nil
}

func (r *fakeOpRepo) EnsureIndexes(context.Context) error { return nil }

// stubConnService serves one connection and records state-changing calls.
type stubConnService struct {
	mu          sync.Mutex
	conn        *connection.Connection
	lastSyncAt  *time.Time
	failMessage string
	transitions []connection.Status
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
	if s.conn == nil {
		return nil, nil
	}
	return []connection.Connection{*s.conn}, nil
}

func (s *stubConnService) GetByProviderAccount(context.Context, providers.ProviderType, string) (*connection.Connection, error) {
	return nil, apperrors.NotFound("not used")
}

func (s *stubConnService) RecordSyncOutcome(_ context.Context, _ string, at time.Time, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncAt = &at
	s.failMessage = msg
	return nil
}

func (s *stubConnService) RecordSyncFailure(_ context.Context, _ string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMessage = msg
	return nil
}

func (s *stubConnService) GetAuthorizationURL(context.Context, providers.ProviderType, string, string) (string, error) {
	return "", nil
}

func (s *stubConnService) ExchangeCode(context.Context, string, providers.ProviderType, string, string) (*connection.Connection, error) {
	panic("not used")
}

func (s *stubConnService) Transition(_ context.Context, _ string, to connection.Status, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !connection.CanTransition(s.conn.Status, to) {
		return apperrors.Conflict("connection %s cannot move from %s to %s", s.conn.ID, s.conn.Status, to)
	}
	s.conn.Status = to
	s.transitions = append(s.transitions, to)
	return nil
}

func (s *stubConnService) PersistCredential(context.Context, *connection.Connection, *providers.Credential) error {
	return nil
}

func (s *stubConnService) SetSyncCanceller(connection.SyncCanceller) {}

// stubAdapter returns scripted pages per entity type.
type stubAdapter struct {
	mu     sync.Mutex
	syncFn func(entity providers.EntityType, cursor string) (*providers.Page, error)
	calls  int
}

func (a *stubAdapter) Type() providers.ProviderType           { return providers.ProviderKeepTruckin }
func (a *stubAdapter) Category() providers.Category           { return providers.CategoryELD }
func (a *stubAdapter) Integration() providers.IntegrationType { return providers.IntegrationAPIKey }

func (a *stubAdapter) Authenticate(context.Context, providers.AuthArtifact) (*providers.Credential, error) {
	return nil, providers.ErrNotSupported(a.Type(), "authenticate")
}

func (a *stubAdapter) AuthorizationURL(string, string) (string, error) { return "", nil }

func (a *stubAdapter) RefreshToken(context.Context, *providers.Credential) (*providers.Credential, error) {
	return nil, providers.ErrNotSupported(a.Type(), "token refresh")
}

func (a *stubAdapter) TestConnection(context.Context, *providers.Credential) error { return nil }

func (a *stubAdapter) SyncEntity(_ context.Context, _ *providers.Credential, entity providers.EntityType, _ *providers.Window, cursor string) (*providers.Page, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.syncFn(entity, cursor)
}

func (a *stubAdapter) PushLoad(context.Context, *providers.Credential, providers.Load) error {
	return providers.ErrNotSupported(a.Type(), "load push")
}

func (a *stubAdapter) UpdateLoadStatus(context.Context, *providers.Credential, string, string) error {
	return providers.ErrNotSupported(a.Type(), "load status updates")
}

func (a *stubAdapter) DriverHOS(context.Context, *providers.Credential, string) (*providers.HOSStatus, error) {
	return nil, providers.ErrNotSupported(a.Type(), "driver HOS reads")
}

func (a *stubAdapter) DriverHOSLogs(context.Context, *providers.Credential, string, *providers.Window) ([]providers.HOSLog, error) {
	return nil, providers.ErrNotSupported(a.Type(), "driver HOS log reads")
}

func (a *stubAdapter) DriverLocation(context.Context, *providers.Credential, string) (*providers.Location, error) {
	return nil, providers.ErrNotSupported(a.Type(), "driver location reads")
}

func (a *stubAdapter) VerifyWebhook(string, []byte, string) error { return nil }

func (a *stubAdapter) ParseWebhook([]byte) (*providers.ProviderEvent, error) {
	return nil, providers.ErrNotSupported(a.Type(), "webhooks")
}

type syncFixture struct {
	repo      *fakeOpRepo
	conns     *stubConnService
	adapter   *stubAdapter
	publisher *events.MemoryPublisher
	svc       *SyncServiceImpl
	sleeps    []time.Duration
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	conn := &connection.Connection{
		ID:              "conn-1",
		Owner:           connection.Owner{Type: connection.OwnerDriver, ID: "drv-1"},
		ProviderType:    providers.ProviderKeepTruckin,
		IntegrationType: providers.IntegrationAPIKey,
		Status:          connection.StatusActive,
		Settings: connection.Settings{
			EntityScope: []providers.EntityType{providers.EntityDrivers, providers.EntityVehicles},
		},
	}

	f := &syncFixture{
		repo:      newFakeOpRepo(),
		conns:     &stubConnService{conn: conn},
		adapter:   &stubAdapter{},
		publisher: events.NewMemoryPublisher(),
	}
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		return &providers.Page{Records: []map[string]any{{"id": "r-1"}}}, nil
	}

	v := vault.NewMemoryVault()
	require.NoError(t, v.Write(context.Background(), conn.ID, &providers.Credential{
		Type:   providers.IntegrationAPIKey,
		APIKey: &providers.APIKeyCredential{Key: "k", Secret: "s"},
	}))

	registry := providers.NewRegistryWith(f.adapter)
	guard := connection.NewRefreshGuard(f.conns, v, registry, zap.NewNop())

	svc := NewSyncService(f.repo, f.conns, guard, registry, f.publisher,
		events.NewMonotonicGuard(time.Hour), zap.NewNop()).(*SyncServiceImpl)
	svc.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.svc = svc
	return f
}

func TestRequestSyncAllEntitiesSucceed(t *testing.T) {
	f := newSyncFixture(t)

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, op.Status)
	assert.Len(t, op.Results, 2)
	for _, entity := range []providers.EntityType{providers.EntityDrivers, providers.EntityVehicles} {
		assert.Equal(t, EntitySuccess, op.Results[entity].Status)
		assert.Equal(t, 1, op.Results[entity].Processed)
	}
	assert.NotNil(t, op.CompletedAt)
	assert.NotNil(t, f.conns.lastSyncAt)

	evts := f.publisher.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.EventSyncCompleted, evts[0].Type)
	assert.Equal(t, "success", evts[0].Data["status"])
}

func TestRequestSyncFollowsPagination(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(entity providers.EntityType, cursor string) (*providers.Page, error) {
		if cursor == "" {
			return &providers.Page{
				Records:    []map[string]any{{"id": "a"}, {"id": "b"}},
				NextCursor: "page-2",
			}, nil
		}
		return &providers.Page{Records: []map[string]any{{"id": "c"}}}, nil
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{
		ConnectionID: "conn-1",
		EntityTypes:  []providers.EntityType{providers.EntityDrivers},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, op.Results[providers.EntityDrivers].Processed)
}

func TestRequestSyncPartialFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(entity providers.EntityType, _ string) (*providers.Page, error) {
		if entity == providers.EntityVehicles {
			return nil, apperrors.Validation("vehicles endpoint rejected request")
		}
		return &providers.Page{Records: []map[string]any{{"id": "d-1"}}}, nil
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusPartialFailure, op.Status)
	assert.Equal(t, EntitySuccess, op.Results[providers.EntityDrivers].Status)
	assert.Equal(t, EntityFailed, op.Results[providers.EntityVehicles].Status)

	// Partial failures still advance last_sync_at and keep the failure text.
	assert.NotNil(t, f.conns.lastSyncAt)
	assert.Contains(t, f.conns.failMessage, "vehicles")
}

func TestRequestSyncAllFailed(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		return nil, apperrors.Validation("nope")
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, op.Status)
	assert.Nil(t, f.conns.lastSyncAt)
	assert.NotEmpty(t, f.conns.failMessage)
}

func TestRequestSyncRetriesTransientFailures(t *testing.T) {
	f := newSyncFixture(t)
	attempts := 0
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		attempts++
		if attempts == 1 {
			return nil, apperrors.RateLimited(7*time.Second, "slow down")
		}
		return &providers.Page{Records: []map[string]any{{"id": "r"}}}, nil
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{
		ConnectionID: "conn-1",
		EntityTypes:  []providers.EntityType{providers.EntityDrivers},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, op.Status)

	// The Retry-After hint outranked the base backoff.
	require.Len(t, f.sleeps, 1)
	assert.Equal(t, 7*time.Second, f.sleeps[0])
}

func TestRequestSyncGivesUpAfterMaxAttempts(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		return nil, apperrors.Unavailable("still down")
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{
		ConnectionID: "conn-1",
		EntityTypes:  []providers.EntityType{providers.EntityDrivers},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, op.Status)

	// KeepTruckin's budget is three attempts.
	assert.Equal(t, 3, f.adapter.calls)
}

func TestRequestSyncAuthFailureMarksConnection(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		return nil, apperrors.Authentication("token rejected")
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, op.Status)
	assert.Contains(t, f.conns.transitions, connection.StatusError)
}

func TestRequestSyncAuthFailureKeepsExpiredStatus(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		// A refresh failure mid-run lands the connection in EXPIRED before
		// the entity error surfaces.
		f.conns.mu.Lock()
		f.conns.conn.Status = connection.StatusExpired
		f.conns.mu.Unlock()
		return nil, apperrors.Authentication("token expired")
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, op.Status)

	// EXPIRED is more specific than ERROR and must survive the failed run.
	assert.Empty(t, f.conns.transitions)
	assert.Equal(t, connection.StatusExpired, f.conns.conn.Status)
}

func TestRequestSyncConflictWhenInFlight(t *testing.T) {
	f := newSyncFixture(t)

	f.svc.mu.Lock()
	f.svc.running["conn-1"] = &inflight{opID: "other"}
	f.svc.mu.Unlock()

	_, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelForConnectionSkipsRemainingEntities(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(entity providers.EntityType, _ string) (*providers.Page, error) {
		// First entity cancels the operation mid-flight; the second entity
		// type must not be attempted.
		f.svc.CancelForConnection("conn-1")
		return &providers.Page{Records: []map[string]any{{"id": "r"}}}, nil
	}

	op, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusPartialFailure, op.Status)
	assert.Equal(t, EntitySuccess, op.Results[providers.EntityDrivers].Status)
	assert.Equal(t, "cancelled", op.Results[providers.EntityVehicles].Error)
	assert.Equal(t, 1, f.adapter.calls)
}

func TestRequestSyncValidation(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "missing"})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.RequestSync(context.Background(), SyncRequest{
		ConnectionID: "conn-1",
		EntityTypes:  []providers.EntityType{"trailers"},
	})
	assert.True(t, apperrors.IsValidation(err))

	start := time.Now()
	end := start.Add(-time.Hour)
	_, err = f.svc.RequestSync(context.Background(), SyncRequest{
		ConnectionID: "conn-1",
		StartDate:    &start,
		EndDate:      &end,
	})
	assert.True(t, apperrors.IsValidation(err))

	f.conns.conn.Settings.EntityScope = nil
	_, err = f.svc.RequestSync(context.Background(), SyncRequest{ConnectionID: "conn-1"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestRequestSyncSkipsStaleRecords(t *testing.T) {
	f := newSyncFixture(t)
	f.adapter.syncFn = func(providers.EntityType, string) (*providers.Page, error) {
		return &providers.Page{Records: []map[string]any{
			{"id": "d-1", "updated_at": "2026-08-25T10:00:00Z"},
		}}, nil
	}

	req := SyncRequest{
		ConnectionID: "conn-1",
		EntityTypes:  []providers.EntityType{providers.EntityDrivers},
	}
	op, err := f.svc.RequestSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, op.Results[providers.EntityDrivers].Processed)

	// A second pull of the same record at the same timestamp applies nothing.
	op, err = f.svc.RequestSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, op.Results[providers.EntityDrivers].Processed)
	assert.Equal(t, EntitySuccess, op.Results[providers.EntityDrivers].Status)
}
