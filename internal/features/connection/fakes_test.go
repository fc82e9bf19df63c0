package connection

import (
	"context"
	"sync"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/providers"

	"go.mongodb.org/mongo-driver/bson"
)

// fakeRepo is an in-memory ConnectionRepository mirroring the Mongo
// implementation's semantics, including the CAS on updated_at.
type fakeRepo struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{conns: make(map[string]*Connection)}
}

func cloneConn(c *Connection) *Connection {
	cp := *c
	return &cp
}

func (r *fakeRepo) Create(_ context.Context, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mirror of the partial unique index on (owner, provider, status=active).
	if conn.Status == StatusActive {
		for _, c := range r.conns {
			if c.Owner == conn.Owner && c.ProviderType == conn.ProviderType && c.Status == StatusActive {
				return apperrors.Conflict("an active %s connection already exists for %s %s",
					conn.ProviderType, conn.Owner.Type, conn.Owner.ID)
			}
		}
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	r.conns[conn.ID] = cloneConn(conn)
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, apperrors.NotFound("connection %s not found", id)
	}
	return cloneConn(c), nil
}

func (r *fakeRepo) FindByOwner(_ context.Context, owner Owner) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Connection
	for _, c := range r.conns {
		if c.Owner == owner {
			out = append(out, *cloneConn(c))
		}
	}
	return out, nil
}

func (r *fakeRepo) GetActiveByOwnerProvider(_ context.Context, owner Owner, provider providers.ProviderType) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.Owner == owner && c.ProviderType == provider && c.Status == StatusActive {
			return cloneConn(c), nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindByProviderAccount(_ context.Context, provider providers.ProviderType, accountID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.ProviderType == provider && c.Settings.ProviderAccountID == accountID {
			return cloneConn(c), nil
		}
	}
	return nil, apperrors.NotFound("no %s connection for account %s", provider, accountID)
}

func (r *fakeRepo) ListActive(_ context.Context) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Connection
	for _, c := range r.conns {
		if c.Status == StatusActive {
			out = append(out, *cloneConn(c))
		}
	}
	return out, nil
}

func applyUpdates(c *Connection, updates bson.M) {
	for k, v := range updates {
		switch k {
		case "status":
			c.Status = v.(Status)
		case "error_message":
			c.ErrorMessage = v.(string)
		case "settings":
			s := v.(Settings)
			c.Settings = s
		case "last_sync_at":
			t := v.(time.Time)
			c.LastSyncAt = &t
		}
	}
}

func (r *fakeRepo) Update(_ context.Context, id string, updates bson.M) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return apperrors.NotFound("connection %s not found", id)
	}
	applyUpdates(c, updates)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) UpdateCAS(_ context.Context, id string, updates bson.M, prevUpdatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return apperrors.NotFound("connection %s not found", id)
	}
	if !c.UpdatedAt.Equal(prevUpdatedAt) {
		return apperrors.Conflict("connection %s was modified concurrently", id)
	}
	applyUpdates(c, updates)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return apperrors.NotFound("connection %s not found", id)
	}
	delete(r.conns, id)
	return nil
}

func (r *fakeRepo) EnsureIndexes(context.Context) error { return nil }

// fakeAdapter is a scriptable providers.Adapter. Unset hooks fall back to
// benign defaults.
type fakeAdapter struct {
	typ         providers.ProviderType
	category    providers.Category
	integration providers.IntegrationType

	testErr    error
	refreshFn  func(ctx context.Context, cred *providers.Credential) (*providers.Credential, error)
	authFn     func(ctx context.Context, artifact providers.AuthArtifact) (*providers.Credential, error)
	syncFn     func(ctx context.Context, cred *providers.Credential, entity providers.EntityType, window *providers.Window, cursor string) (*providers.Page, error)
	verifyErr  error
	parseFn    func(payload []byte) (*providers.ProviderEvent, error)
	refreshes  int
	testCalls  int
}

func newFakeAdapter(p providers.ProviderType) *fakeAdapter {
	return &fakeAdapter{
		typ:         p,
		category:    providers.CategoryELD,
		integration: providers.IntegrationOAuth,
	}
}

func (a *fakeAdapter) Type() providers.ProviderType            { return a.typ }
func (a *fakeAdapter) Category() providers.Category            { return a.category }
func (a *fakeAdapter) Integration() providers.IntegrationType  { return a.integration }

func (a *fakeAdapter) Authenticate(ctx context.Context, artifact providers.AuthArtifact) (*providers.Credential, error) {
	if a.authFn != nil {
		return a.authFn(ctx, artifact)
	}
	return nil, providers.ErrNotSupported(a.typ, "authenticate")
}

func (a *fakeAdapter) AuthorizationURL(redirectURI, state string) (string, error) {
	return "https://auth.example.com/authorize?state=" + state, nil
}

func (a *fakeAdapter) RefreshToken(ctx context.Context, cred *providers.Credential) (*providers.Credential, error) {
	a.refreshes++
	if a.refreshFn != nil {
		return a.refreshFn(ctx, cred)
	}
	return nil, providers.ErrNotSupported(a.typ, "token refresh")
}

func (a *fakeAdapter) TestConnection(context.Context, *providers.Credential) error {
	a.testCalls++
	return a.testErr
}

func (a *fakeAdapter) SyncEntity(ctx context.Context, cred *providers.Credential, entity providers.EntityType, window *providers.Window, cursor string) (*providers.Page, error) {
	if a.syncFn != nil {
		return a.syncFn(ctx, cred, entity, window, cursor)
	}
	return &providers.Page{}, nil
}

func (a *fakeAdapter) PushLoad(context.Context, *providers.Credential, providers.Load) error {
	return providers.ErrNotSupported(a.typ, "load push")
}

func (a *fakeAdapter) UpdateLoadStatus(context.Context, *providers.Credential, string, string) error {
	return providers.ErrNotSupported(a.typ, "load status updates")
}

func (a *fakeAdapter) DriverHOS(context.Context, *providers.Credential, string) (*providers.HOSStatus, error) {
	return nil, providers.ErrNotSupported(a.typ, "driver HOS reads")
}

func (a *fakeAdapter) DriverHOSLogs(context.Context, *providers.Credential, string, *providers.Window) ([]providers.HOSLog, error) {
	return nil, providers.ErrNotSupported(a.typ, "driver HOS log reads")
}

func (a *fakeAdapter) DriverLocation(context.Context, *providers.Credential, string) (*providers.Location, error) {
	return nil, providers.ErrNotSupported(a.typ, "driver location reads")
}

func (a *fakeAdapter) VerifyWebhook(string, []byte, string) error { return a.verifyErr }

func (a *fakeAdapter) ParseWebhook(payload []byte) (*providers.ProviderEvent, error) {
	if a.parseFn != nil {
		return a.parseFn(payload)
	}
	return nil, providers.ErrNotSupported(a.typ, "webhooks")
}
