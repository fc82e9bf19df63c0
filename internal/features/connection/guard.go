package connection

import (
	"context"
	"sync"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/metrics"
	"go-freight/internal/providers"
	"go-freight/internal/vault"

	"go.uber.org/zap"
)

// RefreshMargin is how close to expiry a token may get before every outbound
// call refreshes it first.
const RefreshMargin = 5 * time.Minute

// RefreshGuard wraps every authenticated adapter call: it hands back a
// credential guaranteed to be fresh at call time, refreshing just in time
// when an OAuth token is inside the safety margin. Non-OAuth integrations
// pass straight through.
type RefreshGuard struct {
	Service  ConnectionService
	Vault    vault.Vault
	Registry *providers.Registry
	Logger   *zap.Logger

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRefreshGuard(service ConnectionService, v vault.Vault, registry *providers.Registry, logger *zap.Logger) *RefreshGuard {
	return &RefreshGuard{
		Service:  service,
		Vault:    v,
		Registry: registry,
		Logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// connLock returns the per-connection mutex so concurrent callers share one
// refresh instead of racing the token endpoint.
func (g *RefreshGuard) connLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

// Ensure returns a credential safe to call the provider with. On refresh
// failure the connection is marked EXPIRED (REVOKED when the provider signals
// a permanent revocation) and the original call is aborted with an
// authentication error — a stale token is never sent.
func (g *RefreshGuard) Ensure(ctx context.Context, conn *Connection) (*providers.Credential, error) {
	cred, err := g.Vault.Read(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	if conn.IntegrationType != providers.IntegrationOAuth {
		return cred, nil
	}
	if g.fresh(cred) {
		return cred, nil
	}

	lock := g.connLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: another caller may have refreshed already.
	cred, err = g.Vault.Read(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	if g.fresh(cred) {
		return cred, nil
	}

	adapter, err := g.Registry.Get(conn.ProviderType)
	if err != nil {
		return nil, err
	}

	refreshed, err := adapter.RefreshToken(ctx, cred)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(conn.ProviderType), "failure").Inc()
		return nil, g.handleRefreshFailure(ctx, conn, err)
	}

	if err := g.Service.PersistCredential(ctx, conn, refreshed); err != nil {
		// Lost the CAS race (likely a concurrent revocation). Do not use the
		// new token against a connection whose state we no longer know.
		metrics.TokenRefreshes.WithLabelValues(string(conn.ProviderType), "conflict").Inc()
		return nil, err
	}

	metrics.TokenRefreshes.WithLabelValues(string(conn.ProviderType), "success").Inc()
	g.Logger.Debug("token refreshed", zap.String("connection_id", conn.ID), zap.String("provider", string(conn.ProviderType)))
	return refreshed, nil
}

func (g *RefreshGuard) fresh(cred *providers.Credential) bool {
	return cred.OAuth != nil && cred.OAuth.ExpiresAt.After(g.now().Add(RefreshMargin))
}

func (g *RefreshGuard) handleRefreshFailure(ctx context.Context, conn *Connection, err error) error {
	if apperrors.IsAuthentication(err) {
		target := StatusExpired
		if apperrors.IsPermanentAuth(err) {
			target = StatusRevoked
		}
		if transErr := g.Service.Transition(ctx, conn.ID, target, err.Error()); transErr != nil {
			g.Logger.Warn("refresh-failure transition failed",
				zap.String("connection_id", conn.ID), zap.Error(transErr))
		}
		return err
	}
	// Transient token-endpoint trouble: surface as-is, status untouched.
	return err
}
