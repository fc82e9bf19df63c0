package connection

import (
	"context"
	"strings"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/events"
	"go-freight/internal/providers"
	"go-freight/internal/vault"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// SyncCanceller requests cooperative cancellation of any in-flight sync for a
// connection. Implemented by the sync orchestrator; injected as an interface
// to keep the dependency one-way.
type SyncCanceller interface {
	CancelForConnection(connectionID string)
}

// NoopCanceller satisfies SyncCanceller before the orchestrator is wired.
type NoopCanceller struct{}

func (NoopCanceller) CancelForConnection(string) {}

type CreateParams struct {
	Owner        Owner                  `json:"owner"`
	ProviderType providers.ProviderType `json:"provider_type"`
	Credential   *providers.Credential  `json:"credential"`
	Settings     Settings               `json:"settings"`
}

type UpdateParams struct {
	Settings   *Settings             `json:"settings,omitempty"`
	Credential *providers.Credential `json:"credential,omitempty"`
}

type ConnectionService interface {
	Create(ctx context.Context, params CreateParams) (*Connection, error)
	Get(ctx context.Context, id string) (*Connection, error)
	GetByOwner(ctx context.Context, owner Owner) ([]Connection, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Connection, error)
	Delete(ctx context.Context, id string) error
	Validate(ctx context.Context, id string) (bool, error)
	ListActive(ctx context.Context) ([]Connection, error)
	// GetByProviderAccount resolves the connection a webhook belongs to from
	// the provider-side account identifier in its payload.
	GetByProviderAccount(ctx context.Context, provider providers.ProviderType, accountID string) (*Connection, error)

	// RecordSyncOutcome stamps last_sync_at after a sync that processed at
	// least one entity type successfully; errorMessage carries any partial
	// failures. RecordSyncFailure updates only the error message.
	RecordSyncOutcome(ctx context.Context, id string, at time.Time, errorMessage string) error
	RecordSyncFailure(ctx context.Context, id string, errorMessage string) error

	GetAuthorizationURL(ctx context.Context, provider providers.ProviderType, redirectURI, state string) (string, error)
	ExchangeCode(ctx context.Context, driverID string, provider providers.ProviderType, code, redirectURI string) (*Connection, error)

	// Transition moves a connection through the status graph, rejecting
	// edges that are not part of it. Used by validation, the refresh guard
	// and webhook-driven revocation.
	Transition(ctx context.Context, id string, to Status, errorMessage string) error

	// PersistCredential writes a credential through the compare-and-set
	// update path so a refresh racing a revocation cannot be lost.
	PersistCredential(ctx context.Context, conn *Connection, cred *providers.Credential) error

	// SetSyncCanceller wires the orchestrator in after construction; the two
	// services depend on each other, so this side is bound late.
	SetSyncCanceller(c SyncCanceller)
}

type ConnectionServiceImpl struct {
	Repo      ConnectionRepository
	Vault     vault.Vault
	Registry  *providers.Registry
	Publisher events.Publisher
	Canceller SyncCanceller
	Logger    *zap.Logger

	now func() time.Time
}

func NewConnectionService(repo ConnectionRepository, v vault.Vault, registry *providers.Registry, publisher events.Publisher, logger *zap.Logger) ConnectionService {
	return &ConnectionServiceImpl{
		Repo:      repo,
		Vault:     v,
		Registry:  registry,
		Publisher: publisher,
		Canceller: NoopCanceller{},
		Logger:    logger,
		now:       time.Now,
	}
}

func (s *ConnectionServiceImpl) SetSyncCanceller(c SyncCanceller) {
	s.Canceller = c
}

func (s *ConnectionServiceImpl) Create(ctx context.Context, params CreateParams) (*Connection, error) {
	adapter, err := s.Registry.Get(params.ProviderType)
	if err != nil {
		return nil, err
	}
	if params.Owner.ID == "" || params.Owner.Type == "" {
		return nil, apperrors.Validation("owner is required")
	}

	cred := params.Credential
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if cred.Type != adapter.Integration() {
		return nil, apperrors.Validation("%s connections use %s credentials, got %s",
			params.ProviderType, adapter.Integration(), cred.Type)
	}

	existing, err := s.Repo.GetActiveByOwnerProvider(ctx, params.Owner, params.ProviderType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("an active %s connection already exists for %s %s",
			params.ProviderType, params.Owner.Type, params.Owner.ID)
	}

	conn := &Connection{
		ID:              uuid.NewString(),
		Owner:           params.Owner,
		ProviderType:    params.ProviderType,
		IntegrationType: adapter.Integration(),
		Settings:        params.Settings,
		Status:          StatusPending,
	}

	// Try to prove the credential synchronously; fall back to PENDING with a
	// background attempt when the provider is slow or down.
	if err := adapter.TestConnection(ctx, cred); err == nil {
		conn.Status = StatusActive
	} else if apperrors.IsValidation(err) || apperrors.IsAuthentication(err) {
		return nil, err
	}

	if err := s.Repo.Create(ctx, conn); err != nil {
		return nil, err
	}
	if err := s.Vault.Write(ctx, conn.ID, cred); err != nil {
		// Roll the record back rather than leave a connection with no secret.
		_ = s.Repo.Delete(ctx, conn.ID)
		return nil, err
	}

	if conn.Status == StatusPending {
		go s.backgroundValidate(conn.ID)
	}

	s.Logger.Info("connection created",
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.ProviderType)),
		zap.String("status", string(conn.Status)))
	return conn, nil
}

func (s *ConnectionServiceImpl) backgroundValidate(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := s.Validate(ctx, id); err != nil {
		s.Logger.Warn("background validation failed", zap.String("connection_id", id), zap.Error(err))
	}
}

func (s *ConnectionServiceImpl) Get(ctx context.Context, id string) (*Connection, error) {
	return s.Repo.Get(ctx, id)
}

func (s *ConnectionServiceImpl) GetByOwner(ctx context.Context, owner Owner) ([]Connection, error) {
	return s.Repo.FindByOwner(ctx, owner)
}

func (s *ConnectionServiceImpl) ListActive(ctx context.Context) ([]Connection, error) {
	return s.Repo.ListActive(ctx)
}

func (s *ConnectionServiceImpl) GetByProviderAccount(ctx context.Context, provider providers.ProviderType, accountID string) (*Connection, error) {
	return s.Repo.FindByProviderAccount(ctx, provider, accountID)
}

func (s *ConnectionServiceImpl) RecordSyncOutcome(ctx context.Context, id string, at time.Time, errorMessage string) error {
	return s.Repo.Update(ctx, id, bson.M{"last_sync_at": at, "error_message": errorMessage})
}

func (s *ConnectionServiceImpl) RecordSyncFailure(ctx context.Context, id string, errorMessage string) error {
	return s.Repo.Update(ctx, id, bson.M{"error_message": errorMessage})
}

func (s *ConnectionServiceImpl) Update(ctx context.Context, id string, params UpdateParams) (*Connection, error) {
	conn, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := bson.M{}
	if params.Settings != nil {
		updates["settings"] = *params.Settings
	}

	if params.Credential != nil {
		adapter, err := s.Registry.Get(conn.ProviderType)
		if err != nil {
			return nil, err
		}
		if err := params.Credential.Validate(); err != nil {
			return nil, err
		}
		if params.Credential.Type != conn.IntegrationType {
			return nil, apperrors.Validation("connection %s uses %s credentials, got %s",
				id, conn.IntegrationType, params.Credential.Type)
		}

		// New secret material: re-validate and let the result drive status.
		if err := adapter.TestConnection(ctx, params.Credential); err != nil {
			if CanTransition(conn.Status, StatusError) {
				updates["status"] = StatusError
				updates["error_message"] = err.Error()
			}
		} else if CanTransition(conn.Status, StatusActive) {
			updates["status"] = StatusActive
			updates["error_message"] = ""
		}

		if err := s.Vault.Write(ctx, id, params.Credential); err != nil {
			return nil, err
		}
	}

	if len(updates) > 0 {
		if err := s.Repo.UpdateCAS(ctx, id, updates, conn.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return s.Repo.Get(ctx, id)
}

func (s *ConnectionServiceImpl) Delete(ctx context.Context, id string) error {
	if _, err := s.Repo.Get(ctx, id); err != nil {
		return err
	}

	// Ask the orchestrator to wind down any in-flight sync first; provider
	// calls in progress finish or time out on their own.
	s.Canceller.CancelForConnection(id)

	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.Vault.Delete(ctx, id); err != nil {
		s.Logger.Warn("failed to purge credential", zap.String("connection_id", id), zap.Error(err))
	}

	s.Logger.Info("connection deleted", zap.String("connection_id", id))
	return nil
}

func (s *ConnectionServiceImpl) Validate(ctx context.Context, id string) (bool, error) {
	conn, err := s.Repo.Get(ctx, id)
	if err != nil {
		return false, err
	}

	// Revoked is terminal: report invalid without touching status.
	if conn.Status == StatusRevoked {
		return false, nil
	}

	adapter, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return false, err
	}

	cred, err := s.Vault.Read(ctx, id)
	if err != nil {
		return false, err
	}

	if err := adapter.TestConnection(ctx, cred); err != nil {
		if apperrors.IsAuthentication(err) {
			target := StatusError
			if cred.Type == providers.IntegrationOAuth &&
				!cred.OAuth.ExpiresAt.After(s.now()) && cred.OAuth.RefreshToken == "" &&
				CanTransition(conn.Status, StatusExpired) {
				target = StatusExpired
			}
			// A connection already in the other failure state stays there;
			// the graph has no edge between ERROR and EXPIRED.
			if CanTransition(conn.Status, target) {
				if transErr := s.Transition(ctx, id, target, err.Error()); transErr != nil {
					s.Logger.Warn("validate transition failed", zap.String("connection_id", id), zap.Error(transErr))
				}
			}
		}
		return false, nil
	}

	if conn.Status != StatusActive {
		if err := s.Transition(ctx, id, StatusActive, ""); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *ConnectionServiceImpl) GetAuthorizationURL(ctx context.Context, provider providers.ProviderType, redirectURI, state string) (string, error) {
	adapter, err := s.Registry.Get(provider)
	if err != nil {
		return "", err
	}
	return adapter.AuthorizationURL(redirectURI, state)
}

func (s *ConnectionServiceImpl) ExchangeCode(ctx context.Context, driverID string, provider providers.ProviderType, code, redirectURI string) (*Connection, error) {
	adapter, err := s.Registry.Get(provider)
	if err != nil {
		return nil, err
	}

	cred, err := adapter.Authenticate(ctx, providers.AuthArtifact{Code: code, RedirectURI: redirectURI})
	if err != nil {
		return nil, err
	}

	return s.Create(ctx, CreateParams{
		Owner:        Owner{Type: OwnerDriver, ID: driverID},
		ProviderType: provider,
		Credential:   cred,
	})
}

func (s *ConnectionServiceImpl) Transition(ctx context.Context, id string, to Status, errorMessage string) error {
	conn, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if conn.Status == to {
		if errorMessage == "" || errorMessage == conn.ErrorMessage {
			return nil
		}
	}
	if !CanTransition(conn.Status, to) {
		return apperrors.Conflict("connection %s cannot move from %s to %s", id, conn.Status, to)
	}

	updates := bson.M{"status": to, "error_message": errorMessage}
	if err := s.Repo.Update(ctx, id, updates); err != nil {
		return err
	}

	s.Logger.Info("connection status changed",
		zap.String("connection_id", id),
		zap.String("provider", string(conn.ProviderType)),
		zap.String("from", string(conn.Status)),
		zap.String("to", string(to)))

	if to == StatusRevoked {
		s.Publisher.Publish(ctx, events.CanonicalEvent{
			ID:           uuid.NewString(),
			Type:         events.EventConnectionRevoked,
			ConnectionID: id,
			Provider:     string(conn.ProviderType),
			OccurredAt:   s.now().UTC(),
		})
	} else if to == StatusError && errorMessage != "" {
		s.Publisher.Publish(ctx, events.CanonicalEvent{
			ID:           uuid.NewString(),
			Type:         events.EventConnectionError,
			ConnectionID: id,
			Provider:     string(conn.ProviderType),
			OccurredAt:   s.now().UTC(),
			Data:         map[string]any{"error": strings.TrimSpace(errorMessage)},
		})
	}
	return nil
}

func (s *ConnectionServiceImpl) PersistCredential(ctx context.Context, conn *Connection, cred *providers.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	// The CAS on updated_at is what stops a just-in-time refresh from
	// resurrecting a connection a webhook revoked in the meantime.
	if err := s.Repo.UpdateCAS(ctx, conn.ID, bson.M{}, conn.UpdatedAt); err != nil {
		return err
	}
	if err := s.Vault.Write(ctx, conn.ID, cred); err != nil {
		return err
	}
	fresh, err := s.Repo.Get(ctx, conn.ID)
	if err == nil {
		conn.UpdatedAt = fresh.UpdatedAt
	}
	return nil
}
