package freight

import (
	"context"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/features/connection"
	"go-freight/internal/providers"

	"go.uber.org/zap"
)

// FreightService is the request/response surface over a single connection:
// pushing loads to TMS providers and reading driver state from ELD providers.
// Every call goes through the refresh guard so tokens are fresh at call time.
type FreightService interface {
	PushLoad(ctx context.Context, connectionID string, load providers.Load) error
	UpdateLoadStatus(ctx context.Context, connectionID, loadID, status string) error

	DriverHOS(ctx context.Context, connectionID, driverID string) (*providers.HOSStatus, error)
	DriverHOSLogs(ctx context.Context, connectionID, driverID string, window *providers.Window) ([]providers.HOSLog, error)
	DriverLocation(ctx context.Context, connectionID, driverID string) (*providers.Location, error)
}

type FreightServiceImpl struct {
	Connections connection.ConnectionService
	Guard       *connection.RefreshGuard
	Registry    *providers.Registry
	Logger      *zap.Logger
}

func NewFreightService(connections connection.ConnectionService, guard *connection.RefreshGuard, registry *providers.Registry, logger *zap.Logger) FreightService {
	return &FreightServiceImpl{
		Connections: connections,
		Guard:       guard,
		Registry:    registry,
		Logger:      logger,
	}
}

// prepare resolves the connection, its adapter and a fresh credential, and
// rejects calls against connections that are not ACTIVE.
func (s *FreightServiceImpl) prepare(ctx context.Context, connectionID string) (*connection.Connection, providers.Adapter, *providers.Credential, error) {
	conn, err := s.Connections.Get(ctx, connectionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if conn.Status != connection.StatusActive {
		return nil, nil, nil, apperrors.Conflict("connection %s is %s, not active", conn.ID, conn.Status)
	}

	adapter, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return nil, nil, nil, err
	}

	cred, err := s.Guard.Ensure(ctx, conn)
	if err != nil {
		return nil, nil, nil, err
	}
	return conn, adapter, cred, nil
}

// providerDriverID translates an internal driver id through the connection's
// driver map. An unmapped id is passed through untouched: connections owned
// by a single driver often use the provider id directly.
func providerDriverID(conn *connection.Connection, driverID string) string {
	if mapped, ok := conn.Settings.DriverMap[driverID]; ok {
		return mapped
	}
	return driverID
}

func (s *FreightServiceImpl) PushLoad(ctx context.Context, connectionID string, load providers.Load) error {
	if load.ReferenceNo == "" {
		return apperrors.Validation("load reference_no is required")
	}

	conn, adapter, cred, err := s.prepare(ctx, connectionID)
	if err != nil {
		return err
	}

	if err := adapter.PushLoad(ctx, cred, load); err != nil {
		return err
	}
	s.Logger.Info("load pushed",
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.ProviderType)),
		zap.String("reference_no", load.ReferenceNo))
	return nil
}

func (s *FreightServiceImpl) UpdateLoadStatus(ctx context.Context, connectionID, loadID, status string) error {
	if status == "" {
		return apperrors.Validation("status is required")
	}

	conn, adapter, cred, err := s.prepare(ctx, connectionID)
	if err != nil {
		return err
	}

	if err := adapter.UpdateLoadStatus(ctx, cred, loadID, status); err != nil {
		return err
	}
	s.Logger.Info("load status updated",
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.ProviderType)),
		zap.String("load_id", loadID),
		zap.String("status", status))
	return nil
}

func (s *FreightServiceImpl) DriverHOS(ctx context.Context, connectionID, driverID string) (*providers.HOSStatus, error) {
	conn, adapter, cred, err := s.prepare(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return adapter.DriverHOS(ctx, cred, providerDriverID(conn, driverID))
}

func (s *FreightServiceImpl) DriverHOSLogs(ctx context.Context, connectionID, driverID string, window *providers.Window) ([]providers.HOSLog, error) {
	conn, adapter, cred, err := s.prepare(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return adapter.DriverHOSLogs(ctx, cred, providerDriverID(conn, driverID), window)
}

func (s *FreightServiceImpl) DriverLocation(ctx context.Context, connectionID, driverID string) (*providers.Location, error) {
	conn, adapter, cred, err := s.prepare(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return adapter.DriverLocation(ctx, cred, providerDriverID(conn, driverID))
}
