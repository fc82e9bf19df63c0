package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/events"
	"go-freight/internal/features/connection"
	"go-freight/internal/metrics"
	"go-freight/internal/providers"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// operationBudget bounds a whole SyncOperation; entity types still
	// pending when it runs out are finalized as failed.
	operationBudget = 5 * time.Minute

	defaultListLimit = 20
)

type SyncService interface {
	RequestSync(ctx context.Context, req SyncRequest) (*SyncOperation, error)
	Get(ctx context.Context, id string) (*SyncOperation, error)
	List(ctx context.Context, connectionID string, limit int64) ([]SyncOperation, error)
	// CancelForConnection flags the in-flight operation for a connection;
	// the run loop notices between entity types.
	CancelForConnection(connectionID string)
	// ProcessScheduledSyncs kicks off syncs for connections whose configured
	// frequency has elapsed.
	ProcessScheduledSyncs(ctx context.Context)
}

// inflight tracks the single permitted non-terminal operation per connection.
type inflight struct {
	opID      string
	cancelled bool
	mu        gosync.Mutex
}

func (f *inflight) cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

func (f *inflight) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type SyncServiceImpl struct {
	Repo        SyncOperationRepository
	Connections connection.ConnectionService
	Guard       *connection.RefreshGuard
	Registry    *providers.Registry
	Publisher   events.Publisher
	StateGuard  *events.MonotonicGuard
	Logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        gosync.Mutex
	running   map[string]*inflight
	semaphore map[providers.ProviderType]chan struct{}
}

func NewSyncService(repo SyncOperationRepository, connections connection.ConnectionService, guard *connection.RefreshGuard, registry *providers.Registry, publisher events.Publisher, stateGuard *events.MonotonicGuard, logger *zap.Logger) SyncService {
	return &SyncServiceImpl{
		Repo:        repo,
		Connections: connections,
		Guard:       guard,
		Registry:    registry,
		Publisher:   publisher,
		StateGuard:  stateGuard,
		Logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
		running:     make(map[string]*inflight),
		semaphore:   make(map[providers.ProviderType]chan struct{}),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// acquire takes a slot on the per-provider semaphore so aggregate concurrency
// against one vendor stays inside its rate policy.
func (s *SyncServiceImpl) acquire(ctx context.Context, p providers.ProviderType) (release func(), err error) {
	s.mu.Lock()
	sem, ok := s.semaphore[p]
	if !ok {
		sem = make(chan struct{}, s.Registry.Profile(p).MaxConcurrent)
		s.semaphore[p] = sem
	}
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.ClassProviderUnavailable, ctx.Err(), "timed out waiting for a %s slot", p)
	}
}

func (s *SyncServiceImpl) RequestSync(ctx context.Context, req SyncRequest) (*SyncOperation, error) {
	conn, err := s.Connections.Get(ctx, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	entityTypes, err := s.resolveEntityTypes(conn, req)
	if err != nil {
		return nil, err
	}

	op := &SyncOperation{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		EntityTypes:  entityTypes,
		Force:        req.Force,
		WindowStart:  req.StartDate,
		WindowEnd:    req.EndDate,
		Status:       StatusRequested,
		Results:      make(map[providers.EntityType]EntityResult, len(entityTypes)),
		StartedAt:    s.now().UTC(),
	}

	// At-most-one-in-flight per connection: reserve the slot before any work.
	flight := &inflight{opID: op.ID}
	s.mu.Lock()
	if _, exists := s.running[conn.ID]; exists {
		s.mu.Unlock()
		return nil, apperrors.Conflict("a sync is already in flight for connection %s", conn.ID)
	}
	s.running[conn.ID] = flight
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, conn.ID)
		s.mu.Unlock()
	}()

	if err := s.Repo.Create(ctx, op); err != nil {
		return nil, err
	}

	s.run(ctx, conn, op, flight)
	return op, nil
}

func (s *SyncServiceImpl) resolveEntityTypes(conn *connection.Connection, req SyncRequest) ([]providers.EntityType, error) {
	entityTypes := req.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = conn.Settings.EntityScope
	}
	if len(entityTypes) == 0 {
		return nil, apperrors.Validation("no entity types requested and connection %s has no configured scope", conn.ID)
	}

	seen := make(map[providers.EntityType]bool, len(entityTypes))
	out := make([]providers.EntityType, 0, len(entityTypes))
	for _, et := range entityTypes {
		if !providers.ValidEntityType(string(et)) {
			return nil, apperrors.Validation("unknown entity type: %s", et)
		}
		if !seen[et] {
			seen[et] = true
			out = append(out, et)
		}
	}
	if req.StartDate != nil && req.EndDate != nil && !req.EndDate.After(*req.StartDate) {
		return nil, apperrors.Validation("end_date must be after start_date")
	}
	return out, nil
}

func (s *SyncServiceImpl) run(ctx context.Context, conn *connection.Connection, op *SyncOperation, flight *inflight) {
	opCtx, cancel := context.WithTimeout(ctx, operationBudget)
	defer cancel()

	op.Status = StatusInProgress
	if err := s.Repo.Update(opCtx, op); err != nil {
		s.Logger.Warn("failed to persist sync progress", zap.String("sync_id", op.ID), zap.Error(err))
	}

	adapter, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		for _, et := range op.EntityTypes {
			op.Results[et] = EntityResult{Status: EntityFailed, Error: err.Error()}
		}
		s.finalize(ctx, conn, op)
		return
	}

	var window *providers.Window
	if op.WindowStart != nil || op.WindowEnd != nil {
		window = &providers.Window{}
		if op.WindowStart != nil {
			window.Start = *op.WindowStart
		}
		if op.WindowEnd != nil {
			window.End = *op.WindowEnd
		}
	} else if !op.Force && conn.LastSyncAt != nil {
		// Incremental by default: pick up where the last successful sync left
		// off. Providers without windowed queries ignore this and snapshot.
		window = &providers.Window{Start: *conn.LastSyncAt}
	}

	authFailed := false
	for _, entity := range op.EntityTypes {
		// Cooperative cancellation between entity types, never mid-call.
		if flight.isCancelled() {
			op.Results[entity] = EntityResult{Status: EntityFailed, Error: "cancelled"}
			continue
		}
		if opCtx.Err() != nil {
			op.Results[entity] = EntityResult{Status: EntityFailed, Error: "sync operation timed out"}
			continue
		}

		processed, err := s.runEntity(opCtx, conn, adapter, entity, window)
		if err != nil {
			op.Results[entity] = EntityResult{Status: EntityFailed, Error: err.Error()}
			metrics.SyncEntityResults.WithLabelValues(string(conn.ProviderType), string(entity), "failed").Inc()
			if apperrors.IsAuthentication(err) {
				authFailed = true
			}
			continue
		}
		op.Results[entity] = EntityResult{Status: EntitySuccess, Processed: processed}
		metrics.SyncEntityResults.WithLabelValues(string(conn.ProviderType), string(entity), "success").Inc()
	}

	// Auth failures must be durably observable on the connection even when
	// the caller ignores the sync result. The refresh guard may have already
	// demoted the connection to EXPIRED or REVOKED mid-run; that state is
	// more specific than ERROR, so a conflicting transition is left alone.
	if authFailed {
		if err := s.Connections.Transition(ctx, conn.ID, connection.StatusError, s.failureSummary(op)); err != nil && !apperrors.IsConflict(err) {
			s.Logger.Warn("auth-failure transition failed", zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}

	s.finalize(ctx, conn, op)
}

// runEntity pulls every page for one entity type, retrying transient
// failures with exponential backoff inside the provider's attempt budget.
func (s *SyncServiceImpl) runEntity(ctx context.Context, conn *connection.Connection, adapter providers.Adapter, entity providers.EntityType, window *providers.Window) (int, error) {
	profile := s.Registry.Profile(conn.ProviderType)

	release, err := s.acquire(ctx, conn.ProviderType)
	if err != nil {
		return 0, err
	}
	defer release()

	processed := 0
	cursor := ""
	for {
		page, err := s.pullPage(ctx, conn, adapter, entity, window, cursor, profile)
		if err != nil {
			return processed, err
		}

		for _, record := range page.Records {
			if s.applyRecord(conn.ID, entity, record) {
				processed++
			}
		}

		if page.NextCursor == "" {
			return processed, nil
		}
		cursor = page.NextCursor
	}
}

func (s *SyncServiceImpl) pullPage(ctx context.Context, conn *connection.Connection, adapter providers.Adapter, entity providers.EntityType, window *providers.Window, cursor string, profile providers.RetryProfile) (*providers.Page, error) {
	var lastErr error
	for attempt := 0; attempt < profile.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := profile.BaseBackoff << (attempt - 1)
			if hint := apperrors.RetryAfterOf(lastErr); hint > delay {
				delay = hint
			}
			if err := s.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		cred, err := s.Guard.Ensure(ctx, conn)
		if err != nil {
			return nil, err
		}

		page, err := adapter.SyncEntity(ctx, cred, entity, window, cursor)
		if err == nil {
			return page, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// applyRecord runs the monotonic-timestamp guard over one provider record so
// a slow sync cannot clobber state a webhook already moved forward. Records
// without a usable timestamp are always applied.
func (s *SyncServiceImpl) applyRecord(connectionID string, entity providers.EntityType, record map[string]any) bool {
	id, _ := record["id"].(string)
	if id == "" {
		return true
	}
	ts := recordTimestamp(record)
	if ts.IsZero() {
		return true
	}
	key := fmt.Sprintf("%s/%s/%s", connectionID, entity, id)
	return s.StateGuard.Apply(key, ts)
}

func recordTimestamp(record map[string]any) time.Time {
	for _, key := range []string{"updated_at", "updatedAt", "modified_at", "lastModified"} {
		if raw, ok := record[key].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func (s *SyncServiceImpl) finalize(ctx context.Context, conn *connection.Connection, op *SyncOperation) {
	op.Status = aggregate(op.Results)
	completed := s.now().UTC()
	op.CompletedAt = &completed

	if err := s.Repo.Update(ctx, op); err != nil {
		s.Logger.Error("failed to persist sync result", zap.String("sync_id", op.ID), zap.Error(err))
	}

	succeeded := op.Status == StatusSuccess || op.Status == StatusPartialFailure
	if succeeded {
		if err := s.Connections.RecordSyncOutcome(ctx, conn.ID, completed, s.failureSummary(op)); err != nil {
			s.Logger.Warn("failed to record sync outcome", zap.String("connection_id", conn.ID), zap.Error(err))
		}
	} else {
		if err := s.Connections.RecordSyncFailure(ctx, conn.ID, s.failureSummary(op)); err != nil {
			s.Logger.Warn("failed to record sync failure", zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}

	metrics.SyncOperations.WithLabelValues(string(conn.ProviderType), string(op.Status)).Inc()
	metrics.SyncDuration.WithLabelValues(string(conn.ProviderType)).Observe(completed.Sub(op.StartedAt).Seconds())

	s.Publisher.Publish(ctx, events.CanonicalEvent{
		ID:           uuid.NewString(),
		Type:         events.EventSyncCompleted,
		ConnectionID: conn.ID,
		Provider:     string(conn.ProviderType),
		OccurredAt:   completed,
		Data: map[string]any{
			"sync_id": op.ID,
			"status":  string(op.Status),
		},
	})

	s.Logger.Info("sync finished",
		zap.String("sync_id", op.ID),
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.ProviderType)),
		zap.String("status", string(op.Status)))
}

// failureSummary concatenates per-entity failures into the connection's
// error_message, deterministically ordered.
func (s *SyncServiceImpl) failureSummary(op *SyncOperation) string {
	var parts []string
	for entity, result := range op.Results {
		if result.Status == EntityFailed {
			parts = append(parts, fmt.Sprintf("%s: %s", entity, result.Error))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (s *SyncServiceImpl) Get(ctx context.Context, id string) (*SyncOperation, error) {
	return s.Repo.Get(ctx, id)
}

func (s *SyncServiceImpl) List(ctx context.Context, connectionID string, limit int64) ([]SyncOperation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.Repo.List(ctx, connectionID, limit)
}

func (s *SyncServiceImpl) CancelForConnection(connectionID string) {
	s.mu.Lock()
	flight, ok := s.running[connectionID]
	s.mu.Unlock()
	if ok {
		flight.cancel()
		s.Logger.Info("sync cancellation requested", zap.String("connection_id", connectionID))
	}
}

func (s *SyncServiceImpl) ProcessScheduledSyncs(ctx context.Context) {
	conns, err := s.Connections.ListActive(ctx)
	if err != nil {
		s.Logger.Error("failed to list active connections", zap.Error(err))
		return
	}

	for _, conn := range conns {
		if !s.shouldRun(conn) {
			continue
		}
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), operationBudget+time.Minute)
			defer cancel()
			if _, err := s.RequestSync(ctx, SyncRequest{ConnectionID: id}); err != nil && !apperrors.IsConflict(err) {
				s.Logger.Warn("scheduled sync failed", zap.String("connection_id", id), zap.Error(err))
			}
		}(conn.ID)
	}
}

func (s *SyncServiceImpl) shouldRun(conn connection.Connection) bool {
	if len(conn.Settings.EntityScope) == 0 {
		return false
	}

	last := time.Time{}
	if conn.LastSyncAt != nil {
		last = *conn.LastSyncAt
	}
	now := s.now()
	switch conn.Settings.SyncFrequency {
	case "hourly":
		return now.Sub(last) >= time.Hour
	case "daily":
		return now.Sub(last) >= 24*time.Hour
	default:
		return false
	}
}
