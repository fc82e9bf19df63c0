package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	gosync "sync"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/config"
	"go-freight/internal/events"
	"go-freight/internal/features/connection"
	"go-freight/internal/metrics"
	"go-freight/internal/providers"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	queueDepth = 1024
	// shardCount workers process events concurrently; one connection's
	// events always hash to the same shard, so per-connection order holds.
	shardCount = 4

	processTimeout = 30 * time.Second
)

// WebhookService accepts raw provider callbacks and turns them into canonical
// events in the background. Enqueue never blocks the HTTP handler.
type WebhookService interface {
	Enqueue(evt InboundEvent) error
	Start()
	Stop()
}

type WebhookServiceImpl struct {
	Dedup       DedupRepository
	Connections connection.ConnectionService
	Registry    *providers.Registry
	Publisher   events.Publisher
	StateGuard  *events.MonotonicGuard
	Config      *config.Config
	Logger      *zap.Logger

	queue   chan InboundEvent
	shards  []chan work
	wg      gosync.WaitGroup
	once    gosync.Once
	stopMu  gosync.RWMutex
	stopped bool
}

type work struct {
	inbound InboundEvent
	event   *providers.ProviderEvent
	conn    *connection.Connection
}

func NewWebhookService(dedup DedupRepository, connections connection.ConnectionService, registry *providers.Registry, publisher events.Publisher, stateGuard *events.MonotonicGuard, cfg *config.Config, logger *zap.Logger) WebhookService {
	return &WebhookServiceImpl{
		Dedup:       dedup,
		Connections: connections,
		Registry:    registry,
		Publisher:   publisher,
		StateGuard:  stateGuard,
		Config:      cfg,
		Logger:      logger,
		queue:       make(chan InboundEvent, queueDepth),
	}
}

// Enqueue hands an event to the dispatcher. A full queue sheds load instead
// of stalling the provider's delivery; the provider will retry. Deliveries
// arriving during shutdown are shed the same way: the read lock keeps the
// send and Stop's close from interleaving.
func (s *WebhookServiceImpl) Enqueue(evt InboundEvent) error {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		metrics.WebhookEvents.WithLabelValues(string(evt.Provider), "dropped").Inc()
		return apperrors.Unavailable("webhook pipeline is shutting down")
	}
	select {
	case s.queue <- evt:
		return nil
	default:
		metrics.WebhookEvents.WithLabelValues(string(evt.Provider), "dropped").Inc()
		return apperrors.Unavailable("webhook queue is full")
	}
}

func (s *WebhookServiceImpl) Start() {
	s.once.Do(func() {
		s.shards = make([]chan work, shardCount)
		for i := range s.shards {
			s.shards[i] = make(chan work, queueDepth/shardCount)
			s.wg.Add(1)
			go s.worker(s.shards[i])
		}
		s.wg.Add(1)
		go s.dispatch()
	})
}

// Stop refuses further deliveries, then drains the queue and waits for
// in-flight processing to finish. Safe to call more than once.
func (s *WebhookServiceImpl) Stop() {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return
	}
	s.stopped = true
	s.stopMu.Unlock()

	close(s.queue)
	s.wg.Wait()
}

// dispatch parses and resolves each event, then routes it to the shard owned
// by its connection so one connection's events are processed in arrival order.
func (s *WebhookServiceImpl) dispatch() {
	defer s.wg.Done()
	defer func() {
		for _, shard := range s.shards {
			close(shard)
		}
	}()

	for inbound := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		w, ok := s.resolve(ctx, inbound)
		cancel()
		if !ok {
			continue
		}

		h := fnv.New32a()
		h.Write([]byte(w.conn.ID))
		s.shards[h.Sum32()%shardCount] <- w
	}
}

func (s *WebhookServiceImpl) worker(shard chan work) {
	defer s.wg.Done()
	for w := range shard {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		s.process(ctx, w)
		cancel()
	}
}

// resolve takes a raw delivery through parse, connection lookup and signature
// verification. Anything that fails here is dropped with a log line; the
// provider already got its 202.
func (s *WebhookServiceImpl) resolve(ctx context.Context, inbound InboundEvent) (work, bool) {
	adapter, err := s.Registry.Get(inbound.Provider)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(inbound.Provider), "unknown_provider").Inc()
		return work{}, false
	}

	evt, err := adapter.ParseWebhook(inbound.Payload)
	if err != nil {
		s.Logger.Warn("unparseable webhook", zap.String("provider", string(inbound.Provider)), zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(string(inbound.Provider), "unparseable").Inc()
		return work{}, false
	}

	conn, err := s.resolveConnection(ctx, inbound.Provider, evt.AccountID)
	if err != nil {
		s.Logger.Warn("webhook for unknown account",
			zap.String("provider", string(inbound.Provider)),
			zap.String("account_id", evt.AccountID))
		metrics.WebhookEvents.WithLabelValues(string(inbound.Provider), "unresolved").Inc()
		return work{}, false
	}

	secret := conn.Settings.WebhookSecret
	if secret == "" {
		secret = s.globalSecret(inbound.Provider)
	}
	if err := adapter.VerifyWebhook(secret, inbound.Payload, inbound.Signature); err != nil {
		s.Logger.Warn("webhook signature rejected",
			zap.String("provider", string(inbound.Provider)),
			zap.String("connection_id", conn.ID))
		metrics.WebhookEvents.WithLabelValues(string(inbound.Provider), "verification_failed").Inc()
		return work{}, false
	}

	return work{inbound: inbound, event: evt, conn: conn}, true
}

func (s *WebhookServiceImpl) resolveConnection(ctx context.Context, provider providers.ProviderType, accountID string) (*connection.Connection, error) {
	if accountID == "" {
		return nil, apperrors.NotFound("webhook carries no account identifier")
	}
	return s.Connections.GetByProviderAccount(ctx, provider, accountID)
}

func (s *WebhookServiceImpl) globalSecret(p providers.ProviderType) string {
	switch p {
	case providers.ProviderKeepTruckin:
		return s.Config.KeepTruckin.WebhookSecret
	case providers.ProviderSamsara:
		return s.Config.Samsara.WebhookSecret
	case providers.ProviderOmnitracs:
		return s.Config.Omnitracs.WebhookSecret
	}
	return ""
}

func (s *WebhookServiceImpl) process(ctx context.Context, w work) {
	provider := string(w.inbound.Provider)
	key := s.dedupKey(w)

	// Check first, record last: a delivery whose processing fails here stays
	// unrecorded so the provider's redelivery gets another shot. The shard
	// serializes one connection's deliveries, so the gap is race-free.
	seen, err := s.Dedup.Seen(ctx, key)
	if err != nil {
		s.Logger.Error("dedup check failed", zap.String("provider", provider), zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
		return
	}
	if seen {
		metrics.WebhookEvents.WithLabelValues(provider, "duplicate").Inc()
		return
	}

	if w.event.Revocation {
		if err := s.Connections.Transition(ctx, w.conn.ID, connection.StatusRevoked,
			fmt.Sprintf("provider revoked access: %s", w.event.Type)); err != nil {
			s.Logger.Error("revocation transition failed",
				zap.String("connection_id", w.conn.ID), zap.Error(err))
			metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
			return
		}
		s.record(ctx, key, w)
		metrics.WebhookEvents.WithLabelValues(provider, "revocation").Inc()
		return
	}

	canonical, entity, ok := canonicalType(w.event.Type)
	if !ok {
		s.record(ctx, key, w)
		metrics.WebhookEvents.WithLabelValues(provider, "ignored").Inc()
		return
	}

	// Data events race sync pulls over the same entity; only strictly newer
	// source timestamps go downstream.
	if w.event.EntityID != "" && !w.event.OccurredAt.IsZero() {
		guardKey := fmt.Sprintf("%s/%s/%s", w.conn.ID, entity, w.event.EntityID)
		if !s.StateGuard.Apply(guardKey, w.event.OccurredAt) {
			s.record(ctx, key, w)
			metrics.WebhookEvents.WithLabelValues(provider, "stale").Inc()
			return
		}
	}

	s.Publisher.Publish(ctx, events.CanonicalEvent{
		ID:           uuid.NewString(),
		Type:         canonical,
		ConnectionID: w.conn.ID,
		Provider:     provider,
		EntityID:     w.event.EntityID,
		OccurredAt:   w.event.OccurredAt,
		Data:         w.event.Data,
	})
	s.record(ctx, key, w)
	metrics.WebhookEvents.WithLabelValues(provider, "published").Inc()
}

// record marks the delivery handled once its effects are in place. A failure
// here risks at most one duplicate on redelivery, which downstream consumers
// already tolerate.
func (s *WebhookServiceImpl) record(ctx context.Context, key string, w work) {
	if err := s.Dedup.Record(ctx, key, w.inbound.ReceivedAt); err != nil {
		s.Logger.Warn("dedup record failed",
			zap.String("provider", string(w.inbound.Provider)), zap.Error(err))
	}
}

func (s *WebhookServiceImpl) dedupKey(w work) string {
	if w.event.EventID != "" {
		return fmt.Sprintf("%s/%s", w.inbound.Provider, w.event.EventID)
	}
	// No provider event id: fall back to a digest of the raw payload.
	sum := sha256.Sum256(w.inbound.Payload)
	return fmt.Sprintf("%s/%s", w.inbound.Provider, hex.EncodeToString(sum[:]))
}
