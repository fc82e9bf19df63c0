package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go-freight/internal/config"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CanonicalType is the internally normalized event vocabulary. Every
// provider-specific occurrence maps to one of these before leaving the
// integration core.
type CanonicalType string

const (
	EventConnectionRevoked CanonicalType = "connection.revoked"
	EventConnectionError   CanonicalType = "connection.error"
	EventVehicleLocation   CanonicalType = "vehicle.location"
	EventDriverHOS         CanonicalType = "driver.hos"
	EventLoadStatus        CanonicalType = "load.status"
	EventSyncCompleted     CanonicalType = "sync.completed"
)

// CanonicalEvent is what downstream load/driver state owners consume.
type CanonicalEvent struct {
	ID           string         `json:"id"`
	Type         CanonicalType  `json:"type"`
	ConnectionID string         `json:"connection_id"`
	Provider     string         `json:"provider"`
	EntityID     string         `json:"entity_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Data         map[string]any `json:"data,omitempty"`
}

// Publisher delivers canonical events to downstream consumers. Fire and
// forget from the caller's perspective; delivery guarantees live behind it.
type Publisher interface {
	Publish(ctx context.Context, evt CanonicalEvent)
}

// RedisPublisher pushes canonical events over Redis Pub/Sub, one channel per
// event family so consumers subscribe to what they own.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (Publisher, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return &RedisPublisher{rdb: rdb, logger: logger}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, evt CanonicalEvent) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal canonical event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}

	if err := p.rdb.Publish(ctx, p.chanName(evt.Type), data).Err(); err != nil {
		p.logger.Warn("failed to publish canonical event",
			zap.String("type", string(evt.Type)),
			zap.String("connection_id", evt.ConnectionID),
			zap.Error(err))
	}
}

func (p *RedisPublisher) chanName(t CanonicalType) string { return "integrations:" + string(t) }

// MemoryPublisher records events in memory. Used in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []CanonicalEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, evt CanonicalEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []CanonicalEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CanonicalEvent, len(p.events))
	copy(out, p.events)
	return out
}
