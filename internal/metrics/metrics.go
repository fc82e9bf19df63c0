package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()

	// SyncOperations counts sync operations by provider and terminal status
	SyncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_operations_total", Help: "Sync operations by provider and terminal status."},
		[]string{"provider", "status"},
	)
	// SyncEntityResults counts per-entity sync outcomes
	SyncEntityResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_entity_results_total", Help: "Per-entity sync outcomes by provider, entity type and status."},
		[]string{"provider", "entity_type", "status"},
	)
	// SyncDuration records whole-operation durations in seconds
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "sync_operation_duration_seconds", Help: "Sync operation duration in seconds.", Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300}},
		[]string{"provider"},
	)
	// TokenRefreshes counts just-in-time token refreshes by provider and outcome
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "token_refreshes_total", Help: "OAuth token refreshes by provider and outcome."},
		[]string{"provider", "outcome"},
	)
	// WebhookEvents counts inbound webhook processing outcomes
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_total", Help: "Inbound webhook events by provider and outcome."},
		[]string{"provider", "outcome"},
	)
)

var regOnce sync.Once

// RegisterDefault registers collectors to the registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(SyncOperations)
		Registry.MustRegister(SyncEntityResults)
		Registry.MustRegister(SyncDuration)
		Registry.MustRegister(TokenRefreshes)
		Registry.MustRegister(WebhookEvents)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
