package events

import (
	"sync"
	"time"
)

// MonotonicGuard tracks the last-applied source timestamp per entity so a
// slow in-flight sync can never clobber a newer webhook-delivered update.
// Entries are pruned after the retention window to bound memory.
type MonotonicGuard struct {
	mu        sync.Mutex
	last      map[string]time.Time
	retention time.Duration
	lastPrune time.Time
}

func NewMonotonicGuard(retention time.Duration) *MonotonicGuard {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MonotonicGuard{
		last:      make(map[string]time.Time),
		retention: retention,
		lastPrune: time.Now(),
	}
}

// Apply records ts for key and reports whether the update should be applied.
// An update is applied only if ts is strictly newer than the last-applied
// timestamp for that key.
func (g *MonotonicGuard) Apply(key string, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[key]; ok && !ts.After(prev) {
		return false
	}
	g.last[key] = ts

	g.pruneLocked()
	return true
}

func (g *MonotonicGuard) pruneLocked() {
	now := time.Now()
	if now.Sub(g.lastPrune) < g.retention {
		return
	}
	cutoff := now.Add(-g.retention)
	for k, ts := range g.last {
		if ts.Before(cutoff) {
			delete(g.last, k)
		}
	}
	g.lastPrune = now
}
