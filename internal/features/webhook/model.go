package webhook

import (
	"time"

	"go-freight/internal/providers"
)

// InboundEvent is one raw provider callback as received on the wire, queued
// for background processing.
type InboundEvent struct {
	Provider   providers.ProviderType
	Payload    []byte
	Signature  string
	ReceivedAt time.Time
}

// DedupRecord marks a provider event id as already processed. Records expire
// via a TTL index so the collection stays bounded.
type DedupRecord struct {
	Key        string    `bson:"_id"`
	ReceivedAt time.Time `bson:"received_at"`
}
