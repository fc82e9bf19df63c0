package connection

import (
	"time"

	"go-freight/internal/providers"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusError   Status = "error"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

type OwnerType string

const (
	OwnerDriver  OwnerType = "driver"
	OwnerCarrier OwnerType = "carrier"
	OwnerShipper OwnerType = "shipper"
)

// Owner identifies who the connection belongs to: a driver for ELD links, a
// carrier or shipper for TMS links.
type Owner struct {
	Type OwnerType `json:"type" bson:"type"`
	ID   string    `json:"id" bson:"id"`
}

// Settings is the provider-specific configuration attached to a connection.
type Settings struct {
	SyncFrequency string                 `json:"sync_frequency,omitempty" bson:"sync_frequency,omitempty"` // "hourly", "daily"
	EntityScope   []providers.EntityType `json:"entity_scope,omitempty" bson:"entity_scope,omitempty"`
	WebhookSecret string                 `json:"webhook_secret,omitempty" bson:"webhook_secret,omitempty"`
	// ProviderAccountID is the provider-side account/company identifier
	// embedded in webhook payloads; it resolves events back to this connection.
	ProviderAccountID string `json:"provider_account_id,omitempty" bson:"provider_account_id,omitempty"`
	// DriverMap maps internal driver ids to the provider's own driver ids.
	DriverMap map[string]string `json:"driver_map,omitempty" bson:"driver_map,omitempty"`
	Extra     map[string]any    `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Connection is the persisted record of an owner's authenticated link to one
// external provider. Secret material lives in the vault, not here.
type Connection struct {
	ID              string                    `json:"id" bson:"_id"`
	Owner           Owner                     `json:"owner" bson:"owner"`
	ProviderType    providers.ProviderType    `json:"provider_type" bson:"provider_type"`
	IntegrationType providers.IntegrationType `json:"integration_type" bson:"integration_type"`
	Settings        Settings                  `json:"settings" bson:"settings"`
	Status          Status                    `json:"status" bson:"status"`
	LastSyncAt      *time.Time                `json:"last_sync_at,omitempty" bson:"last_sync_at,omitempty"`
	ErrorMessage    string                    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	CreatedAt       time.Time                 `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at" bson:"updated_at"`
}

// validTransitions is the status graph. The two failure states only recover
// through ACTIVE, never into each other, so an EXPIRED connection keeps that
// signal until it is validated or revoked. Revoked is terminal: nothing
// leaves it; a deleted and recreated connection is required.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusError, StatusExpired, StatusRevoked},
	StatusActive:  {StatusError, StatusExpired, StatusRevoked},
	StatusError:   {StatusActive, StatusRevoked},
	StatusExpired: {StatusActive, StatusRevoked},
	StatusRevoked: {},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
