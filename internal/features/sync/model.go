package sync

import (
	"time"

	"go-freight/internal/providers"
)

type OperationStatus string

const (
	StatusRequested      OperationStatus = "requested"
	StatusInProgress     OperationStatus = "in_progress"
	StatusSuccess        OperationStatus = "success"
	StatusPartialFailure OperationStatus = "partial_failure"
	StatusFailed         OperationStatus = "failed"
)

// Terminal reports whether the operation can no longer change.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartialFailure, StatusFailed:
		return true
	}
	return false
}

type EntityStatus string

const (
	EntitySuccess EntityStatus = "success"
	EntityFailed  EntityStatus = "failed"
)

type EntityResult struct {
	Processed int          `json:"count_processed" bson:"count_processed"`
	Status    EntityStatus `json:"status" bson:"status"`
	Error     string       `json:"error,omitempty" bson:"error,omitempty"`
}

// SyncRequest is the validated request DTO the controller hands the
// orchestrator.
type SyncRequest struct {
	ConnectionID string                 `json:"connection_id"`
	EntityTypes  []providers.EntityType `json:"entity_types,omitempty"`
	Force        bool                   `json:"force,omitempty"`
	StartDate    *time.Time             `json:"start_date,omitempty"`
	EndDate      *time.Time             `json:"end_date,omitempty"` // exclusive
}

// SyncOperation is one bounded attempt to pull a set of entity types for a
// connection. Immutable once terminal.
type SyncOperation struct {
	ID           string                                `json:"id" bson:"_id"`
	ConnectionID string                                `json:"connection_id" bson:"connection_id"`
	EntityTypes  []providers.EntityType                `json:"entity_types" bson:"entity_types"`
	Force        bool                                  `json:"force" bson:"force"`
	WindowStart  *time.Time                            `json:"start_date,omitempty" bson:"start_date,omitempty"`
	WindowEnd    *time.Time                            `json:"end_date,omitempty" bson:"end_date,omitempty"`
	Status       OperationStatus                       `json:"status" bson:"status"`
	Results      map[providers.EntityType]EntityResult `json:"entity_results" bson:"entity_results"`
	StartedAt    time.Time                             `json:"started_at" bson:"started_at"`
	CompletedAt  *time.Time                            `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// aggregate derives the terminal status from per-entity outcomes: failed when
// nothing succeeded, success when everything did, partial otherwise.
func aggregate(results map[providers.EntityType]EntityResult) OperationStatus {
	succeeded := 0
	for _, r := range results {
		if r.Status == EntitySuccess {
			succeeded++
		}
	}
	switch {
	case succeeded == 0:
		return StatusFailed
	case succeeded == len(results):
		return StatusSuccess
	default:
		return StatusPartialFailure
	}
}
