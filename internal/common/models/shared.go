package models

import (
	"time"
)

// Log is the record written by the async zap core so integration failures
// are queryable next to the data they relate to.
type Log struct {
	Message      string    `bson:"message" json:"message"`
	ConnectionID string    `bson:"connection_id,omitempty" json:"connection_id,omitempty"`
	Provider     string    `bson:"provider,omitempty" json:"provider,omitempty"`
	LogLevelId   int       `bson:"log_level_id" json:"log_level_id"`
	Caller       string    `bson:"caller,omitempty" json:"caller,omitempty"`
	CreatedOnUtc time.Time `bson:"created_on_utc" json:"created_on_utc"`
}
