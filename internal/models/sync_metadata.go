package models

import "time"

// SyncMetadata tracks the incremental pull position of one entity.
// A nil LastSync means the next pull fetches the full collection.
type SyncMetadata struct {
	LastSync *time.Time `json:"lastSync"`
	Version  int        `json:"version"`
}
