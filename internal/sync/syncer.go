package sync

import "context"

// Syncer is the part of the Manager the coordinator and the API surfaces
// depend on. It allows fakes in tests.
type Syncer interface {
	// SyncAll pulls every entity incrementally.
	SyncAll(ctx context.Context) AllResult

	// ForceFullSync pulls every entity in full.
	ForceFullSync(ctx context.Context) AllResult
}

var _ Syncer = (*Manager)(nil)
