package sync

import "context"

// CheckpointEnvelope is the stable on-disk/wire schema for a persisted
// checkpoint (spec §4.4).
type CheckpointEnvelope struct {
	DatabaseType string     `json:"database_type"`
	Checkpoint   Checkpoint `json:"checkpoint"`
	Phase        Phase      `json:"phase"`
	CreatedAt    string     `json:"created_at"` // RFC-3339
}

// CheckpointStore persists typed checkpoints to stable storage between
// invocations (C4), generalizing the teacher's stream/checkpoint.Store
// interface (GetCheckpoint/SaveCheckpoint) from a single Mongo resume
// token to the full tagged Checkpoint union.
type CheckpointStore interface {
	// Save persists env under tag, atomically.
	Save(ctx context.Context, tag string, env CheckpointEnvelope) error

	// Load returns the most recently saved envelope for tag. Returns
	// ok=false if no checkpoint has ever been saved under that tag.
	Load(ctx context.Context, tag string) (env CheckpointEnvelope, ok bool, err error)
}
