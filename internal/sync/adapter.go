package sync

import "context"

// Capabilities declares which operations a backend supports, since not
// every adapter implements the full matrix in §4.2 of the capture
// contract (e.g. Neo4j never captures deletes, Kafka never supports
// full, JSONL/CSV never support incremental).
type Capabilities struct {
	SupportsFull        bool
	SupportsIncremental bool
	CapturesDeletes     bool
	// SupportsTo reports whether the backend can bound an incremental
	// run with an explicit to_checkpoint (Kafka cannot: offsets are
	// open-ended and bounded only by deadline/max_messages).
	SupportsTo bool
}

// RecordIterator lazily yields rows during a full dump. Next returns
// false once exhausted or on error; callers must check Err after a
// false return.
type RecordIterator interface {
	Next(ctx context.Context) bool
	Table() string
	ID() Id
	Record() Record
	Err() error
	Close() error
}

// Adapter is the uniform contract every source backend implements (C1).
// Concrete adapters are concrete types, not a runtime-dispatched
// hierarchy — the coordinator is parameterised over this interface, per
// the polymorphism design note.
type Adapter interface {
	// PrepareFull sets up any capture infrastructure the backend needs
	// (triggers, replication slot, change-stream cursor) *before* the
	// dump begins, and returns cp_t1.
	PrepareFull(ctx context.Context) (Checkpoint, error)

	// FullIterator returns a lazy stream of (table, id, record) for the
	// inconsistent bulk dump. Only valid for backends with
	// Capabilities.SupportsFull.
	FullIterator(ctx context.Context) (RecordIterator, error)

	// CurrentCheckpoint returns the adapter's present checkpoint —
	// used both as cp_t2 after a full dump and to resume incremental
	// sync without an explicit --incremental-from.
	CurrentCheckpoint(ctx context.Context) (Checkpoint, error)

	// Peek returns up to max changes after from, plus the
	// checkpoint to advance to if the whole batch is committed. It
	// must not advance server-side position.
	Peek(ctx context.Context, from Checkpoint, max int) ([]ChangeAt, Checkpoint, error)

	// Advance commits progress to to. Only called after every change
	// up to and including to has been durably written to the target.
	Advance(ctx context.Context, to Checkpoint) error

	// Capabilities reports this backend's supported operations.
	Capabilities() Capabilities

	// Close releases adapter-owned connections. It never tears down
	// process-outliving capture infrastructure (triggers, slots,
	// audit tables) — that is a separate, explicit operation.
	Close() error
}

// CaptureDropper is implemented by adapters whose capture infrastructure
// outlives the process and must be torn down explicitly (spec §5:
// "never auto-drop on coordinator exit"). Not every Adapter implements
// this — JSONL/CSV/Kafka have nothing to drop.
type CaptureDropper interface {
	DropCapture(ctx context.Context) error
}
