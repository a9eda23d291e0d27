// Package sync implements the consistent sync coordinator: the engine that
// carries a source database into a target SurrealDB instance through a
// full dump bridged by an incremental replay, so that from a well-defined
// instant the target is a faithful reflection of the source even when the
// source offers no snapshot isolation.
package sync

import (
	"time"
)

// ValueKind tags the variant carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt64
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindDatetime
	KindDuration
	KindUUID
	KindRegex
	KindArray
	KindObject
	KindRecordLink
)

// Value is the unified, backend-independent value model every converter
// produces. Exactly one field is meaningful for a given Kind; Array/Object
// carry composite children, RecordLink carries a cross-record reference.
type Value struct {
	Kind ValueKind

	Bool     bool
	Int64    int64
	Float64  float64
	Decimal  string // canonical decimal string, arbitrary precision
	String   string
	Bytes    []byte
	Datetime time.Time
	Duration time.Duration
	UUID     string
	Regex    string

	Array  []Value
	Object map[string]Value

	LinkTable string
	LinkID    *Id
}

func Null() Value                 { return Value{Kind: KindNull} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Int64Value(i int64) Value    { return Value{Kind: KindInt64, Int64: i} }
func Float64Value(f float64) Value { return Value{Kind: KindFloat64, Float64: f} }
func DecimalValue(s string) Value  { return Value{Kind: KindDecimal, Decimal: s} }
func StringValue(s string) Value   { return Value{Kind: KindString, String: s} }
func BytesValue(b []byte) Value    { return Value{Kind: KindBytes, Bytes: b} }
func DatetimeValue(t time.Time) Value { return Value{Kind: KindDatetime, Datetime: t.UTC()} }
func DurationValue(d time.Duration) Value { return Value{Kind: KindDuration, Duration: d} }
func UUIDValue(u string) Value     { return Value{Kind: KindUUID, UUID: u} }
func RegexValue(r string) Value    { return Value{Kind: KindRegex, Regex: r} }
func ArrayValue(v []Value) Value   { return Value{Kind: KindArray, Array: v} }
func ObjectValue(m map[string]Value) Value { return Value{Kind: KindObject, Object: m} }
func RecordLink(table string, id Id) Value {
	return Value{Kind: KindRecordLink, LinkTable: table, LinkID: &id}
}

// Id is either a primitive scalar or an ordered tuple of primitives
// (composite primary key). Equality is value equality; ordering across
// composite ids is undefined, per spec.
type Id struct {
	// Composite holds tuple members when len > 0; otherwise Scalar is used.
	Composite []Value
	Scalar    Value
}

// IsComposite reports whether this id is a tuple of primitives.
func (i Id) IsComposite() bool { return len(i.Composite) > 0 }

func ScalarID(v Value) Id       { return Id{Scalar: v} }
func CompositeID(vs ...Value) Id { return Id{Composite: vs} }

// Record is a target record body: field name to unified value.
type Record map[string]Value

// ChangeOp distinguishes the two event kinds a backend can emit.
type ChangeOp int

const (
	OpUpsert ChangeOp = iota
	OpDelete
)

// Change is the neutral in-memory form of a single change event (C6).
type Change struct {
	Op     ChangeOp
	Table  string
	ID     Id
	Record Record // populated only for OpUpsert
}

func Upsert(table string, id Id, record Record) Change {
	return Change{Op: OpUpsert, Table: table, ID: id, Record: record}
}

func Delete(table string, id Id) Change {
	return Change{Op: OpDelete, Table: table, ID: id}
}

// CheckpointKind tags which concrete checkpoint representation a backend
// uses, matching the variants enumerated in spec §3.
type CheckpointKind string

const (
	CheckpointNative    CheckpointKind = "native_resume_token" // MongoDB
	CheckpointSequence  CheckpointKind = "sequence"            // trigger CDC
	CheckpointLSN       CheckpointKind = "lsn"                 // wal2json
	CheckpointTimestamp CheckpointKind = "timestamp"            // Neo4j
	CheckpointOffsets   CheckpointKind = "kafka_offsets"
	CheckpointNone      CheckpointKind = "none" // JSONL/CSV/bulk Kafka
)

// Checkpoint is the opaque, backend-tagged "resume after here" token.
// Only the fields relevant to Kind are meaningful; backends compare and
// serialize via these typed fields rather than a blob, so checkpoint
// monotonicity (spec §8 invariant 2) can be asserted in tests.
type Checkpoint struct {
	Kind CheckpointKind

	// CheckpointNative
	ResumeToken []byte

	// CheckpointSequence
	SequenceID int64

	// CheckpointLSN — "hi/lo" halves, lexicographically ordered
	LSNHi uint32
	LSNLo uint32

	// CheckpointTimestamp
	Timestamp time.Time

	// CheckpointOffsets — partition -> committed offset
	Offsets map[int32]int64
}

// Less reports whether c precedes other under the backend's native
// ordering. Only meaningful for checkpoints of the same Kind.
func (c Checkpoint) Less(other Checkpoint) bool {
	switch c.Kind {
	case CheckpointSequence:
		return c.SequenceID < other.SequenceID
	case CheckpointLSN:
		if c.LSNHi != other.LSNHi {
			return c.LSNHi < other.LSNHi
		}
		return c.LSNLo < other.LSNLo
	case CheckpointTimestamp:
		return c.Timestamp.Before(other.Timestamp)
	default:
		return false
	}
}

// Phase tags why a checkpoint was persisted, per the on-disk envelope
// in spec §4.4.
type Phase string

const (
	PhaseFullSyncStart      Phase = "FullSyncStart"
	PhaseFullSyncEnd        Phase = "FullSyncEnd"
	PhaseIncrementalProgress Phase = "IncrementalProgress"
)

// ChangeAt pairs a Change with the checkpoint it advances to, as returned
// by Adapter.Peek.
type ChangeAt struct {
	Checkpoint Checkpoint
	Change     Change
}

// Batch is the unit the coordinator hands to the writer. The coordinator
// calls Writer.Apply directly; no channel sits between them.
type Batch struct {
	Changes []Change
}
