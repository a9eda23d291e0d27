package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/surrealdb/surreal-sync/internal/syncerr"
)

// Converter maps a single row/event's native fields into a unified
// Record and derives its Id, per C2. Adapters own their own Converter
// since the mapping rules are backend-specific (§4.3); the coordinator
// only needs this narrow surface to stay adapter-agnostic.
type Converter interface {
	// ConvertRecord derives the record id and converts the field map
	// for a full-dump row already split into (table, id, fields) by
	// the adapter's RecordIterator.
	ConvertRecord(table string, id Id, fields Record) (Record, error)

	// ConvertChange converts one incremental change in place, if the
	// adapter hands the coordinator raw fields rather than a fully
	// converted Change. Adapters that convert inline during Peek may
	// implement this as a no-op passthrough.
	ConvertChange(c Change) (Change, error)
}

// FullOptions configures a full() invocation.
type FullOptions struct {
	EmitCheckpoints bool
	BatchSize       int
	MaxConcurrentTables int
}

// IncrementalOptions configures an incremental() invocation.
type IncrementalOptions struct {
	EmitCheckpoints bool
	BatchSize       int
	From            *Checkpoint // nil -> adapter.CurrentCheckpoint()
	To              *Checkpoint // nil -> unbounded (Kafka always unbounded)
	Deadline        time.Time   // zero -> no deadline
	MaxMessages     int         // 0 -> unbounded, Kafka only
	PollBackoff     time.Duration
}

func DefaultFullOptions() FullOptions {
	return FullOptions{EmitCheckpoints: true, BatchSize: 500, MaxConcurrentTables: 4}
}

func DefaultIncrementalOptions() IncrementalOptions {
	return IncrementalOptions{EmitCheckpoints: true, BatchSize: 500, PollBackoff: 500 * time.Millisecond}
}

// Coordinator orchestrates the t1 -> full -> t2 -> incremental protocol
// (C3), generalizing the teacher's outbox.Processor poll/distribute loop
// from "drain an outbox table" to "drain a source adapter".
type Coordinator struct {
	Adapter   Adapter
	Converter Converter
	Writer    Writer
	Store     CheckpointStore
	// DatabaseType labels persisted envelopes (spec §4.4 "database_type").
	DatabaseType string
}

func NewCoordinator(adapter Adapter, converter Converter, writer Writer, store CheckpointStore, databaseType string) *Coordinator {
	return &Coordinator{Adapter: adapter, Converter: converter, Writer: writer, Store: store, DatabaseType: databaseType}
}

// Full runs the one-shot bulk dump bridged by capture setup, per spec
// §4.1 step 1-6.
func (c *Coordinator) Full(ctx context.Context, opts FullOptions) error {
	if !c.Adapter.Capabilities().SupportsFull {
		return syncerr.New(syncerr.Configuration, "adapter does not support full sync")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultFullOptions().BatchSize
	}

	cpT1, err := c.Adapter.PrepareFull(ctx)
	if err != nil {
		return syncerr.Wrap(syncerr.CaptureSetup, "prepare full capture", err)
	}
	slog.Info("full sync: capture prepared", "database_type", c.DatabaseType)

	if opts.EmitCheckpoints {
		if err := c.persist(ctx, "full_sync_start", cpT1, PhaseFullSyncStart); err != nil {
			return err
		}
	}

	iter, err := c.Adapter.FullIterator(ctx)
	if err != nil {
		return syncerr.Wrap(syncerr.Connectivity, "open full iterator", err)
	}
	defer iter.Close()

	batch := make([]Change, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := c.Writer.Apply(ctx, Batch{Changes: batch}); err != nil {
			return syncerr.Wrap(syncerr.TargetWrite, "apply full-sync batch", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		select {
		case <-ctx.Done():
			return syncerr.Wrap(syncerr.Cancellation, "full sync cancelled", ctx.Err())
		default:
		}

		record, err := c.Converter.ConvertRecord(iter.Table(), iter.ID(), iter.Record())
		if err != nil {
			return syncerr.Wrap(syncerr.Conversion, fmt.Sprintf("convert row in table %s", iter.Table()), err)
		}
		batch = append(batch, Upsert(iter.Table(), iter.ID(), record))

		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return syncerr.Wrap(syncerr.Connectivity, "full dump iteration", err)
	}
	if err := flush(); err != nil {
		return err
	}

	cpT2, err := c.Adapter.CurrentCheckpoint(ctx)
	if err != nil {
		return syncerr.Wrap(syncerr.Connectivity, "read checkpoint after full dump", err)
	}
	if opts.EmitCheckpoints {
		if err := c.persist(ctx, "full_sync_end", cpT2, PhaseFullSyncEnd); err != nil {
			return err
		}
	}

	slog.Info("full sync complete", "database_type", c.DatabaseType)
	return nil
}

// Incremental replays changes from a checkpoint via peek/process/advance
// until to_checkpoint, deadline, max_messages, or cancellation, per spec
// §4.1.
func (c *Coordinator) Incremental(ctx context.Context, opts IncrementalOptions) error {
	caps := c.Adapter.Capabilities()
	if !caps.SupportsIncremental {
		return syncerr.New(syncerr.Configuration, "adapter does not support incremental sync")
	}
	if opts.To != nil && !caps.SupportsTo {
		return syncerr.New(syncerr.Configuration, "adapter does not support an explicit to_checkpoint")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIncrementalOptions().BatchSize
	}
	if opts.PollBackoff <= 0 {
		opts.PollBackoff = DefaultIncrementalOptions().PollBackoff
	}

	from := Checkpoint{}
	if opts.From != nil {
		from = *opts.From
	} else {
		cur, err := c.Adapter.CurrentCheckpoint(ctx)
		if err != nil {
			return syncerr.Wrap(syncerr.Connectivity, "resolve starting checkpoint", err)
		}
		from = cur
	}

	messagesProcessed := 0
	for {
		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			return c.gracefulExit(ctx, from, "deadline reached")
		}
		select {
		case <-ctx.Done():
			return c.gracefulExit(ctx, from, "cancellation requested")
		default:
		}

		changes, next, err := c.Adapter.Peek(ctx, from, opts.BatchSize)
		if err != nil {
			if syncerr.Is(err, syncerr.StaleCheckpoint) {
				return err
			}
			return syncerr.Wrap(syncerr.Connectivity, "peek changes", err)
		}
		if opts.To != nil {
			kept := changes[:0]
			for _, ca := range changes {
				if opts.To.Less(ca.Checkpoint) {
					break
				}
				kept = append(kept, ca)
			}
			if len(kept) < len(changes) {
				if len(kept) == 0 {
					return nil
				}
				changes, next = kept, kept[len(kept)-1].Checkpoint
			}
		}

		if len(changes) == 0 {
			if opts.To != nil && !from.Less(*opts.To) {
				return nil
			}
			select {
			case <-time.After(opts.PollBackoff):
			case <-ctx.Done():
				return c.gracefulExit(ctx, from, "cancellation requested")
			}
			continue
		}

		converted := make([]Change, 0, len(changes))
		for _, ca := range changes {
			cc, err := c.Converter.ConvertChange(ca.Change)
			if err != nil {
				return syncerr.Wrap(syncerr.Conversion, fmt.Sprintf("convert change in table %s", ca.Change.Table), err)
			}
			converted = append(converted, cc)
		}

		// Batch boundary: the whole batch fails or the whole batch
		// advances. A failure here never advances; the same changes
		// will be redelivered on the next invocation (at-least-once).
		if _, err := c.Writer.Apply(ctx, Batch{Changes: converted}); err != nil {
			return syncerr.Wrap(syncerr.TargetWrite, "apply incremental batch", err)
		}

		if err := c.Adapter.Advance(ctx, next); err != nil {
			return syncerr.Wrap(syncerr.Connectivity, "advance adapter checkpoint", err)
		}
		if opts.EmitCheckpoints {
			if err := c.persist(ctx, "incremental_progress", next, PhaseIncrementalProgress); err != nil {
				return err
			}
		}
		from = next
		messagesProcessed += len(changes)

		if opts.MaxMessages > 0 && messagesProcessed >= opts.MaxMessages {
			return nil
		}
		if opts.To != nil && !from.Less(*opts.To) {
			return nil
		}
	}
}

// gracefulExit logs why the loop stopped and returns nil; it persists
// nothing itself, since with EmitCheckpoints the loop has already
// persisted the last successfully-committed checkpoint — cancellation is reported as a clean exit per
// spec §7: "graceful: emits the last successfully-committed checkpoint
// and exits 0".
func (c *Coordinator) gracefulExit(ctx context.Context, last Checkpoint, reason string) error {
	slog.Info("incremental sync stopping", "reason", reason, "database_type", c.DatabaseType)
	return nil
}

func (c *Coordinator) persist(ctx context.Context, tag string, cp Checkpoint, phase Phase) error {
	if c.Store == nil {
		return nil
	}
	env := CheckpointEnvelope{
		DatabaseType: c.DatabaseType,
		Checkpoint:   cp,
		Phase:        phase,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.Store.Save(ctx, tag, env); err != nil {
		return syncerr.Wrap(syncerr.TargetWrite, fmt.Sprintf("persist checkpoint tag %s", tag), err)
	}
	return nil
}
