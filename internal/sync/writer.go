package sync

import "context"

// WriteResult reports per-item outcome for a batch, mirroring the
// teacher's BatchResult shape (internal/outbox/repository.go) so the
// coordinator can log partial context on failure even though the whole
// batch is treated as failed-or-succeeded as a unit (spec §4.5: "on
// transport failure, the whole batch fails").
type WriteResult struct {
	Applied int
	Err     error
}

// Writer batches upserts and deletions against the target, idempotent by
// (table, id) (C5). Order within a batch is preserved by the
// implementation.
type Writer interface {
	Apply(ctx context.Context, batch Batch) (WriteResult, error)
	Close() error
}

// DryRunWriter accepts batches without writing them to any target and
// keeps them in Batches, used by tests and --dry-run invocations
// (spec §4.5).
type DryRunWriter struct {
	Batches []Batch
}

func NewDryRunWriter() *DryRunWriter { return &DryRunWriter{} }

func (w *DryRunWriter) Apply(ctx context.Context, batch Batch) (WriteResult, error) {
	w.Batches = append(w.Batches, batch)
	return WriteResult{Applied: len(batch.Changes)}, nil
}

func (w *DryRunWriter) Close() error { return nil }
