package main

import (
	"context"
	"time"

	"github.com/surrealdb/surreal-sync/internal/metrics"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

// instrumentedWriter decorates a Writer with the prometheus collectors
// internal/metrics exposes, the way the teacher's internal/common/repository
// wraps repository calls with Instrument rather than threading metrics
// through the library package itself.
type instrumentedWriter struct {
	backend string
	inner   syncpkg.Writer
}

func newInstrumentedWriter(backend string, inner syncpkg.Writer) syncpkg.Writer {
	return &instrumentedWriter{backend: backend, inner: inner}
}

func (w *instrumentedWriter) Apply(ctx context.Context, batch syncpkg.Batch) (syncpkg.WriteResult, error) {
	start := time.Now()
	result, err := w.inner.Apply(ctx, batch)
	metrics.BatchApplyDuration.WithLabelValues(w.backend).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BatchesApplied.WithLabelValues("failed").Inc()
		return result, err
	}
	metrics.BatchesApplied.WithLabelValues("success").Inc()

	tables := make(map[string]int)
	for _, c := range batch.Changes {
		tables[c.Table]++
	}
	for table, n := range tables {
		metrics.RecordsProcessed.WithLabelValues(w.backend, table).Add(float64(n))
	}
	return result, err
}

func (w *instrumentedWriter) Close() error { return w.inner.Close() }

// pinger is implemented by writers/stores that can verify liveness on
// demand; the dry-run writer and any future Writer implementation that
// doesn't support it are simply reported healthy.
type pinger interface {
	Ping(ctx context.Context) error
}

func (w *instrumentedWriter) Ping(ctx context.Context) error {
	if p, ok := w.inner.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// instrumentedAdapter decorates an Adapter's Peek to observe empty-poll
// rate, embedding the inner adapter so every other method passes through
// unchanged.
type instrumentedAdapter struct {
	syncpkg.Adapter
	backend string
}

func newInstrumentedAdapter(backend string, inner syncpkg.Adapter) syncpkg.Adapter {
	return &instrumentedAdapter{Adapter: inner, backend: backend}
}

func (a *instrumentedAdapter) Peek(ctx context.Context, from syncpkg.Checkpoint, max int) ([]syncpkg.ChangeAt, syncpkg.Checkpoint, error) {
	changes, next, err := a.Adapter.Peek(ctx, from, max)
	if err == nil && len(changes) == 0 {
		metrics.AdapterPeekEmpty.WithLabelValues(a.backend).Inc()
	}
	return changes, next, err
}

// instrumentedCheckpointStore decorates a CheckpointStore's Save to count
// persisted envelopes by phase.
type instrumentedCheckpointStore struct {
	syncpkg.CheckpointStore
}

func newInstrumentedCheckpointStore(inner syncpkg.CheckpointStore) syncpkg.CheckpointStore {
	return &instrumentedCheckpointStore{CheckpointStore: inner}
}

func (s *instrumentedCheckpointStore) Save(ctx context.Context, tag string, env syncpkg.CheckpointEnvelope) error {
	err := s.CheckpointStore.Save(ctx, tag, env)
	if err == nil {
		metrics.CheckpointsSaved.WithLabelValues(string(env.Phase)).Inc()
	}
	return err
}

func (s *instrumentedCheckpointStore) Ping(ctx context.Context) error {
	if p, ok := s.CheckpointStore.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
