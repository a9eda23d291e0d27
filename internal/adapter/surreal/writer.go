// Package surreal implements the Target Writer (C5) against a real
// SurrealDB instance, grounded on the wire patterns shown in the
// surrealdb.go contrib dumper (generic surrealdb.Query[T] calls,
// db.Use namespace/database selection) and on the teacher's batched
// HTTP client (internal/outbox/api_client.go) for the batching shape.
package surreal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/surrealdb/surrealdb.go"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

// Config configures the connection to the target SurrealDB instance.
type Config struct {
	Endpoint  string // http://, ws://, or wss://
	Namespace string
	Database  string
	Username  string
	Password  string
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{Endpoint: "http://localhost:8000", Timeout: 30 * time.Second}
}

// Writer batches upserts and deletions against SurrealDB, idempotent by
// (table, id), per spec §4.5.
type Writer struct {
	db *surrealdb.DB
}

// New connects, authenticates, and selects the namespace/database named
// by cfg.
func New(ctx context.Context, cfg Config) (*Writer, error) {
	db, err := surrealdb.New(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to surrealdb at %s: %w", cfg.Endpoint, err)
	}

	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}); err != nil {
			return nil, fmt.Errorf("surrealdb sign in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("surrealdb use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	return &Writer{db: db}, nil
}

// Apply translates every change in the batch into an UPSERT or DELETE
// SurrealQL statement keyed by (table, id), preserving batch order.
// Transport failure fails the whole batch; the coordinator retries via
// peek-process-advance rather than this writer retrying internally.
func (w *Writer) Apply(ctx context.Context, batch syncpkg.Batch) (syncpkg.WriteResult, error) {
	applied := 0
	for _, change := range batch.Changes {
		recordID := recordIDString(change.ID)
		thing := fmt.Sprintf("%s:%s", change.Table, recordID)

		switch change.Op {
		case syncpkg.OpUpsert:
			vars := map[string]any{"data": recordToMap(change.Record)}
			query := fmt.Sprintf("UPSERT %s CONTENT $data", thing)
			if _, err := surrealdb.Query[any](ctx, w.db, query, vars); err != nil {
				return syncpkg.WriteResult{Applied: applied, Err: err}, fmt.Errorf("upsert %s: %w", thing, err)
			}
		case syncpkg.OpDelete:
			query := fmt.Sprintf("DELETE %s", thing)
			if _, err := surrealdb.Query[any](ctx, w.db, query, nil); err != nil {
				return syncpkg.WriteResult{Applied: applied, Err: err}, fmt.Errorf("delete %s: %w", thing, err)
			}
		}
		applied++
	}

	slog.Debug("applied batch to surrealdb", "changes", applied)
	return syncpkg.WriteResult{Applied: applied}, nil
}

func (w *Writer) Close() error {
	return w.db.Close()
}

// Ping verifies the connection is still live by round-tripping a
// no-op query, for use by the health server's SurrealDB readiness
// check.
func (w *Writer) Ping(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, w.db, "RETURN 1", nil)
	if err != nil {
		return fmt.Errorf("ping surrealdb: %w", err)
	}
	return nil
}

// recordIDString renders an Id as the bare id component of a SurrealDB
// thing `table:id`. Composite ids render as a SurrealQL array literal,
// so order_items:[7,1] addresses a composite-key row per spec §8
// scenario 3.
func recordIDString(id syncpkg.Id) string {
	if !id.IsComposite() {
		return valueLiteral(id.Scalar)
	}
	parts := make([]string, len(id.Composite))
	for i, v := range id.Composite {
		parts[i] = valueLiteral(v)
	}
	out := "["
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out + "]"
}

func valueLiteral(v syncpkg.Value) string {
	switch v.Kind {
	case syncpkg.KindString:
		return fmt.Sprintf("%q", v.String)
	case syncpkg.KindInt64:
		return fmt.Sprintf("%d", v.Int64)
	case syncpkg.KindUUID:
		return fmt.Sprintf("%q", v.UUID)
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", v))
	}
}

// recordToMap flattens a Record into a plain map suitable as a bound
// query variable; nested Values recurse through valueToAny.
func recordToMap(r syncpkg.Record) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v syncpkg.Value) any {
	switch v.Kind {
	case syncpkg.KindNull:
		return nil
	case syncpkg.KindBool:
		return v.Bool
	case syncpkg.KindInt64:
		return v.Int64
	case syncpkg.KindFloat64:
		return v.Float64
	case syncpkg.KindDecimal:
		return v.Decimal
	case syncpkg.KindString:
		return v.String
	case syncpkg.KindBytes:
		return v.Bytes
	case syncpkg.KindDatetime:
		return v.Datetime
	case syncpkg.KindDuration:
		return v.Duration.String()
	case syncpkg.KindUUID:
		return v.UUID
	case syncpkg.KindRegex:
		return v.Regex
	case syncpkg.KindArray:
		arr := make([]any, len(v.Array))
		for i, e := range v.Array {
			arr[i] = valueToAny(e)
		}
		return arr
	case syncpkg.KindObject:
		obj := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			obj[k] = valueToAny(e)
		}
		return obj
	case syncpkg.KindRecordLink:
		return fmt.Sprintf("%s:%s", v.LinkTable, recordIDString(*v.LinkID))
	default:
		return nil
	}
}

var _ syncpkg.Writer = (*Writer)(nil)
