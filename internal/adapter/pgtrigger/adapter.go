// Package pgtrigger implements the PostgreSQL trigger-based Source
// Adapter (spec §4.2.2): an audit table fed by AFTER INSERT/UPDATE/DELETE
// triggers, read with sequence checkpoints. Query shape is grounded on
// the teacher's internal/outbox/repository_postgres.go ($N placeholders,
// fmt.Sprintf table/trigger names, scanItems-style row decoding).
package pgtrigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/surrealdb/surreal-sync/internal/convert"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
	"github.com/surrealdb/surreal-sync/internal/syncerr"
)

const auditTable = "surreal_sync_changes"

// Config names the tables to capture and the connection to use.
type Config struct {
	DSN    string
	Tables []string
}

// Adapter implements sync.Adapter against PostgreSQL using row-level
// triggers and an audit table. pkByTable caches each captured table's
// primary-key columns, discovered once during PrepareFull, so the
// full-dump path derives the same record id shape as the trigger-captured
// incremental path (spec §4.3 — "the primary key ... becomes the record
// id").
type Adapter struct {
	db  *sql.DB
	cfg Config

	pkByTable map[string][]string
}

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Connectivity, "open postgres connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, syncerr.Wrap(syncerr.Connectivity, "ping postgres", err)
	}
	return &Adapter{db: db, cfg: cfg, pkByTable: make(map[string][]string)}, nil
}

func (a *Adapter) Capabilities() syncpkg.Capabilities {
	return syncpkg.Capabilities{SupportsFull: true, SupportsIncremental: true, CapturesDeletes: true, SupportsTo: true}
}

// PrepareFull creates the audit table, introspects each configured table's
// columns and primary key, installs a per-table trigger function scoping
// row_identity to the primary key (mirroring mysqltrigger's
// jsonObjectExpr-over-pk approach), and reads MAX(seq) as cp_t1, per
// spec §4.2.2.
func (a *Adapter) PrepareFull(ctx context.Context) (syncpkg.Checkpoint, error) {
	createAudit := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			table_name text NOT NULL,
			operation char(1) NOT NULL,
			row_identity jsonb NOT NULL,
			row_data jsonb,
			changed_at timestamptz NOT NULL DEFAULT now()
		)`, auditTable)
	if _, err := a.db.ExecContext(ctx, createAudit); err != nil {
		return syncpkg.Checkpoint{}, syncerr.Wrap(syncerr.CaptureSetup, "create audit table", err)
	}

	for _, table := range a.cfg.Tables {
		cols, pk, err := a.introspect(ctx, table)
		if err != nil {
			return syncpkg.Checkpoint{}, err
		}
		a.pkByTable[table] = pk
		if err := a.installTrigger(ctx, table, cols, pk); err != nil {
			return syncpkg.Checkpoint{}, err
		}
	}

	var maxSeq sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(seq) FROM %s", auditTable)
	if err := a.db.QueryRowContext(ctx, query).Scan(&maxSeq); err != nil {
		return syncpkg.Checkpoint{}, syncerr.Wrap(syncerr.CaptureSetup, "read max seq", err)
	}

	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: maxSeq.Int64}, nil
}

// introspect reads a table's column list and primary-key columns from
// information_schema, the same catalog mysqltrigger.introspect reads —
// PostgreSQL just needs the constraint join since information_schema.columns
// alone carries no key designation the way MySQL's COLUMN_KEY does.
func (a *Adapter) introspect(ctx context.Context, table string) (cols, pk []string, err error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, nil, syncerr.Wrap(syncerr.CaptureSetup, fmt.Sprintf("introspect columns for %s", table), err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, nil, syncerr.Wrap(syncerr.CaptureSetup, "scan column metadata", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, syncerr.Wrap(syncerr.CaptureSetup, "iterate column metadata", err)
	}
	rows.Close()
	if len(cols) == 0 {
		return nil, nil, syncerr.New(syncerr.CaptureSetup, fmt.Sprintf("table %s has no columns or does not exist", table))
	}

	pkRows, err := a.db.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = current_schema() AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`, table)
	if err != nil {
		return nil, nil, syncerr.Wrap(syncerr.CaptureSetup, fmt.Sprintf("introspect primary key for %s", table), err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, nil, syncerr.Wrap(syncerr.CaptureSetup, "scan primary key metadata", err)
		}
		pk = append(pk, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, nil, syncerr.Wrap(syncerr.CaptureSetup, "iterate primary key metadata", err)
	}
	if len(pk) == 0 {
		pk = cols // no declared primary key: fall back to every column
	}
	return cols, pk, nil
}

// jsonbObjectExpr renders a jsonb_build_object(...) expression over cols,
// qualified by alias (NEW/OLD) — the Postgres analogue of mysqltrigger's
// JSON_OBJECT expression builder.
func jsonbObjectExpr(alias string, cols []string) string {
	expr := "jsonb_build_object("
	for i, c := range cols {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("'%s', %s.%s", c, alias, c)
	}
	return expr + ")"
}

// installTrigger creates a per-table capture function so row_identity can
// be scoped to that table's own primary-key columns: a single generic
// trigger function has no way to know each table's key shape at
// trigger-creation time.
func (a *Adapter) installTrigger(ctx context.Context, table string, cols, pk []string) error {
	fnName := fmt.Sprintf("%s_capture", table)
	identityNew := jsonbObjectExpr("NEW", pk)
	identityOld := jsonbObjectExpr("OLD", pk)
	dataExpr := jsonbObjectExpr("NEW", cols)

	createFn := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				INSERT INTO %s(table_name, operation, row_identity, row_data)
				VALUES (TG_TABLE_NAME, 'D', %s, NULL);
				RETURN OLD;
			ELSE
				INSERT INTO %s(table_name, operation, row_identity, row_data)
				VALUES (TG_TABLE_NAME, substr(TG_OP, 1, 1), %s, %s);
				RETURN NEW;
			END IF;
		END;
		$$ LANGUAGE plpgsql`, fnName, auditTable, identityOld, auditTable, identityNew, dataExpr)
	if _, err := a.db.ExecContext(ctx, createFn); err != nil {
		return syncerr.Wrap(syncerr.CaptureSetup, fmt.Sprintf("create capture function for %s", table), err)
	}

	trigger := fmt.Sprintf(`
		DROP TRIGGER IF EXISTS %s_capture_trigger ON %s;
		CREATE TRIGGER %s_capture_trigger
		AFTER INSERT OR UPDATE OR DELETE ON %s
		FOR EACH ROW EXECUTE FUNCTION %s()`,
		table, table, table, table, fnName)
	if _, err := a.db.ExecContext(ctx, trigger); err != nil {
		return syncerr.Wrap(syncerr.CaptureSetup, fmt.Sprintf("install trigger on %s", table), err)
	}
	return nil
}

// DropCapture tears down every per-table trigger and capture function, and
// the shared audit table. Never called automatically by the coordinator —
// an explicit operation per spec §5.
func (a *Adapter) DropCapture(ctx context.Context) error {
	for _, table := range a.cfg.Tables {
		drop := fmt.Sprintf("DROP TRIGGER IF EXISTS %s_capture_trigger ON %s", table, table)
		if _, err := a.db.ExecContext(ctx, drop); err != nil {
			return syncerr.Wrap(syncerr.Configuration, fmt.Sprintf("drop trigger on %s", table), err)
		}
		dropFn := fmt.Sprintf("DROP FUNCTION IF EXISTS %s_capture()", table)
		if _, err := a.db.ExecContext(ctx, dropFn); err != nil {
			return syncerr.Wrap(syncerr.Configuration, fmt.Sprintf("drop capture function for %s", table), err)
		}
	}
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", auditTable)); err != nil {
		return syncerr.Wrap(syncerr.Configuration, "drop audit table", err)
	}
	return nil
}

func (a *Adapter) FullIterator(ctx context.Context) (syncpkg.RecordIterator, error) {
	return &fullIterator{ctx: ctx, db: a.db, tables: a.cfg.Tables, pkByTable: a.pkByTable}, nil
}

func (a *Adapter) CurrentCheckpoint(ctx context.Context) (syncpkg.Checkpoint, error) {
	var maxSeq sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(seq) FROM %s", auditTable)
	if err := a.db.QueryRowContext(ctx, query).Scan(&maxSeq); err != nil {
		return syncpkg.Checkpoint{}, syncerr.Wrap(syncerr.Connectivity, "read current seq", err)
	}
	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: maxSeq.Int64}, nil
}

// Peek issues SELECT ... WHERE seq > from ORDER BY seq LIMIT max,
// returning each row's seq as its per-change checkpoint (spec §4.2.2).
func (a *Adapter) Peek(ctx context.Context, from syncpkg.Checkpoint, max int) ([]syncpkg.ChangeAt, syncpkg.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT seq, table_name, operation, row_identity, row_data
		FROM %s
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`, auditTable)

	rows, err := a.db.QueryContext(ctx, query, from.SequenceID, max)
	if err != nil {
		return nil, from, syncerr.Wrap(syncerr.Connectivity, "peek audit table", err)
	}
	defer rows.Close()

	var out []syncpkg.ChangeAt
	next := from
	for rows.Next() {
		var seq int64
		var table, op string
		var rowIdentity, rowData []byte
		if err := rows.Scan(&seq, &table, &op, &rowIdentity, &rowData); err != nil {
			return nil, from, syncerr.Wrap(syncerr.Conversion, "scan audit row", err)
		}

		change, err := toChange(table, op, rowIdentity, rowData)
		if err != nil {
			return nil, from, err
		}

		cp := syncpkg.Checkpoint{Kind: syncpkg.CheckpointSequence, SequenceID: seq}
		out = append(out, syncpkg.ChangeAt{Checkpoint: cp, Change: change})
		next = cp
	}
	if err := rows.Err(); err != nil {
		return nil, from, syncerr.Wrap(syncerr.Connectivity, "iterate audit rows", err)
	}
	return out, next, nil
}

// Advance is logical only — no server-side delete. A separate
// housekeeping task (not part of the coordinator) prunes audit rows
// older than a retention window, per spec §4.2.2.
func (a *Adapter) Advance(ctx context.Context, to syncpkg.Checkpoint) error {
	return nil
}

func (a *Adapter) Close() error { return a.db.Close() }

// toChange maps an audit row into a unified Change per spec §4.2.2:
// "I/U -> Upsert(row_data); D -> Delete(row_identity)". row_identity is
// already scoped to the table's primary-key columns by installTrigger, so
// deriveID only ever composites exactly those columns.
func toChange(table, op string, rowIdentity, rowData []byte) (syncpkg.Change, error) {
	var identity map[string]any
	if err := json.Unmarshal(rowIdentity, &identity); err != nil {
		return syncpkg.Change{}, syncerr.Wrap(syncerr.Conversion, "unmarshal row_identity", err)
	}
	id, err := deriveID(identity)
	if err != nil {
		return syncpkg.Change{}, err
	}

	if op == "D" {
		return syncpkg.Delete(table, id), nil
	}

	var data map[string]any
	if err := json.Unmarshal(rowData, &data); err != nil {
		return syncpkg.Change{}, syncerr.Wrap(syncerr.Conversion, "unmarshal row_data", err)
	}
	record := make(syncpkg.Record, len(data))
	for k, v := range data {
		record[k] = convert.JSON(v)
	}
	return syncpkg.Upsert(table, id, record), nil
}

// deriveID converts a decoded primary-key-only row_identity into an Id.
func deriveID(row map[string]any) (syncpkg.Id, error) {
	cols := make([]string, 0, len(row))
	vals := make(map[string]syncpkg.Value, len(row))
	for k, v := range row {
		cols = append(cols, k)
		vals[k] = convert.JSON(v)
	}
	return idFromValues(cols, vals)
}

// idFromValues builds a deterministic Id from already-converted primary
// key column values: a single column becomes a scalar id, multiple
// columns composite in column-name sort order. The same sort order is
// used by both the full-dump and incremental paths so a row's id never
// depends on which path encountered it (spec §4.3, §8 scenario 3).
func idFromValues(cols []string, vals map[string]syncpkg.Value) (syncpkg.Id, error) {
	if len(cols) == 0 {
		return syncpkg.Id{}, syncerr.New(syncerr.Conversion, "row identity has no columns")
	}
	sorted := append([]string(nil), cols...)
	sortStrings(sorted)
	if len(sorted) == 1 {
		return syncpkg.ScalarID(vals[sorted[0]]), nil
	}
	out := make([]syncpkg.Value, len(sorted))
	for i, c := range sorted {
		out[i] = vals[c]
	}
	return syncpkg.CompositeID(out...), nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// fullIterator scans every configured table with an ordinary SELECT *.
type fullIterator struct {
	ctx       context.Context
	db        *sql.DB
	tables    []string
	pkByTable map[string][]string

	idx      int
	rows     *sql.Rows
	cols     []string
	colTypes map[string]string
	cur      map[string]any
	err      error
}

func (it *fullIterator) Next(ctx context.Context) bool {
	for {
		if it.rows == nil {
			if it.idx >= len(it.tables) {
				return false
			}
			query := fmt.Sprintf("SELECT * FROM %s", it.tables[it.idx])
			rows, err := it.db.QueryContext(ctx, query)
			if err != nil {
				it.err = fmt.Errorf("scan table %s: %w", it.tables[it.idx], err)
				return false
			}
			cols, err := rows.Columns()
			if err != nil {
				it.err = err
				return false
			}
			ctypes, err := rows.ColumnTypes()
			if err != nil {
				it.err = err
				return false
			}
			types := make(map[string]string, len(ctypes))
			for _, ct := range ctypes {
				types[ct.Name()] = ct.DatabaseTypeName()
			}
			it.rows = rows
			it.cols = cols
			it.colTypes = types
		}

		if it.rows.Next() {
			values := make([]any, len(it.cols))
			ptrs := make([]any, len(it.cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := it.rows.Scan(ptrs...); err != nil {
				it.err = err
				return false
			}
			row := make(map[string]any, len(it.cols))
			for i, c := range it.cols {
				row[c] = normalizeScanned(values[i])
			}
			it.cur = row
			return true
		}

		if err := it.rows.Err(); err != nil {
			it.err = err
			return false
		}
		it.rows.Close()
		it.rows = nil
		it.idx++
	}
}

func (it *fullIterator) Table() string { return it.tables[it.idx] }

// ID derives the record id from exactly the table's introspected primary
// key columns, so it matches the incremental path's row_identity-derived
// id for the same row (spec §4.3, §8 scenario 2).
func (it *fullIterator) ID() syncpkg.Id {
	table := it.tables[it.idx]
	pk := it.pkByTable[table]
	vals := make(map[string]syncpkg.Value, len(pk))
	for _, c := range pk {
		vals[c] = scannedToValue(it.cur[c], it.colTypes[c])
	}
	id, err := idFromValues(pk, vals)
	if err != nil {
		it.err = err
	}
	return id
}

func (it *fullIterator) Record() syncpkg.Record {
	record := make(syncpkg.Record, len(it.cur))
	for k, v := range it.cur {
		record[k] = scannedToValue(v, it.colTypes[k])
	}
	return record
}

func (it *fullIterator) Err() error { return it.err }

func (it *fullIterator) Close() error {
	if it.rows != nil {
		return it.rows.Close()
	}
	return nil
}

// normalizeScanned keeps driver-returned values as-is; pgx returns Go
// native types directly for most columns (int64, string, time.Time,
// []byte for bytea/numeric), so no extra decoding layer is needed here.
func normalizeScanned(v any) any { return v }

// scannedToValue converts a pgx-scanned column into the unified Value
// model. []byte columns are disambiguated by their declared database
// type rather than by attempting a decimal parse, since a genuine bytea
// payload can parse as neither a valid decimal nor anything recoverable
// once misrouted (spec §4.3 — "native binary types map to bytes").
func scannedToValue(v any, dbType string) syncpkg.Value {
	switch t := v.(type) {
	case nil:
		return syncpkg.Null()
	case bool:
		return syncpkg.BoolValue(t)
	case int64:
		return syncpkg.Int64Value(t)
	case int32:
		return syncpkg.Int64Value(int64(t))
	case float64:
		return syncpkg.Float64Value(t)
	case float32:
		return convert.Float32(t)
	case string:
		return syncpkg.StringValue(t)
	case time.Time:
		return syncpkg.DatetimeValue(t)
	case []byte:
		return convert.ScannedBytes(dbType, t)
	default:
		return syncpkg.StringValue(fmt.Sprintf("%v", t))
	}
}

var (
	_ syncpkg.Adapter        = (*Adapter)(nil)
	_ syncpkg.CaptureDropper = (*Adapter)(nil)
)
