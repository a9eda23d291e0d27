// Package file implements the JSONL/CSV Source Adapter (spec §4.2.5):
// full-dump-only iteration over a directory of files, with no
// incremental capability and no checkpoints emitted.
package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/surrealdb/surreal-sync/internal/convert"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
	"github.com/surrealdb/surreal-sync/internal/syncerr"
)

// LinkRule rewrites a nested object into a record_link when it carries
// field Key=Value, taking its id from IDField, per spec §4.3: "when a
// nested object has field k=v, replace the object with
// record_link(table, <id field>)". Rules compose; the first match wins.
type LinkRule struct {
	Key     string
	Value   string
	IDField string
	Table   string
}

// Config configures a directory of JSONL/CSV files. The basename (sans
// extension) of each file becomes its target table.
type Config struct {
	Dir       string
	IDField   string // defaults to "id"
	LinkRules []LinkRule
}

func (c Config) idField() string {
	if c.IDField == "" {
		return "id"
	}
	return c.IDField
}

// Adapter implements sync.Adapter over a directory of immutable
// JSONL/CSV files. No capture infrastructure exists to prepare or tear
// down (files are immutable sets), so PrepareFull/CurrentCheckpoint just
// return CheckpointNone.
type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Capabilities() syncpkg.Capabilities {
	return syncpkg.Capabilities{SupportsFull: true, SupportsIncremental: false}
}

func (a *Adapter) PrepareFull(ctx context.Context) (syncpkg.Checkpoint, error) {
	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointNone}, nil
}

func (a *Adapter) CurrentCheckpoint(ctx context.Context) (syncpkg.Checkpoint, error) {
	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointNone}, nil
}

func (a *Adapter) Peek(ctx context.Context, from syncpkg.Checkpoint, max int) ([]syncpkg.ChangeAt, syncpkg.Checkpoint, error) {
	return nil, from, syncerr.New(syncerr.Configuration, "file adapter has no incremental capability")
}

func (a *Adapter) Advance(ctx context.Context, to syncpkg.Checkpoint) error {
	return syncerr.New(syncerr.Configuration, "file adapter has no incremental capability")
}

func (a *Adapter) Close() error { return nil }

// FullIterator walks the configured directory; every .jsonl and .csv
// file is iterated in turn, file basename (sans extension) as table.
func (a *Adapter) FullIterator(ctx context.Context) (syncpkg.RecordIterator, error) {
	entries, err := os.ReadDir(a.cfg.Dir)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Configuration, "read source directory", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jsonl" || ext == ".csv" {
			files = append(files, filepath.Join(a.cfg.Dir, e.Name()))
		}
	}

	return &dirIterator{cfg: a.cfg, files: files}, nil
}

// rowSource yields (id, record) pairs from a single file, hiding the
// JSONL/CSV format difference from dirIterator.
type rowSource interface {
	next() (syncpkg.Id, syncpkg.Record, error, bool)
	close() error
}

type dirIterator struct {
	cfg   Config
	files []string
	idx   int

	table  string
	source rowSource
	id     syncpkg.Id
	rec    syncpkg.Record
	err    error
}

func (it *dirIterator) Next(ctx context.Context) bool {
	for {
		if it.source == nil {
			if it.idx >= len(it.files) {
				return false
			}
			path := it.files[it.idx]
			it.table = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

			src, err := openSource(path, it.cfg.idField())
			if err != nil {
				it.err = err
				return false
			}
			it.source = src
		}

		id, rec, err, ok := it.source.next()
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			it.source.close()
			it.source = nil
			it.idx++
			continue
		}

		rec = applyLinkRules(rec, it.cfg.LinkRules)
		it.id, it.rec = id, rec
		return true
	}
}

func (it *dirIterator) Table() string        { return it.table }
func (it *dirIterator) ID() syncpkg.Id       { return it.id }
func (it *dirIterator) Record() syncpkg.Record { return it.rec }
func (it *dirIterator) Err() error            { return it.err }
func (it *dirIterator) Close() error {
	if it.source != nil {
		return it.source.close()
	}
	return nil
}

func openSource(path, idField string) (rowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return &jsonlSource{f: f, scanner: bufio.NewScanner(f), idField: idField}, nil
	case ".csv":
		r := csv.NewReader(f)
		header, err := r.Read()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read csv header %s: %w", path, err)
		}
		return &csvSource{f: f, r: r, header: header, idField: idField}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported file extension: %s", path)
	}
}

// jsonlSource reads one JSON object per line; the id field (default
// "id", or a configured alternate) is removed from the payload and
// becomes the record id, per spec §4.3.
type jsonlSource struct {
	f       *os.File
	scanner *bufio.Scanner
	idField string
}

func (s *jsonlSource) next() (syncpkg.Id, syncpkg.Record, error, bool) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return syncpkg.Id{}, nil, syncerr.Wrap(syncerr.Conversion, "parse jsonl line", err), false
		}

		rawID, ok := raw[s.idField]
		if !ok {
			return syncpkg.Id{}, nil, syncerr.New(syncerr.Conversion, fmt.Sprintf("jsonl row missing id field %q", s.idField)), false
		}
		delete(raw, s.idField)

		id := syncpkg.ScalarID(convert.JSON(rawID))

		record := make(syncpkg.Record, len(raw))
		for k, v := range raw {
			record[k] = convert.JSON(v)
		}
		return id, record, nil, true
	}
	if err := s.scanner.Err(); err != nil {
		return syncpkg.Id{}, nil, syncerr.Wrap(syncerr.Connectivity, "scan jsonl file", err), false
	}
	return syncpkg.Id{}, nil, nil, false
}

func (s *jsonlSource) close() error { return s.f.Close() }

// csvSource reads RFC-4180 rows; the idField column ("id" unless
// configured otherwise) becomes the record id,
// all other columns are kept as strings (CSV carries no native typing).
type csvSource struct {
	f       *os.File
	r       *csv.Reader
	header  []string
	idField string
}

func (s *csvSource) next() (syncpkg.Id, syncpkg.Record, error, bool) {
	row, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return syncpkg.Id{}, nil, nil, false
		}
		return syncpkg.Id{}, nil, syncerr.Wrap(syncerr.Conversion, "read csv row", err), false
	}

	record := make(syncpkg.Record, len(s.header))
	var id syncpkg.Id
	haveID := false
	for i, col := range s.header {
		if i >= len(row) {
			continue
		}
		if col == s.idField {
			id = syncpkg.ScalarID(syncpkg.StringValue(row[i]))
			haveID = true
			continue
		}
		record[col] = syncpkg.StringValue(row[i])
	}
	if !haveID {
		return syncpkg.Id{}, nil, syncerr.New(syncerr.Conversion, "csv row missing id column"), false
	}
	return id, record, nil, true
}

func (s *csvSource) close() error { return s.f.Close() }

// applyLinkRules rewrites matching nested objects into record_link
// values. Per spec §9, no topological sort across files is needed:
// SurrealDB record links are just (table,id) pairs and upsert is
// idempotent, so rules may reference tables loaded later or the file's
// own table.
func applyLinkRules(rec syncpkg.Record, rules []LinkRule) syncpkg.Record {
	if len(rules) == 0 {
		return rec
	}
	out := make(syncpkg.Record, len(rec))
	for k, v := range rec {
		out[k] = rewriteValue(v, rules)
	}
	return out
}

func rewriteValue(v syncpkg.Value, rules []LinkRule) syncpkg.Value {
	if v.Kind == syncpkg.KindObject {
		for _, rule := range rules {
			if keyVal, ok := v.Object[rule.Key]; ok && keyVal.Kind == syncpkg.KindString && keyVal.String == rule.Value {
				if idVal, ok := v.Object[rule.IDField]; ok {
					return syncpkg.RecordLink(rule.Table, syncpkg.ScalarID(idVal))
				}
			}
		}
		obj := make(map[string]syncpkg.Value, len(v.Object))
		for k, e := range v.Object {
			obj[k] = rewriteValue(e, rules)
		}
		return syncpkg.ObjectValue(obj)
	}
	if v.Kind == syncpkg.KindArray {
		arr := make([]syncpkg.Value, len(v.Array))
		for i, e := range v.Array {
			arr[i] = rewriteValue(e, rules)
		}
		return syncpkg.ArrayValue(arr)
	}
	return v
}

var (
	_ syncpkg.Adapter        = (*Adapter)(nil)
	_ syncpkg.RecordIterator = (*dirIterator)(nil)
)
