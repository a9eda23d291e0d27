// Package neo4j implements the Neo4j timestamp-watermark Source Adapter
// (spec §4.2.4): nodes and relationships carrying an updated_at property
// are polled in updated_at order, generalizing the reconnect/backoff
// polling shape of internal/stream/watcher.go from a resume token to a
// timestamp watermark. Nodes are captured by label (each label becomes a
// table); relationships are captured by type, named in Config.RelTypes,
// each becoming a table of its own whose rows carry the endpoint node ids
// alongside the relationship's own properties. Neo4j has no native delete
// capture, so Capabilities().CapturesDeletes is false (spec §4.2.4
// Non-goal).
package neo4j

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/surrealdb/surreal-sync/internal/convert"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
	"github.com/surrealdb/surreal-sync/internal/syncerr"
)

// Config names the labels to capture and the watermark property.
type Config struct {
	URI      string
	Username string
	Password string
	Database string

	// Labels lists the node labels to capture; each becomes a table.
	Labels []string

	// RelTypes lists the relationship types to capture (spec §4.2.4:
	// "nodes/relationships carrying an updated_at property are polled").
	// Each becomes a table of its own, named after the relationship type,
	// whose rows carry the endpoint node ids (_start, _end) alongside the
	// relationship's own properties.
	RelTypes []string

	// TimestampProperty is the node or relationship property used as the
	// watermark,
	// defaulting to "updated_at".
	TimestampProperty string

	// Timezone interprets naive (non-zoned) Neo4j datetimes, since the
	// driver otherwise returns them with no offset information.
	Timezone *time.Location
}

func (c Config) timestampProperty() string {
	if c.TimestampProperty == "" {
		return "updated_at"
	}
	return c.TimestampProperty
}

func (c Config) timezone() *time.Location {
	if c.Timezone == nil {
		return time.UTC
	}
	return c.Timezone
}

type Adapter struct {
	driver neo4j.DriverWithContext
	cfg    Config
}

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Connectivity, "create neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, syncerr.Wrap(syncerr.Connectivity, "verify neo4j connectivity", err)
	}
	return &Adapter{driver: driver, cfg: cfg}, nil
}

func (a *Adapter) Capabilities() syncpkg.Capabilities {
	return syncpkg.Capabilities{SupportsFull: true, SupportsIncremental: true, CapturesDeletes: false, SupportsTo: true}
}

// PrepareFull reads the current maximum watermark across every captured
// label as cp_t1, per spec §4.2.4.
func (a *Adapter) PrepareFull(ctx context.Context) (syncpkg.Checkpoint, error) {
	return a.CurrentCheckpoint(ctx)
}

// FullIterator streams every node of every captured label, then every
// relationship of every captured type. The adapter has no DropCapture:
// watermark polling installs no server-side infrastructure to tear down.
func (a *Adapter) FullIterator(ctx context.Context) (syncpkg.RecordIterator, error) {
	return &fullIterator{ctx: ctx, driver: a.driver, cfg: a.cfg}, nil
}

func (a *Adapter) CurrentCheckpoint(ctx context.Context) (syncpkg.Checkpoint, error) {
	session := a.session(ctx)
	defer session.Close(ctx)

	var max time.Time
	for _, label := range a.cfg.Labels {
		query := fmt.Sprintf("MATCH (n:%s) RETURN max(n.%s) AS m", label, a.cfg.timestampProperty())
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return syncpkg.Checkpoint{}, syncerr.Wrap(syncerr.Connectivity, fmt.Sprintf("read watermark for %s", label), err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			continue // label has no nodes yet
		}
		v, ok := record.Get("m")
		if !ok || v == nil {
			continue
		}
		t := neo4jTimeToGo(v, a.cfg.timezone())
		if t.After(max) {
			max = t
		}
	}
	for _, relType := range a.cfg.RelTypes {
		query := fmt.Sprintf("MATCH ()-[r:%s]->() RETURN max(r.%s) AS m", relType, a.cfg.timestampProperty())
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return syncpkg.Checkpoint{}, syncerr.Wrap(syncerr.Connectivity, fmt.Sprintf("read watermark for relationship type %s", relType), err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			continue // relationship type has no edges yet
		}
		v, ok := record.Get("m")
		if !ok || v == nil {
			continue
		}
		t := neo4jTimeToGo(v, a.cfg.timezone())
		if t.After(max) {
			max = t
		}
	}
	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointTimestamp, Timestamp: max}, nil
}

// Peek returns nodes and relationships whose watermark exceeds
// from.Timestamp across every captured label and relationship type,
// ordered by watermark and capped at max in total.
func (a *Adapter) Peek(ctx context.Context, from syncpkg.Checkpoint, max int) ([]syncpkg.ChangeAt, syncpkg.Checkpoint, error) {
	session := a.session(ctx)
	defer session.Close(ctx)

	var out []syncpkg.ChangeAt
	next := from
	for _, label := range a.cfg.Labels {
		query := fmt.Sprintf(`
			MATCH (n:%s)
			WHERE n.%s > $from
			RETURN n
			ORDER BY n.%s
			LIMIT $max`, label, a.cfg.timestampProperty(), a.cfg.timestampProperty())
		result, err := session.Run(ctx, query, map[string]any{"from": from.Timestamp, "max": max})
		if err != nil {
			return nil, from, syncerr.Wrap(syncerr.Connectivity, fmt.Sprintf("peek watermark rows for %s", label), err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, from, syncerr.Wrap(syncerr.Connectivity, "collect watermark rows", err)
		}
		for _, record := range records {
			v, _ := record.Get("n")
			node, ok := v.(neo4j.Node)
			if !ok {
				continue
			}
			change, ts := a.toChange(label, node)
			cp := syncpkg.Checkpoint{Kind: syncpkg.CheckpointTimestamp, Timestamp: ts}
			out = append(out, syncpkg.ChangeAt{Checkpoint: cp, Change: change})
			if cp.Timestamp.After(next.Timestamp) {
				next = cp
			}
		}
	}
	for _, relType := range a.cfg.RelTypes {
		query := fmt.Sprintf(`
			MATCH ()-[r:%s]->()
			WHERE r.%s > $from
			RETURN r
			ORDER BY r.%s
			LIMIT $max`, relType, a.cfg.timestampProperty(), a.cfg.timestampProperty())
		result, err := session.Run(ctx, query, map[string]any{"from": from.Timestamp, "max": max})
		if err != nil {
			return nil, from, syncerr.Wrap(syncerr.Connectivity, fmt.Sprintf("peek watermark rows for relationship type %s", relType), err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, from, syncerr.Wrap(syncerr.Connectivity, "collect watermark rows", err)
		}
		for _, record := range records {
			v, _ := record.Get("r")
			rel, ok := v.(neo4j.Relationship)
			if !ok {
				continue
			}
			change, ts := a.toRelChange(relType, rel)
			cp := syncpkg.Checkpoint{Kind: syncpkg.CheckpointTimestamp, Timestamp: ts}
			out = append(out, syncpkg.ChangeAt{Checkpoint: cp, Change: change})
			if cp.Timestamp.After(next.Timestamp) {
				next = cp
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Checkpoint.Timestamp.Before(out[j].Checkpoint.Timestamp)
	})
	if len(out) > max {
		out = out[:max]
		next = from
		for _, ca := range out {
			if ca.Checkpoint.Timestamp.After(next.Timestamp) {
				next = ca.Checkpoint
			}
		}
	}
	return out, next, nil
}

// Advance is a no-op: the watermark is read fresh from node properties
// on every Peek, so there is no separate server-side cursor to move.
func (a *Adapter) Advance(ctx context.Context, to syncpkg.Checkpoint) error { return nil }

func (a *Adapter) Close() error { return a.driver.Close(context.Background()) }

func (a *Adapter) session(ctx context.Context) neo4j.SessionWithContext {
	return a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.cfg.Database})
}

func (a *Adapter) toChange(label string, node neo4j.Node) (syncpkg.Change, time.Time) {
	id := syncpkg.ScalarID(syncpkg.Int64Value(node.Id))
	record := make(syncpkg.Record, len(node.Props))
	var ts time.Time
	for k, v := range node.Props {
		val := convert.JSON(normalizeNeo4jValue(v, a.cfg.timezone()))
		record[k] = val
		if k == a.cfg.timestampProperty() {
			ts = neo4jTimeToGo(v, a.cfg.timezone())
		}
	}
	return syncpkg.Upsert(label, id, record), ts
}

// toRelChange converts a relationship into a Change, naming its table
// after the relationship type and carrying the endpoint node ids
// alongside the relationship's own properties, per spec §4.2.4.
func (a *Adapter) toRelChange(relType string, rel neo4j.Relationship) (syncpkg.Change, time.Time) {
	id := syncpkg.ScalarID(syncpkg.Int64Value(rel.Id))
	record := make(syncpkg.Record, len(rel.Props)+2)
	record["_start"] = syncpkg.Int64Value(rel.StartId)
	record["_end"] = syncpkg.Int64Value(rel.EndId)
	var ts time.Time
	for k, v := range rel.Props {
		val := convert.JSON(normalizeNeo4jValue(v, a.cfg.timezone()))
		record[k] = val
		if k == a.cfg.timestampProperty() {
			ts = neo4jTimeToGo(v, a.cfg.timezone())
		}
	}
	return syncpkg.Upsert(relType, id, record), ts
}

// neo4jTimeToGo converts the driver's datetime types to Go time.Time.
// Naive LocalDateTime values carry no offset, so the configured timezone
// resolves them, per spec §4.3's Neo4j timezone note.
func neo4jTimeToGo(v any, tz *time.Location) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case neo4j.LocalDateTime:
		w := time.Time(t)
		return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), tz).UTC()
	case neo4j.Date:
		w := time.Time(t)
		return time.Date(w.Year(), w.Month(), w.Day(), 0, 0, 0, 0, tz).UTC()
	default:
		return time.Time{}
	}
}

// normalizeNeo4jValue widens driver-specific types (nodes, relationships,
// points, durations, spatial/temporal kinds) to plain Go values that
// convert.JSON already knows how to fold into the unified Value model.
func normalizeNeo4jValue(v any, tz *time.Location) any {
	switch t := v.(type) {
	case neo4j.Duration:
		return t.String()
	case neo4j.Point2D:
		return convert.GeoPoint(int64(t.SpatialRefId), t.X, t.Y)
	case neo4j.Point3D:
		return convert.GeoPoint(int64(t.SpatialRefId), t.X, t.Y, t.Z)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case neo4j.LocalDateTime, neo4j.Date:
		return neo4jTimeToGo(v, tz).Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNeo4jValue(e, tz)
		}
		return out
	default:
		return v
	}
}

// fullIterator streams every node of every configured label, then every
// relationship of every configured type, via ordinary session queries
// paged by skip/limit.
type fullIterator struct {
	ctx    context.Context
	driver neo4j.DriverWithContext
	cfg    Config

	labelIdx  int
	relIdx    int
	onRel     bool
	skip      int
	nodeBatch []neo4j.Node
	relBatch  []neo4j.Relationship
	batchIdx  int
	curNode   neo4j.Node
	curRel    neo4j.Relationship
	err       error
}

const fullScanPageSize = 500

func (it *fullIterator) Next(ctx context.Context) bool {
	for {
		if !it.onRel {
			if it.batchIdx < len(it.nodeBatch) {
				it.curNode = it.nodeBatch[it.batchIdx]
				it.batchIdx++
				return true
			}
			if it.labelIdx >= len(it.cfg.Labels) {
				it.onRel = true
				it.skip = 0
				it.batchIdx = 0
				continue
			}

			session := it.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: it.cfg.Database})
			query := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY id(n) SKIP $skip LIMIT $limit", it.cfg.Labels[it.labelIdx])
			result, err := session.Run(ctx, query, map[string]any{"skip": it.skip, "limit": fullScanPageSize})
			if err != nil {
				session.Close(ctx)
				it.err = err
				return false
			}
			records, err := result.Collect(ctx)
			session.Close(ctx)
			if err != nil {
				it.err = err
				return false
			}

			if len(records) == 0 {
				it.labelIdx++
				it.skip = 0
				continue
			}

			nodes := make([]neo4j.Node, 0, len(records))
			for _, r := range records {
				if v, ok := r.Get("n"); ok {
					if n, ok := v.(neo4j.Node); ok {
						nodes = append(nodes, n)
					}
				}
			}
			it.nodeBatch = nodes
			it.batchIdx = 0
			it.skip += len(records)
			continue
		}

		if it.batchIdx < len(it.relBatch) {
			it.curRel = it.relBatch[it.batchIdx]
			it.batchIdx++
			return true
		}
		if it.relIdx >= len(it.cfg.RelTypes) {
			return false
		}

		session := it.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: it.cfg.Database})
		query := fmt.Sprintf("MATCH ()-[r:%s]->() RETURN r ORDER BY id(r) SKIP $skip LIMIT $limit", it.cfg.RelTypes[it.relIdx])
		result, err := session.Run(ctx, query, map[string]any{"skip": it.skip, "limit": fullScanPageSize})
		if err != nil {
			session.Close(ctx)
			it.err = err
			return false
		}
		records, err := result.Collect(ctx)
		session.Close(ctx)
		if err != nil {
			it.err = err
			return false
		}

		if len(records) == 0 {
			it.relIdx++
			it.skip = 0
			continue
		}

		rels := make([]neo4j.Relationship, 0, len(records))
		for _, r := range records {
			if v, ok := r.Get("r"); ok {
				if rel, ok := v.(neo4j.Relationship); ok {
					rels = append(rels, rel)
				}
			}
		}
		it.relBatch = rels
		it.batchIdx = 0
		it.skip += len(records)
	}
}

func (it *fullIterator) Table() string {
	if it.onRel {
		return it.cfg.RelTypes[it.relIdx]
	}
	return it.cfg.Labels[it.labelIdx]
}

func (it *fullIterator) ID() syncpkg.Id {
	if it.onRel {
		return syncpkg.ScalarID(syncpkg.Int64Value(it.curRel.Id))
	}
	return syncpkg.ScalarID(syncpkg.Int64Value(it.curNode.Id))
}

func (it *fullIterator) Record() syncpkg.Record {
	if it.onRel {
		record := make(syncpkg.Record, len(it.curRel.Props)+2)
		record["_start"] = syncpkg.Int64Value(it.curRel.StartId)
		record["_end"] = syncpkg.Int64Value(it.curRel.EndId)
		for k, v := range it.curRel.Props {
			record[k] = convert.JSON(normalizeNeo4jValue(v, it.cfg.timezone()))
		}
		return record
	}
	record := make(syncpkg.Record, len(it.curNode.Props))
	for k, v := range it.curNode.Props {
		record[k] = convert.JSON(normalizeNeo4jValue(v, it.cfg.timezone()))
	}
	return record
}

func (it *fullIterator) Err() error   { return it.err }
func (it *fullIterator) Close() error { return nil }

var _ syncpkg.Adapter = (*Adapter)(nil)
