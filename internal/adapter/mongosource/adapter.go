// Package mongosource implements the MongoDB native change-stream Source
// Adapter (spec §4.2.1), adapted from the teacher's
// internal/stream/watcher.go resume-token watch loop: the same
// reconnect/backoff and stale-resume-token detection, pulled into the
// peek/advance shape the coordinator drives rather than the teacher's
// push-style background watcher.
package mongosource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/surrealdb/surreal-sync/internal/convert"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
	"github.com/surrealdb/surreal-sync/internal/syncerr"
)

const (
	initialBackoff    = 5 * time.Second
	maxBackoff        = 60 * time.Second
	backoffMultiplier = 2.0
)

// Config configures a single database's worth of collections to sync.
type Config struct {
	Database    string
	Collections []string // empty -> discover all collections
}

// Adapter implements sync.Adapter against MongoDB change streams.
type Adapter struct {
	client *mongo.Client
	cfg    Config

	stream  *mongo.ChangeStream
	backoff time.Duration
}

func New(client *mongo.Client, cfg Config) *Adapter {
	return &Adapter{client: client, cfg: cfg, backoff: initialBackoff}
}

func (a *Adapter) Capabilities() syncpkg.Capabilities {
	return syncpkg.Capabilities{
		SupportsFull:        true,
		SupportsIncremental: true,
		CapturesDeletes:     true,
		SupportsTo:          false, // resume tokens aren't orderable against an arbitrary "to"
	}
}

// PrepareFull opens a change-stream cursor over the whole database and
// captures its resume token as cp_t1 — capture must exist before the
// dump begins, per spec §4.1.
func (a *Adapter) PrepareFull(ctx context.Context) (syncpkg.Checkpoint, error) {
	pipeline := mongo.Pipeline{}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := a.client.Database(a.cfg.Database).Watch(ctx, pipeline, opts)
	if err != nil {
		return syncpkg.Checkpoint{}, syncerr.Wrap(syncerr.CaptureSetup, "open change stream", err)
	}
	a.stream = stream

	token := stream.ResumeToken()
	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointNative, ResumeToken: []byte(token)}, nil
}

// FullIterator reads every configured (or discovered) collection via an
// ordinary find cursor.
func (a *Adapter) FullIterator(ctx context.Context) (syncpkg.RecordIterator, error) {
	db := a.client.Database(a.cfg.Database)
	collections := a.cfg.Collections
	if len(collections) == 0 {
		names, err := db.ListCollectionNames(ctx, bson.M{})
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Connectivity, "list collections", err)
		}
		collections = names
	}
	return &fullIterator{ctx: ctx, db: db, collections: collections}, nil
}

// CurrentCheckpoint returns the change stream's present resume token,
// used both as cp_t2 and as the incremental resume point when the
// caller supplies no explicit checkpoint.
func (a *Adapter) CurrentCheckpoint(ctx context.Context) (syncpkg.Checkpoint, error) {
	if a.stream == nil {
		return syncpkg.Checkpoint{}, syncerr.New(syncerr.Configuration, "no open change stream; call PrepareFull first")
	}
	return syncpkg.Checkpoint{Kind: syncpkg.CheckpointNative, ResumeToken: []byte(a.stream.ResumeToken())}, nil
}

// Peek returns buffered events from the change-stream cursor. Resume
// position is implicit in the already-open cursor (from's resume token
// matters only on (re)connect, handled in reopen); advance is a no-op
// at the wire level per spec §4.2.1.
func (a *Adapter) Peek(ctx context.Context, from syncpkg.Checkpoint, max int) ([]syncpkg.ChangeAt, syncpkg.Checkpoint, error) {
	if a.stream == nil {
		if err := a.reopen(ctx, from); err != nil {
			return nil, from, err
		}
	}

	var out []syncpkg.ChangeAt
	next := from
	deadline := time.Now().Add(100 * time.Millisecond)

	for len(out) < max && time.Now().Before(deadline) {
		tctx, cancel := context.WithDeadline(ctx, deadline)
		hasNext := a.stream.TryNext(tctx)
		cancel()

		if err := a.stream.Err(); err != nil {
			a.stream = nil
			if isStaleResumeTokenError(err) {
				return nil, next, syncerr.Wrap(syncerr.StaleCheckpoint, "change stream history lost", err)
			}
			return nil, next, syncerr.Wrap(syncerr.Connectivity, "change stream error", err)
		}
		if !hasNext {
			break
		}

		var event bson.M
		if err := a.stream.Decode(&event); err != nil {
			return nil, next, syncerr.Wrap(syncerr.Conversion, "decode change event", err)
		}

		change, err := toChange(event)
		if err != nil {
			return nil, next, err
		}

		token := a.stream.ResumeToken()
		cp := syncpkg.Checkpoint{Kind: syncpkg.CheckpointNative, ResumeToken: []byte(token)}
		out = append(out, syncpkg.ChangeAt{Checkpoint: cp, Change: change})
		next = cp
	}

	return out, next, nil
}

// reopen reconnects the change stream resuming from `from`, with the
// same exponential backoff the teacher's watchLoop applies (5s..60s,
// x2) for a single connection attempt; the coordinator's own poll loop
// supplies the retry cadence across Peek calls.
func (a *Adapter) reopen(ctx context.Context, from syncpkg.Checkpoint) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(from.ResumeToken) > 0 {
		opts.SetResumeAfter(bson.Raw(from.ResumeToken))
	}

	stream, err := a.client.Database(a.cfg.Database).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		time.Sleep(a.backoff)
		a.backoff = time.Duration(float64(a.backoff) * backoffMultiplier)
		if a.backoff > maxBackoff {
			a.backoff = maxBackoff
		}
		return syncerr.Wrap(syncerr.Connectivity, "reopen change stream", err)
	}
	a.backoff = initialBackoff
	a.stream = stream
	return nil
}

func (a *Adapter) Advance(ctx context.Context, to syncpkg.Checkpoint) error {
	return nil
}

func (a *Adapter) Close() error {
	if a.stream != nil {
		return a.stream.Close(context.Background())
	}
	return nil
}

func isStaleResumeTokenError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "ChangeStreamHistoryLost") ||
		strings.Contains(s, "resume token") ||
		strings.Contains(s, "oplog") ||
		strings.Contains(s, "invalidate")
}

// toChange converts a raw change-stream event document into a unified
// Change, deriving the record id per spec §4.3: _id is dropped from the
// payload, and ObjectId becomes a hex string (resolving the Open
// Question in spec §9 — never thing, always string, at this layer).
func toChange(event bson.M) (syncpkg.Change, error) {
	opType, _ := event["operationType"].(string)
	ns, _ := event["ns"].(bson.M)
	collection, _ := ns["coll"].(string)

	docKey, _ := event["documentKey"].(bson.M)
	id, err := idFromDocKey(docKey)
	if err != nil {
		return syncpkg.Change{}, err
	}

	switch opType {
	case "delete":
		return syncpkg.Delete(collection, id), nil
	default: // insert, update, replace
		fullDoc, _ := event["fullDocument"].(bson.M)
		record, err := fieldsFromDoc(fullDoc)
		if err != nil {
			return syncpkg.Change{}, err
		}
		return syncpkg.Upsert(collection, id, record), nil
	}
}

func idFromDocKey(docKey bson.M) (syncpkg.Id, error) {
	raw, ok := docKey["_id"]
	if !ok {
		return syncpkg.Id{}, syncerr.New(syncerr.Conversion, "change event missing _id")
	}
	return idFromBSON(raw)
}

func idFromBSON(raw any) (syncpkg.Id, error) {
	switch v := raw.(type) {
	case nil:
		return syncpkg.ScalarID(syncpkg.Null()), nil
	case string:
		return syncpkg.ScalarID(syncpkg.StringValue(v)), nil
	case int32:
		return syncpkg.ScalarID(syncpkg.Int64Value(int64(v))), nil
	case int64:
		return syncpkg.ScalarID(syncpkg.Int64Value(v)), nil
	default:
		val, err := bsonToValue(raw)
		if err != nil {
			return syncpkg.Id{}, err
		}
		return syncpkg.ScalarID(val), nil
	}
}

func fieldsFromDoc(doc bson.M) (syncpkg.Record, error) {
	record := make(syncpkg.Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		val, err := bsonToValue(v)
		if err != nil {
			return nil, err
		}
		record[k] = val
	}
	return record, nil
}

// bsonToValue converts a decoded BSON value into the unified Value
// model, per the conversion rules in spec §4.3.
func bsonToValue(v any) (syncpkg.Value, error) {
	switch t := v.(type) {
	case nil:
		return syncpkg.Null(), nil
	case bool:
		return syncpkg.BoolValue(t), nil
	case int32:
		return syncpkg.Int64Value(int64(t)), nil
	case int64:
		return syncpkg.Int64Value(t), nil
	case float64:
		return syncpkg.Float64Value(t), nil
	case string:
		return syncpkg.StringValue(t), nil
	case time.Time:
		return syncpkg.DatetimeValue(t), nil
	case []byte:
		return convert.BinaryOrFallback(t), nil
	case primitive.ObjectID:
		return syncpkg.StringValue(t.Hex()), nil
	case primitive.Decimal128:
		return convert.Decimal(t.String()), nil
	case primitive.DBPointer:
		return syncpkg.StringValue(fmt.Sprintf("$dbpointer:%s:%s", t.DB, t.Pointer.Hex())), nil
	case bson.M:
		if ref, ok := t["$ref"].(string); ok {
			if id, ok := t["$id"]; ok {
				idVal, err := idFromBSON(id)
				if err != nil {
					return syncpkg.Value{}, err
				}
				return syncpkg.RecordLink(ref, idVal), nil
			}
		}
		obj := make(map[string]syncpkg.Value, len(t))
		for k, e := range t {
			ev, err := bsonToValue(e)
			if err != nil {
				return syncpkg.Value{}, err
			}
			obj[k] = ev
		}
		return syncpkg.ObjectValue(obj), nil
	case bson.A:
		arr := make([]syncpkg.Value, len(t))
		for i, e := range t {
			ev, err := bsonToValue(e)
			if err != nil {
				return syncpkg.Value{}, err
			}
			arr[i] = ev
		}
		return syncpkg.ArrayValue(arr), nil
	case primitive.Undefined:
		return syncpkg.Null(), nil
	case primitive.MinKey:
		return syncpkg.Value{Kind: syncpkg.KindObject, Object: map[string]syncpkg.Value{"$marker": syncpkg.StringValue("MinKey")}}, nil
	case primitive.MaxKey:
		return syncpkg.Value{Kind: syncpkg.KindObject, Object: map[string]syncpkg.Value{"$marker": syncpkg.StringValue("MaxKey")}}, nil
	default:
		return syncpkg.StringValue(fmt.Sprintf("%v", t)), nil
	}
}

// fullIterator scans every configured collection in turn via ordinary
// find cursors for the inconsistent bulk dump.
type fullIterator struct {
	ctx         context.Context
	db          *mongo.Database
	collections []string

	idx    int
	cursor *mongo.Cursor
	cur    bson.M
	err    error
}

func (it *fullIterator) Next(ctx context.Context) bool {
	for {
		if it.cursor == nil {
			if it.idx >= len(it.collections) {
				return false
			}
			cur, err := it.db.Collection(it.collections[it.idx]).Find(ctx, bson.M{})
			if err != nil {
				it.err = err
				return false
			}
			it.cursor = cur
		}

		if it.cursor.Next(ctx) {
			var doc bson.M
			if err := it.cursor.Decode(&doc); err != nil {
				it.err = err
				return false
			}
			it.cur = doc
			return true
		}

		if err := it.cursor.Err(); err != nil {
			it.err = err
			return false
		}
		it.cursor.Close(ctx)
		it.cursor = nil
		it.idx++
	}
}

func (it *fullIterator) Table() string { return it.collections[it.idx] }

func (it *fullIterator) ID() syncpkg.Id {
	id, err := idFromBSON(it.cur["_id"])
	if err != nil {
		it.err = err
	}
	return id
}

func (it *fullIterator) Record() syncpkg.Record {
	rec, err := fieldsFromDoc(it.cur)
	if err != nil {
		it.err = err
	}
	return rec
}

func (it *fullIterator) Err() error { return it.err }

func (it *fullIterator) Close() error {
	if it.cursor != nil {
		return it.cursor.Close(it.ctx)
	}
	return nil
}

var _ syncpkg.Adapter = (*Adapter)(nil)
