// Package convert holds the value-conversion helpers shared by every
// backend's Converter (C2): numeric widening, decimal/binary fallback
// rules, and the spatial/GeoJSON-like shape, so each adapter only has to
// supply its own field-mapping and identifier-derivation logic.
package convert

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/surrealdb/surreal-sync/internal/sync"
)

// Decimal converts an arbitrary-precision decimal string into a
// unified Value, preserving full precision. On parse failure it falls
// back to the canonical string representation with a warning, per
// spec §4.3.
func Decimal(raw string) sync.Value {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("decimal conversion failed, falling back to string", "raw", raw, "error", err)
		return sync.StringValue(raw)
	}
	return sync.DecimalValue(d.String())
}

// Float32 widens a single-precision float to the unified Value's
// float64 representation.
func Float32(f float32) sync.Value {
	return sync.Float64Value(float64(f))
}

// Int widens any signed integer width to the unified Value's int64
// representation.
func Int[T ~int | ~int8 | ~int16 | ~int32 | ~int64](i T) sync.Value {
	return sync.Int64Value(int64(i))
}

// ScannedBytes converts a []byte value scanned from a database/sql driver
// into the correct unified Value kind, dispatching on the column's
// declared database type rather than guessing via a decimal parse attempt.
// NUMERIC/DECIMAL columns surface as []byte text on the wire in both the
// pgx and go-sql-driver/mysql text protocols; every other type that
// surfaces as []byte (bytea, BLOB, VARBINARY, BINARY) is genuine binary
// data and must reach KindBytes, per spec §4.3 ("native binary types map
// to bytes").
func ScannedBytes(dbType string, raw []byte) sync.Value {
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL":
		return Decimal(string(raw))
	default:
		return BinaryOrFallback(raw)
	}
}

// BinaryOrFallback converts raw bytes to a unified bytes Value. If the
// caller already failed to decode the source encoding (e.g. invalid
// base64 inside extended JSON) it should pass the original string
// through FallbackString instead of calling this.
func BinaryOrFallback(raw []byte) sync.Value {
	return sync.BytesValue(raw)
}

// FallbackString is used when a binary payload could not be decoded;
// falls back to the literal string with a warning per spec §4.3.
func FallbackString(field, literal string, err error) sync.Value {
	slog.Warn("binary conversion failed, falling back to literal string", "field", field, "error", err)
	return sync.StringValue(literal)
}

// DecodeBase64OrFallback attempts to decode s as standard base64; on
// failure it returns the literal string with a warning.
func DecodeBase64OrFallback(field, s string) sync.Value {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return FallbackString(field, s, err)
	}
	return sync.BytesValue(b)
}

// GeoPoint builds the GeoJSON-like structural object spec §4.3 mandates
// for Neo4j 2D/3D points: {type:"Point", srid:…, coordinates:[…]}.
func GeoPoint(srid int64, coords ...float64) sync.Value {
	cs := make([]sync.Value, len(coords))
	for i, c := range coords {
		cs[i] = sync.Float64Value(c)
	}
	return sync.ObjectValue(map[string]sync.Value{
		"type":        sync.StringValue("Point"),
		"srid":        sync.Int64Value(srid),
		"coordinates": sync.ArrayValue(cs),
	})
}

// Marker builds the degraded-marker object used for deprecated/rare
// MongoDB types that lose ordering semantics (MinKey/MaxKey) per
// spec §4.3.
func Marker(kind string) sync.Value {
	return sync.ObjectValue(map[string]sync.Value{"$marker": sync.StringValue(kind)})
}

// JSON converts a value produced by encoding/json.Unmarshal into any
// (the shape every JSON/JSONB-backed adapter decodes rows into) into the
// unified Value model. Structured columns (PostgreSQL json/jsonb, MySQL
// JSON, JSONL rows) all recurse through this one function.
func JSON(v any) sync.Value {
	switch t := v.(type) {
	case nil:
		return sync.Null()
	case bool:
		return sync.BoolValue(t)
	case float64:
		if t == float64(int64(t)) {
			return sync.Int64Value(int64(t))
		}
		return sync.Float64Value(t)
	case string:
		return sync.StringValue(t)
	case []any:
		arr := make([]sync.Value, len(t))
		for i, e := range t {
			arr[i] = JSON(e)
		}
		return sync.ArrayValue(arr)
	case map[string]any:
		obj := make(map[string]sync.Value, len(t))
		for k, e := range t {
			obj[k] = JSON(e)
		}
		return sync.ObjectValue(obj)
	default:
		return sync.StringValue(fmt.Sprintf("%v", t))
	}
}
