package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surrealdb/surreal-sync/internal/sync"
)

func TestDecimalPreservesPrecision(t *testing.T) {
	v := Decimal("19.9900000001")
	assert.Equal(t, sync.KindDecimal, v.Kind)
	assert.Equal(t, "19.9900000001", v.Decimal)
}

func TestDecimalFallsBackOnParseFailure(t *testing.T) {
	v := Decimal("not-a-number")
	assert.Equal(t, sync.KindString, v.Kind)
	assert.Equal(t, "not-a-number", v.String)
}

func TestDecodeBase64OrFallback(t *testing.T) {
	v := DecodeBase64OrFallback("payload", "aGVsbG8=")
	assert.Equal(t, sync.KindBytes, v.Kind)
	assert.Equal(t, []byte("hello"), v.Bytes)

	fallback := DecodeBase64OrFallback("payload", "not-base64!!")
	assert.Equal(t, sync.KindString, fallback.Kind)
	assert.Equal(t, "not-base64!!", fallback.String)
}

func TestGeoPointBuildsStructuralValue(t *testing.T) {
	v := GeoPoint(4326, 1.5, 2.5)
	assert.Equal(t, sync.KindObject, v.Kind)
	assert.Equal(t, "Point", v.Object["type"].String)
	assert.Equal(t, int64(4326), v.Object["srid"].Int64)
	assert.Equal(t, 1.5, v.Object["coordinates"].Array[0].Float64)
	assert.Equal(t, 2.5, v.Object["coordinates"].Array[1].Float64)
}

func TestMarkerBuildsDegradedMarker(t *testing.T) {
	v := Marker("MinKey")
	assert.Equal(t, "MinKey", v.Object["$marker"].String)
}

func TestJSONConvertsEveryDecodedShape(t *testing.T) {
	assert.Equal(t, sync.KindNull, JSON(nil).Kind)
	assert.Equal(t, sync.KindBool, JSON(true).Kind)
	assert.Equal(t, sync.KindString, JSON("hi").Kind)

	intVal := JSON(float64(7))
	assert.Equal(t, sync.KindInt64, intVal.Kind)
	assert.Equal(t, int64(7), intVal.Int64)

	floatVal := JSON(float64(7.5))
	assert.Equal(t, sync.KindFloat64, floatVal.Kind)
	assert.Equal(t, 7.5, floatVal.Float64)

	arr := JSON([]any{float64(1), "two"})
	assert.Equal(t, sync.KindArray, arr.Kind)
	assert.Len(t, arr.Array, 2)

	obj := JSON(map[string]any{"k": "v"})
	assert.Equal(t, sync.KindObject, obj.Kind)
	assert.Equal(t, "v", obj.Object["k"].String)
}
