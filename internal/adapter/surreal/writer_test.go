package surreal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

func TestRecordIDStringScalar(t *testing.T) {
	assert.Equal(t, `"acct-1"`, recordIDString(syncpkg.ScalarID(syncpkg.StringValue("acct-1"))))
	assert.Equal(t, "7", recordIDString(syncpkg.ScalarID(syncpkg.Int64Value(7))))
}

func TestRecordIDStringComposite(t *testing.T) {
	id := syncpkg.CompositeID(syncpkg.Int64Value(7), syncpkg.Int64Value(1))
	assert.Equal(t, "[7, 1]", recordIDString(id))
}

func TestValueToAnyFlattensNestedArraysAndObjects(t *testing.T) {
	v := syncpkg.ObjectValue(map[string]syncpkg.Value{
		"tags": syncpkg.ArrayValue([]syncpkg.Value{syncpkg.StringValue("a"), syncpkg.StringValue("b")}),
	})
	out := valueToAny(v).(map[string]any)
	tags := out["tags"].([]any)
	assert.Equal(t, []any{"a", "b"}, tags)
}

func TestValueToAnyRendersRecordLinkAsThing(t *testing.T) {
	v := syncpkg.RecordLink("accounts", syncpkg.ScalarID(syncpkg.StringValue("acct-1")))
	assert.Equal(t, `accounts:"acct-1"`, valueToAny(v))
}

func TestRecordToMapDropsNothing(t *testing.T) {
	r := syncpkg.Record{"name": syncpkg.StringValue("acme"), "active": syncpkg.BoolValue(true)}
	out := recordToMap(r)
	assert.Equal(t, "acme", out["name"])
	assert.Equal(t, true, out["active"])
}
