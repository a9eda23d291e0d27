package pgtrigger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

func TestDeriveIDPrefersSingleIDColumn(t *testing.T) {
	id, err := deriveID(map[string]any{"id": float64(7)})
	assert.NoError(t, err)
	assert.False(t, id.IsComposite())
	assert.Equal(t, int64(7), id.Scalar.Int64)
}

func TestDeriveIDBuildsCompositeFromSortedColumns(t *testing.T) {
	id, err := deriveID(map[string]any{"org_id": float64(2), "user_id": float64(1)})
	assert.NoError(t, err)
	assert.True(t, id.IsComposite())
	assert.Equal(t, int64(2), id.Composite[0].Int64) // "org_id" < "user_id"
	assert.Equal(t, int64(1), id.Composite[1].Int64)
}

func TestDeriveIDRejectsEmptyRow(t *testing.T) {
	_, err := deriveID(map[string]any{})
	assert.Error(t, err)
}

func TestToChangeMapsOperations(t *testing.T) {
	upsert, err := toChange("accounts", "I", []byte(`{"id":1}`), []byte(`{"id":1,"name":"acme"}`))
	assert.NoError(t, err)
	assert.Equal(t, syncpkg.OpUpsert, upsert.Op)
	assert.Equal(t, "accounts", upsert.Table)
	assert.Equal(t, "acme", upsert.Record["name"].String)

	del, err := toChange("accounts", "D", []byte(`{"id":1}`), nil)
	assert.NoError(t, err)
	assert.Equal(t, syncpkg.OpDelete, del.Op)
}

func TestCapabilitiesDeclareFullIncrementalAndTo(t *testing.T) {
	a := &Adapter{cfg: Config{Tables: []string{"accounts"}}}
	caps := a.Capabilities()
	assert.True(t, caps.SupportsFull)
	assert.True(t, caps.SupportsIncremental)
	assert.True(t, caps.CapturesDeletes)
	assert.True(t, caps.SupportsTo)
}
