package mysqltrigger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

func TestJSONObjectExprBuildsColumnList(t *testing.T) {
	expr := jsonObjectExpr("NEW", []string{"id", "name"})
	assert.Equal(t, "JSON_OBJECT('id', NEW.id, 'name', NEW.name)", expr)
}

func TestDeriveIDSingleColumnIsScalar(t *testing.T) {
	id, err := deriveID(map[string]any{"id": float64(3)})
	assert.NoError(t, err)
	assert.False(t, id.IsComposite())
	assert.Equal(t, int64(3), id.Scalar.Int64)
}

func TestToChangeDeleteHasNoRecord(t *testing.T) {
	change, err := toChange("users", "D", []byte(`{"id":9}`), nil)
	assert.NoError(t, err)
	assert.Equal(t, syncpkg.OpDelete, change.Op)
	assert.Nil(t, change.Record)
}

func TestToChangeInsertPopulatesRecord(t *testing.T) {
	change, err := toChange("users", "I", []byte(`{"id":9}`), []byte(`{"id":9,"email":"a@b.com"}`))
	assert.NoError(t, err)
	assert.Equal(t, syncpkg.OpUpsert, change.Op)
	assert.Equal(t, "a@b.com", change.Record["email"].String)
}
