package pgwal2json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

func TestParseLSNRoundTrip(t *testing.T) {
	cp, err := parseLSN("16/B374D848")
	require.NoError(t, err)
	assert.Equal(t, syncpkg.CheckpointLSN, cp.Kind)
	assert.Equal(t, "16/B374D848", formatLSN(cp))
}

func TestParseLSNRejectsMalformed(t *testing.T) {
	_, err := parseLSN("not-an-lsn")
	assert.Error(t, err)
}

func TestParseWal2JSONInsertAndDelete(t *testing.T) {
	payload := `{
		"change": [
			{"kind":"insert","schema":"public","table":"accounts",
			 "columnnames":["id","name"],"columntypes":["int4","text"],"columnvalues":[1,"acme"]},
			{"kind":"delete","schema":"public","table":"accounts",
			 "oldkeys":{"keynames":["id"],"keytypes":["int4"],"keyvalues":[1]}}
		]
	}`
	changes, err := parseWal2JSON(payload)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, syncpkg.OpUpsert, changes[0].Op)
	assert.Equal(t, "acme", changes[0].Record["name"].String)
	assert.Equal(t, syncpkg.OpDelete, changes[1].Op)
}

func TestParseWal2JSONArrayColumnSplitsFlatLiteral(t *testing.T) {
	payload := `{
		"change": [
			{"kind":"insert","schema":"public","table":"tags",
			 "columnnames":["id","labels"],"columntypes":["int4","text[]"],"columnvalues":[1,"{a,b,c}"]}
		]
	}`
	changes, err := parseWal2JSON(payload)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	labels := changes[0].Record["labels"]
	require.Equal(t, syncpkg.KindArray, labels.Kind)
	require.Len(t, labels.Array, 3)
	assert.Equal(t, "a", labels.Array[0].String)
	assert.Equal(t, "b", labels.Array[1].String)
	assert.Equal(t, "c", labels.Array[2].String)
}

func TestParseWal2JSONNestedArrayColumnErrors(t *testing.T) {
	payload := `{
		"change": [
			{"kind":"insert","schema":"public","table":"tags",
			 "columnnames":["id","labels"],"columntypes":["int4","text[]"],"columnvalues":[1,"{{a,b},{c,d}}"]}
		]
	}`
	_, err := parseWal2JSON(payload)
	assert.Error(t, err)
}
