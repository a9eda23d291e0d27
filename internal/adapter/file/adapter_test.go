package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

// TestJSONLReferenceRewriting exercises spec §8 scenario 6: nested
// objects matching a link rule are rewritten to record links regardless
// of file load order.
func TestJSONLReferenceRewriting(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "databases.jsonl"),
		[]byte(`{"id":"db1","name":"Tasks"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages.jsonl"),
		[]byte(`{"id":"p1","parent":{"type":"database_id","database_id":"db1"}}`+"\n"), 0o644))

	cfg := Config{
		Dir: dir,
		LinkRules: []LinkRule{
			{Key: "type", Value: "database_id", IDField: "database_id", Table: "databases"},
		},
	}
	adapter := New(cfg)

	iter, err := adapter.FullIterator(context.Background())
	require.NoError(t, err)
	defer iter.Close()

	byID := map[string]syncpkg.Record{}
	for iter.Next(context.Background()) {
		byID[iter.ID().Scalar.String] = iter.Record()
	}
	require.NoError(t, iter.Err())

	pages, ok := byID["p1"]
	require.True(t, ok)
	parent := pages["parent"]
	assert.Equal(t, syncpkg.KindRecordLink, parent.Kind)
	assert.Equal(t, "databases", parent.LinkTable)
	assert.Equal(t, "db1", parent.LinkID.Scalar.String)
}

func TestCSVRowsUseFileBasenameAsTable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"),
		[]byte("id,qty\n1,10\n2,20\n"), 0o644))

	adapter := New(Config{Dir: dir})
	iter, err := adapter.FullIterator(context.Background())
	require.NoError(t, err)
	defer iter.Close()

	count := 0
	for iter.Next(context.Background()) {
		count++
		assert.Equal(t, "orders", iter.Table())
	}
	require.NoError(t, iter.Err())
	assert.Equal(t, 2, count)
}

func TestFileAdapterHasNoIncrementalCapability(t *testing.T) {
	adapter := New(Config{Dir: t.TempDir()})
	caps := adapter.Capabilities()
	assert.True(t, caps.SupportsFull)
	assert.False(t, caps.SupportsIncremental)

	_, _, err := adapter.Peek(context.Background(), syncpkg.Checkpoint{}, 10)
	assert.Error(t, err)
}
