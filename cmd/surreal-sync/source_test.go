package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildAdapterRejectsUnknownBackend(t *testing.T) {
	_, _, _, err := buildAdapter(context.Background(), "not-a-backend", &globalFlags{}, &sourceFlags{})
	assert.Error(t, err)
}

func TestBuildAdapterFileBackendNeedsNoConnection(t *testing.T) {
	adapter, databaseType, closeFn, err := buildAdapter(context.Background(), "jsonl", &globalFlags{}, &sourceFlags{fileDir: t.TempDir(), fileIDField: "id"})
	assert.NoError(t, err)
	assert.Equal(t, "file", databaseType)
	assert.NotNil(t, adapter)
	assert.NoError(t, closeFn())
}
