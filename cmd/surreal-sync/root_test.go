package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSpecGrammar(t *testing.T) {
	root := newRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"from", "sync", "csv", "jsonl", "drop-capture"} {
		assert.True(t, names[want], "expected subcommand %q", want)
	}
}

func TestFromCommandRegistersFullAndIncremental(t *testing.T) {
	root := newRootCmd()
	from, _, err := root.Find([]string{"from"})
	require.NoError(t, err)

	sub := make(map[string]bool)
	for _, c := range from.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["full"])
	assert.True(t, sub["incremental"])
}
