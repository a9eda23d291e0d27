package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassthroughConverterReturnsRecordUnchanged(t *testing.T) {
	var c PassthroughConverter
	in := Record{"name": StringValue("acme")}

	out, err := c.ConvertRecord("accounts", ScalarID(Int64Value(1)), in)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPassthroughConverterReturnsChangeUnchanged(t *testing.T) {
	var c PassthroughConverter
	in := Upsert("accounts", ScalarID(Int64Value(1)), Record{"name": StringValue("acme")})

	out, err := c.ConvertChange(in)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}
