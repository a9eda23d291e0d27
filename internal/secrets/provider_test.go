package secrets

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderReadsPrefixedUppercaseKey(t *testing.T) {
	t.Setenv("SURREAL_SYNC_SECRET_SOURCE_PASSWORD", "hunter2")
	p := NewEnvProvider("SURREAL_SYNC_SECRET_")

	v, err := p.Get(context.Background(), "source-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestEnvProviderMissingKeyErrors(t *testing.T) {
	p := NewEnvProvider("SURREAL_SYNC_SECRET_")
	_, err := p.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestResolvePasswordPassesThroughLiterals(t *testing.T) {
	v, err := ResolvePassword(context.Background(), NewEnvProvider("X_"), "plaintext-value")
	require.NoError(t, err)
	assert.Equal(t, "plaintext-value", v)
}

func TestResolvePasswordResolvesSecretScheme(t *testing.T) {
	t.Setenv("SURREAL_SYNC_SECRET_TARGET_PASSWORD", "s3cr3t")
	v, err := ResolvePassword(context.Background(), NewEnvProvider("SURREAL_SYNC_SECRET_"), "secret://target-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)
}

func TestLoadConfigFromEnvFallsBackToVendorVars(t *testing.T) {
	os.Unsetenv("SURREAL_SYNC_SECRETS_AWS_REGION")
	t.Setenv("AWS_REGION", "us-west-2")
	cfg := LoadConfigFromEnv()
	assert.Equal(t, "us-west-2", cfg.AWSRegion)
}
