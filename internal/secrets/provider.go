// Package secrets resolves source- and target-database credentials
// (connection passwords, API tokens) from a pluggable backend, so
// operators never have to pass them as plaintext CLI flags. The
// multi-backend Provider shape (encrypted-file/AWS/Vault/GCP/env) is
// unchanged from the teacher's internal/common/secrets package; only the
// env-var prefix and defaults are retargeted to this tool.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrInvalidKey     = errors.New("invalid encryption key")
	ErrProviderError  = errors.New("provider error")
)

// Provider defines the interface for secret storage backends.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Name() string
}

type ProviderType string

const (
	ProviderTypeEncrypted ProviderType = "encrypted"
	ProviderTypeAWSSM     ProviderType = "aws-sm"
	ProviderTypeVault     ProviderType = "vault"
	ProviderTypeGCPSM     ProviderType = "gcp-sm"
	ProviderTypeEnv       ProviderType = "env"
)

// Config holds configuration for the secrets provider.
type Config struct {
	Provider ProviderType

	EncryptionKey string
	DataDir       string

	AWSRegion    string
	AWSPrefix    string
	AWSEndpoint  string
	AWSAccessKey string
	AWSSecretKey string

	VaultAddr      string
	VaultToken     string
	VaultPath      string
	VaultNamespace string

	GCPProject string
	GCPPrefix  string
}

func DefaultConfig() *Config {
	return &Config{
		Provider:  ProviderTypeEnv,
		DataDir:   "./.surreal-sync-secrets",
		AWSPrefix: "/surreal-sync/",
		VaultPath: "secret/data/surreal-sync",
		GCPPrefix: "surreal-sync-",
	}
}

// LoadConfigFromEnv loads configuration from environment variables,
// falling back to the matching unprefixed vendor variable (AWS_REGION,
// VAULT_ADDR, VAULT_TOKEN, GOOGLE_CLOUD_PROJECT) when present.
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if p := os.Getenv("SURREAL_SYNC_SECRETS_PROVIDER"); p != "" {
		cfg.Provider = ProviderType(strings.ToLower(p))
	}

	if k := os.Getenv("SURREAL_SYNC_SECRETS_ENCRYPTION_KEY"); k != "" {
		cfg.EncryptionKey = k
	}
	if d := os.Getenv("SURREAL_SYNC_SECRETS_DATA_DIR"); d != "" {
		cfg.DataDir = d
	}

	if r := os.Getenv("SURREAL_SYNC_SECRETS_AWS_REGION"); r != "" {
		cfg.AWSRegion = r
	} else if r := os.Getenv("AWS_REGION"); r != "" {
		cfg.AWSRegion = r
	}
	if p := os.Getenv("SURREAL_SYNC_SECRETS_AWS_PREFIX"); p != "" {
		cfg.AWSPrefix = p
	}
	if e := os.Getenv("SURREAL_SYNC_SECRETS_AWS_ENDPOINT"); e != "" {
		cfg.AWSEndpoint = e
	}

	if a := os.Getenv("SURREAL_SYNC_SECRETS_VAULT_ADDR"); a != "" {
		cfg.VaultAddr = a
	} else if a := os.Getenv("VAULT_ADDR"); a != "" {
		cfg.VaultAddr = a
	}
	if t := os.Getenv("SURREAL_SYNC_SECRETS_VAULT_TOKEN"); t != "" {
		cfg.VaultToken = t
	} else if t := os.Getenv("VAULT_TOKEN"); t != "" {
		cfg.VaultToken = t
	}
	if p := os.Getenv("SURREAL_SYNC_SECRETS_VAULT_PATH"); p != "" {
		cfg.VaultPath = p
	}
	if n := os.Getenv("SURREAL_SYNC_SECRETS_VAULT_NAMESPACE"); n != "" {
		cfg.VaultNamespace = n
	}

	if p := os.Getenv("SURREAL_SYNC_SECRETS_GCP_PROJECT"); p != "" {
		cfg.GCPProject = p
	} else if p := os.Getenv("GOOGLE_CLOUD_PROJECT"); p != "" {
		cfg.GCPProject = p
	}
	if p := os.Getenv("SURREAL_SYNC_SECRETS_GCP_PREFIX"); p != "" {
		cfg.GCPPrefix = p
	}

	return cfg
}

// NewProvider creates a new secret provider based on configuration.
func NewProvider(cfg *Config) (Provider, error) {
	if cfg == nil {
		cfg = LoadConfigFromEnv()
	}

	switch cfg.Provider {
	case ProviderTypeEncrypted:
		return NewEncryptedProvider(cfg.EncryptionKey, cfg.DataDir)
	case ProviderTypeAWSSM:
		return NewAWSSecretsManagerProvider(cfg)
	case ProviderTypeVault:
		return NewVaultProvider(cfg)
	case ProviderTypeGCPSM:
		return NewGCPSecretManagerProvider(cfg)
	case ProviderTypeEnv:
		return NewEnvProvider("SURREAL_SYNC_SECRET_"), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return fmt.Errorf("environment provider does not support Set")
}

func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("environment provider does not support Delete")
}

func (p *EnvProvider) Name() string { return "env" }

// ResolvePassword returns a literal password unchanged, or — when the
// value has the form "secret://<key>" — resolves <key> through the
// configured Provider. This lets --source-password and
// --surreal-password CLI flags point at a vault/AWS/GCP secret instead
// of carrying a plaintext credential.
func ResolvePassword(ctx context.Context, p Provider, value string) (string, error) {
	const schemePrefix = "secret://"
	if !strings.HasPrefix(value, schemePrefix) {
		return value, nil
	}
	key := strings.TrimPrefix(value, schemePrefix)
	resolved, err := p.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve %s via %s provider: %w", value, p.Name(), err)
	}
	return resolved, nil
}
