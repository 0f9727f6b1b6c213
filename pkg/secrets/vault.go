package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skill-barter/messaging/pkg/cache"
	"skill-barter/messaging/pkg/config"
	"skill-barter/messaging/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// Configuration errors
var (
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

const cacheTTL = 5 * time.Minute

// VaultManager reads secrets from a HashiCorp Vault KV v2 mount and falls
// back to the environment for keys Vault does not hold. With Vault
// disabled it reads the environment only.
type VaultManager struct {
	client *vault.Client
	mount  string
	path   string
	cache  *cache.Cache[string, string]
	log    *logger.Logger
}

// NewVaultManager creates a manager from the vault section of cfg.
func NewVaultManager(cfg *config.Config, log *logger.Logger) (*VaultManager, error) {
	if log == nil {
		log = logger.Nop()
	}
	m := &VaultManager{
		mount: cfg.Vault.Mount,
		path:  cfg.Vault.Path,
		cache: cache.New[string, string](cache.Options{TTL: cacheTTL, CleanupInterval: cacheTTL}),
		log:   log.With("component", "secrets"),
	}
	if !cfg.Vault.Enabled {
		return m, nil
	}

	// Validate required configuration
	if cfg.Vault.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Vault.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Vault.Address
	vaultConfig.Timeout = 10 * time.Second
	vaultConfig.MaxRetries = 3

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Vault.Token)
	if cfg.Vault.Namespace != "" {
		client.SetNamespace(cfg.Vault.Namespace)
	}
	m.client = client
	return m, nil
}

// Close stops the cache janitor.
func (m *VaultManager) Close() {
	m.cache.Close()
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := m.cache.Get(key); ok {
		return value, nil
	}

	if m.client == nil {
		return m.remember(key)(fromEnvironment(key))
	}

	value, err := m.getFromVault(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
		return m.remember(key)(fromEnvironment(key))
	}
	return m.remember(key)(value, err)
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Failed to get secret, using default value", "key", key, "error", err.Error())
		}
		return defaultValue
	}
	return value
}

func (m *VaultManager) remember(key string) func(string, error) (string, error) {
	return func(value string, err error) (string, error) {
		if err == nil {
			m.cache.Set(key, value)
		}
		return value, err
	}
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2(m.mount).Get(ctx, m.path)
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s: %w", m.mount, m.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
