// Package secrets resolves credentials such as the token signing key.
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when no source holds the key.
var ErrSecretNotFound = errors.New("secret not found")

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// envKey maps jwt-secret or jwt.secret to JWT_SECRET.
func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// fromEnvironment reads key from the process environment.
func fromEnvironment(key string) (string, error) {
	value := os.Getenv(envKey(key))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
