// Package auth implements the bridge's API-key authentication collaborator:
// a constant-time comparison against a configured set of keys, with an
// optional dev-mode bypass for local development.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
)

// KeyAuth validates inbound API keys against a fixed set configured at
// startup.
type KeyAuth struct {
	keys    map[string]struct{}
	devMode bool
}

// New constructs a KeyAuth over validKeys. When devMode is true,
// Authenticate accepts any non-empty key, which must only ever be enabled
// outside production.
func New(validKeys []string, devMode bool) *KeyAuth {
	set := make(map[string]struct{}, len(validKeys))
	for _, k := range validKeys {
		set[k] = struct{}{}
	}
	return &KeyAuth{keys: set, devMode: devMode}
}

// Authenticate validates apiKey and returns a credential hash safe to
// persist on a Connection record.
//
// TODO: this hashes with SHA-256, which is fast and therefore unsuitable
// if credential hashes themselves ever need to resist offline brute
// force; that's acceptable here because the hash is a correlation token
// for connection records, not the authentication check itself (which
// compares the raw key in constant time against the configured set), but
// revisit if the threat model changes.
func (a *KeyAuth) Authenticate(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", bridgeerr.New(bridgeerr.AuthenticationFailed, "missing API key")
	}

	if a.devMode {
		return hash(apiKey), nil
	}

	for k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return hash(apiKey), nil
		}
	}
	return "", bridgeerr.New(bridgeerr.AuthenticationFailed, "invalid API key")
}

func hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
