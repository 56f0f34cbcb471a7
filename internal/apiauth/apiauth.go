// Package apiauth authenticates callers of the approval endpoints with
// static API keys. It does not cover the tool-call path.
package apiauth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config carries the raw API key settings.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Keys    string `mapstructure:"keys"` // JSON object key -> identity
}

// KeyAuth maps presented API keys to approver identities.
type KeyAuth struct {
	enabled bool
	keys    map[string]string
}

// New parses the key table. Malformed bindings are fatal at startup.
func New(cfg Config) (*KeyAuth, error) {
	keys := make(map[string]string)
	if strings.TrimSpace(cfg.Keys) != "" {
		if err := json.Unmarshal([]byte(cfg.Keys), &keys); err != nil {
			return nil, fmt.Errorf("approval api keys must be a JSON object of key to identity: %w", err)
		}
		for key, identity := range keys {
			if key == "" || identity == "" {
				return nil, fmt.Errorf("approval api key entries must be non-empty strings")
			}
		}
	}
	return &KeyAuth{enabled: cfg.Enabled, keys: keys}, nil
}

// Authenticate resolves a presented key to an identity. When disabled
// it always succeeds with an empty identity.
func (k *KeyAuth) Authenticate(provided string) (identity string, ok bool, reason string) {
	if !k.enabled {
		return "", true, ""
	}
	if provided == "" {
		return "", false, "missing approval api key"
	}
	identity = k.keys[provided]
	if identity == "" {
		return "", false, "invalid approval api key"
	}
	return identity, true, ""
}
