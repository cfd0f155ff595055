package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// APIKeyMarker identifies hrauth API keys.
	APIKeyMarker = "hrk_"
	// APIKeyLength is the number of random bytes (32 bytes = 256 bits).
	APIKeyLength = 32
	// apiKeyPrefixChars is how many encoded characters follow the marker in
	// the stored display prefix.
	apiKeyPrefixChars = 8
)

// APIKeyGenerator creates API key material and digests it with a Hasher.
type APIKeyGenerator struct {
	hasher Hasher
}

// NewAPIKeyGenerator creates a generator that digests keys with hasher.
func NewAPIKeyGenerator(hasher Hasher) *APIKeyGenerator {
	return &APIKeyGenerator{hasher: hasher}
}

// Generate creates a new API key.
// Format: hrk_<base64url(32 random bytes)>
// The plaintext is returned once; only the hash and the display prefix are
// meant to be stored.
func (g *APIKeyGenerator) Generate() (key, keyHash, keyPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = APIKeyMarker + base64.RawURLEncoding.EncodeToString(randomBytes)

	keyHash, err = g.hasher.Hash(key)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash api key: %w", err)
	}

	return key, keyHash, ExtractAPIKeyPrefix(key), nil
}

// ExtractAPIKeyPrefix returns the display prefix of key, or "" if key is not
// in the expected format.
func ExtractAPIKeyPrefix(key string) string {
	if !strings.HasPrefix(key, APIKeyMarker) {
		return ""
	}
	encoded := strings.TrimPrefix(key, APIKeyMarker)
	if len(encoded) < apiKeyPrefixChars {
		return ""
	}
	return APIKeyMarker + encoded[:apiKeyPrefixChars]
}

// ValidateAPIKeyFormat checks that key has the marker and a valid encoding.
func ValidateAPIKeyFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyMarker) {
		return fmt.Errorf("api key must start with %q", APIKeyMarker)
	}

	encoded := strings.TrimPrefix(key, APIKeyMarker)
	if len(encoded) < apiKeyPrefixChars {
		return fmt.Errorf("api key is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid api key encoding: %w", err)
	}
	return nil
}
