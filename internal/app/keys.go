package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// MinVaultKeyBytes is the shortest master key accepted for sealing signing keys.
const MinVaultKeyBytes = 16

// DecodeKey decodes a key from hex or base64 encoding to raw bytes. Hex is tried first
// because generated keys are hex; anything that is neither is used verbatim.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}
	return decodeKeyMaterial(v), nil
}

// KeyByteLength returns the decoded byte length of a key string, 0 when blank.
func KeyByteLength(value string) (int, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	return len(decodeKeyMaterial(v)), nil
}

// VaultKey decodes the configured master key and enforces the minimum length.
func (c VaultConfig) VaultKey() ([]byte, error) {
	key, err := DecodeKey(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if len(key) < MinVaultKeyBytes {
		return nil, fmt.Errorf("vault: encryption key must decode to at least %d bytes (got %d)", MinVaultKeyBytes, len(key))
	}
	return key, nil
}

func decodeKeyMaterial(v string) []byte {
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded
	}
	return []byte(v)
}
