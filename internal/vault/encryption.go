package vault

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/kodianteach/atlas-platform-sub001/pkg/crypto"
)

const defaultSaltLength = 16

// Crypto seals signing key material at rest with an AES-256-GCM key derived from the
// configured master key.
type Crypto struct {
	key    []byte
	salt   []byte
	params crypto.Argon2Parameters
}

type cryptoConfig struct {
	params crypto.Argon2Parameters
	salt   []byte
}

// Option configures the vault crypto helper.
type Option func(*cryptoConfig)

// WithSalt overrides the salt used for Argon2 key derivation.
func WithSalt(salt []byte) Option {
	cp := append([]byte(nil), salt...)
	return func(cfg *cryptoConfig) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the Argon2 parameters used during key derivation.
func WithArgon2Parameters(params crypto.Argon2Parameters) Option {
	return func(cfg *cryptoConfig) {
		cfg.params = params
	}
}

// NewCrypto derives an AES key from the provided master key using Argon2id.
func NewCrypto(masterKey []byte, opts ...Option) (*Crypto, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("vault crypto: master key is required")
	}

	cfg := cryptoConfig{params: crypto.DefaultArgon2Params()}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case len(cfg.salt) == 0:
		cfg.salt = deriveSalt(masterKey)
	case len(cfg.salt) < defaultSaltLength:
		return nil, fmt.Errorf("vault crypto: salt must be at least %d bytes (got %d)", defaultSaltLength, len(cfg.salt))
	}

	derived, err := crypto.DeriveKeyArgon2id(masterKey, cfg.salt, cfg.params)
	if err != nil {
		return nil, fmt.Errorf("vault crypto: derive key: %w", err)
	}

	return &Crypto{key: derived, salt: cfg.salt, params: cfg.params}, nil
}

// Encrypt seals plaintext. The binding values (e.g. organization and kid) are
// authenticated but not stored, and must be repeated on Decrypt.
func (c *Crypto) Encrypt(plaintext []byte, binding ...string) (string, error) {
	if c == nil || len(c.key) == 0 {
		return "", errors.New("vault crypto: key is not initialised")
	}
	return crypto.EncryptWithAAD(plaintext, c.key, additionalData(binding))
}

// Decrypt opens a payload sealed by Encrypt with the same binding values.
func (c *Crypto) Decrypt(ciphertext string, binding ...string) ([]byte, error) {
	if c == nil || len(c.key) == 0 {
		return nil, errors.New("vault crypto: key is not initialised")
	}
	plain, err := crypto.DecryptWithAAD(ciphertext, c.key, additionalData(binding))
	if err != nil {
		return nil, fmt.Errorf("vault crypto: decrypt: %w", err)
	}
	return plain, nil
}

// Parameters returns the Argon2 parameters used during derivation.
func (c *Crypto) Parameters() crypto.Argon2Parameters {
	return c.params
}

func additionalData(binding []string) []byte {
	if len(binding) == 0 {
		return nil
	}
	return []byte(strings.Join(binding, "|"))
}

func deriveSalt(masterKey []byte) []byte {
	sum := sha256.Sum256(masterKey)
	return sum[:defaultSaltLength]
}
