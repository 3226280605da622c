// Package signing produces and checks detached Ed25519 signatures over pass payloads.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Algorithm is recorded on every stored key.
const Algorithm = "Ed25519"

const pemTypePublicKey = "PUBLIC KEY"

var (
	// ErrInvalidPrivateKey is returned when signing material is not an Ed25519 seed or key.
	ErrInvalidPrivateKey = errors.New("signing: invalid private key")
	// ErrInvalidPublicKey is returned when a PEM block does not hold an Ed25519 public key.
	ErrInvalidPublicKey = errors.New("signing: invalid public key")
)

// Keypair holds freshly generated key material. Seed is the 32 byte private seed,
// which is what gets encrypted at rest.
type Keypair struct {
	PublicKey ed25519.PublicKey
	Seed      []byte
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (Keypair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("signing: generate key: %w", err)
	}
	return Keypair{PublicKey: public, Seed: private.Seed()}, nil
}

// Sign signs payload with a private seed (32 bytes) or a full private key (64 bytes).
func Sign(payload, privateKey []byte) ([]byte, error) {
	var key ed25519.PrivateKey
	switch len(privateKey) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(privateKey)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(privateKey)
	default:
		return nil, ErrInvalidPrivateKey
	}
	return ed25519.Sign(key, payload), nil
}

// Verify reports whether signature is a valid signature of payload by publicKey.
// Malformed keys or signatures yield false.
func Verify(payload, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature)
}

// MarshalPublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" PEM block.
func MarshalPublicKeyPEM(publicKey ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("signing: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})), nil
}

// ParsePublicKeyPEM decodes a PEM block produced by MarshalPublicKeyPEM.
func ParsePublicKeyPEM(encoded string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != pemTypePublicKey {
		return nil, ErrInvalidPublicKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey
	}
	return key, nil
}
