package vault

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/kodianteach/atlas-platform-sub001/pkg/crypto"
)

var fastParams = crypto.Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}

func newTestCrypto(t *testing.T, opts ...Option) *Crypto {
	t.Helper()
	opts = append([]Option{WithArgon2Parameters(fastParams)}, opts...)
	c, err := NewCrypto([]byte("atlas-master-key"), opts...)
	if err != nil {
		t.Fatalf("construct vault crypto: %v", err)
	}
	return c
}

func TestNewCryptoDerivesKey(t *testing.T) {
	c := newTestCrypto(t)
	if len(c.key) != 32 {
		t.Fatalf("expected derived key length 32, got %d", len(c.key))
	}
	if !bytes.Equal(deriveSalt([]byte("atlas-master-key")), c.salt) {
		t.Fatal("expected salt derived from master key")
	}
	if c.Parameters() != fastParams {
		t.Fatalf("unexpected parameters %+v", c.Parameters())
	}
}

func TestNewCryptoValidation(t *testing.T) {
	if _, err := NewCrypto(nil); err == nil {
		t.Fatal("expected error for empty master key")
	}
	if _, err := NewCrypto([]byte("k"), WithSalt([]byte("short"))); err == nil {
		t.Fatal("expected error for short salt")
	}
}

func TestCryptoRoundTripWithBinding(t *testing.T) {
	c := newTestCrypto(t)
	seed := bytes.Repeat([]byte{0x42}, 32)

	sealed, err := c.Encrypt(seed, "org-1", "kid-1")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	opened, err := c.Decrypt(sealed, "org-1", "kid-1")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(seed, opened) {
		t.Fatal("expected decrypted seed to match original")
	}

	if _, err := c.Decrypt(sealed, "org-2", "kid-1"); err == nil {
		t.Fatal("expected decrypt to fail when the key row is moved to another tenant")
	}
}

func TestCryptoTamperingDetected(t *testing.T) {
	c := newTestCrypto(t)

	sealed, err := c.Encrypt([]byte("private key"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	raw[len(raw)-1] ^= 0x01

	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Fatal("expected decrypt to fail for tampered ciphertext")
	}
}

func TestCustomSaltChangesKey(t *testing.T) {
	a := newTestCrypto(t)
	b := newTestCrypto(t, WithSalt(bytes.Repeat([]byte{0x09}, 16)))

	sealed, err := a.Encrypt([]byte("x"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.Decrypt(sealed); err == nil {
		t.Fatal("expected a differently salted key to be unable to decrypt")
	}
}
