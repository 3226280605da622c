package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	plaintext := []byte("ed25519 seed material")

	encoded, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	decrypted, err := Decrypt(encoded, key)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected decrypted plaintext to match original, got %s", decrypted)
	}
}

func TestDecryptRejectsMismatchedAdditionalData(t *testing.T) {
	key := bytes.Repeat([]byte{0x2}, 32)

	encoded, err := EncryptWithAAD([]byte("secret"), key, []byte("org-a|kid-1"))
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	if _, err := DecryptWithAAD(encoded, key, []byte("org-b|kid-1")); err == nil {
		t.Fatal("expected decryption with foreign additional data to fail")
	}

	plain, err := DecryptWithAAD(encoded, key, []byte("org-a|kid-1"))
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestDecryptShortPayload(t *testing.T) {
	key := bytes.Repeat([]byte{0x3}, 32)
	if _, err := Decrypt("AAEC", key); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}
}
