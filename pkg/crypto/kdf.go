package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	errEmptySecret = errors.New("argon2: secret is required")
	errShortSalt   = errors.New("argon2: salt must be at least 16 bytes")
)

// Argon2Parameters are the Argon2id cost factors used to derive the key-at-rest
// encryption key from the configured master secret.
type Argon2Parameters struct {
	Time      uint32 // iterations
	Memory    uint32 // KiB
	Threads   uint8
	KeyLength uint32 // bytes; must be a valid AES key size
}

// DefaultArgon2Params returns the cost factors used when the configuration leaves them unset.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{Time: 2, Memory: 64 * 1024, Threads: 4, KeyLength: 32}
}

// Validate rejects parameters argon2 or AES would not accept.
func (p Argon2Parameters) Validate() error {
	switch {
	case p.Time == 0:
		return fmt.Errorf("argon2: time cost must be greater than zero")
	case p.Threads == 0:
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	switch p.KeyLength {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("argon2: key length must be 16, 24, or 32 bytes (got %d)", p.KeyLength)
	}
}

// DeriveKeyArgon2id derives a symmetric key from secret and salt.
func DeriveKeyArgon2id(secret, salt []byte, params Argon2Parameters) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errEmptySecret
	}
	if len(salt) < 16 {
		return nil, errShortSalt
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, params.KeyLength), nil
}
