package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const passwordSaltLen = 16

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// TestArgon2idParams is a cheap profile for tests and local development.
func TestArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   1024,
		Parallelism: 1,
		KeyLen:      32,
	}
}

// PasswordHash is the stored form of an account password.
type PasswordHash struct {
	Params Argon2idParams `json:"params"`
	Salt   []byte         `json:"salt"`
	Key    []byte         `json:"key"`
}

func ValidateArgon2idParams(p Argon2idParams) error {
	if p.Time == 0 {
		return fmt.Errorf("argon2id time must be at least 1")
	}
	if p.MemoryKiB < 1024 {
		return fmt.Errorf("argon2id memory must be at least 1024 KiB")
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	if p.KeyLen != 32 {
		return fmt.Errorf("argon2id key length must be 32 bytes")
	}
	return nil
}

// HashPassword derives an argon2id key from the normalized password under a
// fresh random salt.
func HashPassword(password string, params Argon2idParams) (PasswordHash, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return PasswordHash{}, err
	}
	salt, err := RandomBytes(passwordSaltLen)
	if err != nil {
		return PasswordHash{}, err
	}
	key := argon2.IDKey([]byte(NormalizeCredential(password)), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return PasswordHash{Params: params, Salt: salt, Key: key}, nil
}

// VerifyPassword reports whether password matches h in constant time.
func VerifyPassword(password string, h PasswordHash) (bool, error) {
	if err := ValidateArgon2idParams(h.Params); err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(NormalizeCredential(password)), h.Salt, h.Params.Time, h.Params.MemoryKiB, h.Params.Parallelism, h.Params.KeyLen)
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, h.Key) == 1, nil
}
