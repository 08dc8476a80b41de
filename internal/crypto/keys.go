package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// SaltSize is the size of the per-account password salt.
const SaltSize = 16

// scrypt work factor for password keys.
const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// WrappedKey pairs a freshly generated key with its wrapped form.
type WrappedKey struct {
	PlainTextKey []byte
	WrappedKey   []byte
}

// DeriveKey turns a password into a 32-byte key. The same password and salt
// always produce the same key.
func DeriveKey(password, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size %d", len(salt))
	}
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

// GenerateKey returns KeySize random bytes.
func GenerateKey() ([]byte, error) {
	return randomBytes(KeySize)
}

// GenerateWrappedKey creates a random key and wraps it under wrappingKey.
func GenerateWrappedKey(wrappingKey []byte) (WrappedKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return WrappedKey{}, err
	}
	wrapped, err := WrapKey(key, wrappingKey)
	if err != nil {
		return WrappedKey{}, err
	}
	return WrappedKey{PlainTextKey: key, WrappedKey: wrapped}, nil
}

// WrapKey encrypts plainTextKey under wrappingKey.
func WrapKey(plainTextKey, wrappingKey []byte) ([]byte, error) {
	return Encrypt(plainTextKey, wrappingKey)
}

// UnwrapKey recovers a key wrapped by WrapKey. A wrong wrapping key yields
// ErrAuthentication.
func UnwrapKey(wrappedKey, wrappingKey []byte) ([]byte, error) {
	return Decrypt(wrappedKey, wrappingKey)
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
