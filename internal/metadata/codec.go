// Package metadata encrypts the small JSON records (folder and file names,
// thumbnails) that are stored next to the tree structure.
package metadata

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jun/gophvault/internal/crypto"
)

// ErrDecryption means stored metadata could not be authenticated under the
// given key. It is never retried.
var ErrDecryption = errors.New("metadata decryption failed")

// Encrypt serializes v as JSON, seals it under key and returns base64 text.
func Encrypt[T any](v T, key []byte) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	sealed, err := crypto.Encrypt(plain, key)
	if err != nil {
		return "", fmt.Errorf("encrypt metadata: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt[T any](encoded string, key []byte) (T, error) {
	var out T

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	plain, err := crypto.Decrypt(sealed, key)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if err := json.Unmarshal(plain, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return out, nil
}

// EncryptString seals a raw string, such as a thumbnail data URI.
func EncryptString(s string, key []byte) (string, error) {
	sealed, err := crypto.Encrypt([]byte(s), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	plain, err := crypto.Decrypt(sealed, key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return string(plain), nil
}
