// Package crypto holds the envelope cipher, password key derivation and key
// wrapping used for everything the vault stores remotely, plus the token
// encryptors used for OAuth refresh tokens at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the size of every symmetric key in the hierarchy.
	KeySize = 32
	// NonceSize is the AES-GCM nonce prefixed to every ciphertext.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag appended by Seal.
	TagSize = 16
	// Overhead is the fixed expansion of Encrypt: nonce plus tag.
	Overhead = NonceSize + TagSize
)

// ErrAuthentication is returned when a ciphertext does not verify under the
// given key. A wrong key and a tampered ciphertext are indistinguishable.
var ErrAuthentication = errors.New("authentication failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh random nonce and returns
// nonce || ciphertext || tag. No associated data is bound.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt. Any verification failure,
// including truncated input, yields ErrAuthentication.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < Overhead {
		return nil, ErrAuthentication
	}

	plaintext, err := aead.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
