package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	k, err := GenerateKey()
	require.NoError(t, err)
	return k
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := mustKey(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hello")},
		{"binary", bytes.Repeat([]byte{0x00, 0xff, 0x10}, 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := Encrypt(tt.plaintext, key)
			require.NoError(t, err)
			assert.Len(t, ct, len(tt.plaintext)+Overhead)

			pt, err := Decrypt(ct, key)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.plaintext, pt))
		})
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	key := mustKey(t)
	a, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestDecrypt_WrongKey(t *testing.T) {
	ct, err := Encrypt([]byte("secret"), mustKey(t))
	require.NoError(t, err)

	_, err = Decrypt(ct, mustKey(t))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_Tampered(t *testing.T) {
	key := mustKey(t)
	ct, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = Decrypt(ct, key)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_Truncated(t *testing.T) {
	_, err := Decrypt(make([]byte, Overhead-1), mustKey(t))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestEncrypt_InvalidKeySize(t *testing.T) {
	_, err := Encrypt([]byte("x"), make([]byte, 16))
	assert.Error(t, err)
}
