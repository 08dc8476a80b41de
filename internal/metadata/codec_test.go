package metadata

import (
	"encoding/base64"
	"testing"

	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func TestRoundTrip_FileMetadata(t *testing.T) {
	key := testKey(t)
	in := model.FileMetadata{Name: "report final.pdf", Size: 1 << 30, Type: "application/pdf"}

	enc, err := Encrypt(in, key)
	require.NoError(t, err)
	assert.NotContains(t, enc, "report")

	out, err := Decrypt[model.FileMetadata](enc, key)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncrypt_WireFormat(t *testing.T) {
	key := testKey(t)
	enc, err := Encrypt(model.FolderMetadata{Name: "docs"}, key)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	assert.Len(t, raw, len(`{"name":"docs"}`)+crypto.Overhead)
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc, err := Encrypt(model.FolderMetadata{Name: "docs"}, testKey(t))
	require.NoError(t, err)

	_, err = Decrypt[model.FolderMetadata](enc, testKey(t))
	assert.ErrorIs(t, err, ErrDecryption)
	assert.ErrorIs(t, err, crypto.ErrAuthentication)
}

func TestDecrypt_Malformed(t *testing.T) {
	key := testKey(t)

	_, err := Decrypt[model.FolderMetadata]("%%% not base64", key)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = Decrypt[model.FolderMetadata](base64.StdEncoding.EncodeToString([]byte("short")), key)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_NotJSON(t *testing.T) {
	key := testKey(t)
	enc, err := EncryptString("plain words", key)
	require.NoError(t, err)

	_, err = Decrypt[model.FolderMetadata](enc, key)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestStringRoundTrip(t *testing.T) {
	key := testKey(t)
	uri := "data:image/png;base64,iVBORw0KGgo="

	enc, err := EncryptString(uri, key)
	require.NoError(t, err)
	got, err := DecryptString(enc, key)
	require.NoError(t, err)
	assert.Equal(t, uri, got)

	_, err = DecryptString(enc, testKey(t))
	assert.ErrorIs(t, err, ErrDecryption)
}
