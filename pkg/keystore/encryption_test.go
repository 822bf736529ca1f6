package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stars-network/frost-wallet-go/pkg/config"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"wallet_id":"w1","secret":"share material"}`)
	password := "correct horse battery staple"

	blob, err := Encrypt(plaintext, password, config.MinPBKDF2Iterations)
	require.NoError(t, err)
	assert.Greater(t, len(blob), minBlobLen+len(plaintext))

	decrypted, err := Decrypt(blob, password, config.MinPBKDF2Iterations)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), "password-one", config.MinPBKDF2Iterations)
	require.NoError(t, err)

	_, err = Decrypt(blob, "password-two", config.MinPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDecryptShortBlobIsCorrupted(t *testing.T) {
	_, err := Decrypt(make([]byte, minBlobLen-1), "pw", config.MinPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = Decrypt(nil, "pw", config.MinPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), "pw", config.MinPBKDF2Iterations)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0x01
	_, err = Decrypt(blob, "pw", config.MinPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDecryptLegacyArgon2idBlob(t *testing.T) {
	plaintext := []byte("legacy wallet record")
	password := "old cli password"

	blob, err := encryptLegacyArgon2id(plaintext, password)
	require.NoError(t, err)

	decrypted, err := Decrypt(blob, password, config.DefaultPBKDF2Iterations)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	_, err = Decrypt(blob, "wrong password", config.DefaultPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDecryptBrowserCompatIterationCount(t *testing.T) {
	// Blobs written at the standard browser-extension count must open
	// even when this node is configured with a different count.
	plaintext := []byte("extension wallet record")
	password := "shared password"

	blob, err := Encrypt(plaintext, password, legacyPBKDF2Iterations)
	require.NoError(t, err)

	decrypted, err := Decrypt(blob, password, config.DefaultPBKDF2Iterations)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesFreshSaltAndNonce(t *testing.T) {
	blobA, err := Encrypt([]byte("same plaintext"), "pw", config.MinPBKDF2Iterations)
	require.NoError(t, err)
	blobB, err := Encrypt([]byte("same plaintext"), "pw", config.MinPBKDF2Iterations)
	require.NoError(t, err)

	assert.NotEqual(t, blobA[:saltLen], blobB[:saltLen])
	assert.NotEqual(t, blobA[saltLen:minBlobLen], blobB[saltLen:minBlobLen])
}
