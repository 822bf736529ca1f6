package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Encryption parameters. A blob is salt || nonce || ciphertext+tag,
// produced by AES-256-GCM with a password-derived key.
const (
	saltLen  = 16
	nonceLen = 12
	keyLen   = 32
	tagLen   = 16

	// minBlobLen is the shortest structurally valid blob
	minBlobLen = saltLen + nonceLen
)

// legacyPBKDF2Iterations is the iteration count used by the browser
// extension encoding; accepted on decrypt alongside the configured count.
const legacyPBKDF2Iterations = 100_000

// Legacy Argon2id parameters kept for blobs written by older CLI builds
const (
	argon2Memory  = 4096
	argon2Time    = 3
	argon2Threads = 1
)

// deriveKeyPBKDF2 derives the AES key with PBKDF2-HMAC-SHA256
func deriveKeyPBKDF2(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
}

// deriveKeyArgon2id derives the AES key with the legacy Argon2id scheme,
// which salts over the unpadded base64 form of the raw salt.
func deriveKeyArgon2id(password string, salt []byte) []byte {
	encoded := base64.RawStdEncoding.EncodeToString(salt)
	return argon2.IDKey([]byte(password), []byte(encoded), argon2Time, argon2Memory, argon2Threads, keyLen)
}

// Encrypt seals plaintext under a password-derived key. The output is
// salt(16) || nonce(12) || ciphertext || tag(16).
func Encrypt(plaintext []byte, password string, iterations int) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(deriveKeyPBKDF2(password, salt, iterations))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, minBlobLen+len(plaintext)+tagLen)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt or by a legacy writer. It
// tries PBKDF2 with the configured iteration count, then the standard
// browser-compatible count, then the legacy Argon2id derivation. A blob
// too short to hold the header is Corrupted; an authentication failure
// under every derivation is InvalidPassword.
func Decrypt(blob []byte, password string, iterations int) ([]byte, error) {
	if len(blob) < minBlobLen {
		return nil, ErrCorrupted
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen:minBlobLen]
	ciphertext := blob[minBlobLen:]

	keys := [][]byte{deriveKeyPBKDF2(password, salt, iterations)}
	if iterations != legacyPBKDF2Iterations {
		keys = append(keys, deriveKeyPBKDF2(password, salt, legacyPBKDF2Iterations))
	}
	keys = append(keys, deriveKeyArgon2id(password, salt))

	for _, key := range keys {
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrInvalidPassword
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return gcm, nil
}

// encryptLegacyArgon2id seals plaintext under the legacy Argon2id
// derivation. Kept for fixture generation and migration testing; new
// blobs are always written with PBKDF2.
func encryptLegacyArgon2id(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(deriveKeyArgon2id(password, salt))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, minBlobLen+len(plaintext)+tagLen)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}
