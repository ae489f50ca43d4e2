package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// NonceSize is the AES-GCM nonce length prepended to every ciphertext blob.
const NonceSize = 12

// ErrDecryption is returned for any blob that cannot be authenticated and
// decoded: bad base64, truncated payload, tag mismatch, or non-UTF-8
// plaintext. Callers treat it as "token invalid", never as a fatal error.
var ErrDecryption = errors.New("token decryption failed")

// DeriveKey derives the AES-256 key from the configured server secret.
// Deterministic, so the secret itself is the only state to manage.
func DeriveKey(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns nonce||ciphertext||tag as unpadded base64url.
func Encrypt(key [32]byte, plaintext string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	payload := make([]byte, 0, NonceSize+len(sealed))
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. Any failure collapses into ErrDecryption so the
// caller cannot distinguish tampering from corruption.
func Decrypt(key [32]byte, blob string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryption
	}
	if len(decoded) < NonceSize {
		return "", ErrDecryption
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce, ciphertext := decoded[:NonceSize], decoded[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryption
	}
	if !utf8.Valid(plaintext) {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}

func newAEAD(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return aead, nil
}
