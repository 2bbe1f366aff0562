package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey = errors.New("cryptox: empty encryption key")
	ErrDecrypt    = errors.New("cryptox: decryption failed")
)

// hkdfInfo binds derived keys to this use so the same secret never yields
// the same AES key in another context.
const hkdfInfo = "sentinel/ticket/v1"

// Encrypt seals text with AES-256-GCM under a key derived from the key
// string via HKDF-SHA256 and a random per-message salt.
//
// Output layout (base64url, no padding):
// [16-byte salt][12-byte nonce][ciphertext][16-byte auth tag]
func Encrypt(text, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}

	gcm, err := newGCM(key, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(text)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(text), salt)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt. A wrong key, a truncated value
// or any tampering yields ErrDecrypt.
func Decrypt(ciphertext, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}
	if len(raw) < saltLength {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	salt := raw[:saltLength]
	gcm, err := newGCM(key, salt)
	if err != nil {
		return "", err
	}

	rest := raw[saltLength:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plain), nil
}

func newGCM(key string, salt []byte) (cipher.AEAD, error) {
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), salt, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("cryptox: failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}
	return gcm, nil
}
