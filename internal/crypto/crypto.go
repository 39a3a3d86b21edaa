// Package crypto encrypts user content at rest with AES-256-GCM under a
// per-user key derived from one master key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// prefix marks ciphertext so rows written before encryption was enabled still
// read back as plaintext.
const prefix = "enc:v1:"

const hkdfInfo = "companion-user-content"

// Encryptor protects per-user strings.
type Encryptor interface {
	Encrypt(userID, plaintext string) (string, error)
	Decrypt(userID, stored string) (string, error)
}

// Noop stores content as given.
type Noop struct{}

func (Noop) Encrypt(_ string, plaintext string) (string, error) { return plaintext, nil }
func (Noop) Decrypt(_ string, stored string) (string, error)    { return stored, nil }

// AESGCM implements Encryptor with HKDF-SHA256 derived user keys.
type AESGCM struct {
	masterKey []byte
}

// NewAESGCM requires a 32-byte master key.
func NewAESGCM(masterKey []byte) (*AESGCM, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	k := make([]byte, 32)
	copy(k, masterKey)
	return &AESGCM{masterKey: k}, nil
}

func (e *AESGCM) gcm(userID string) (cipher.AEAD, error) {
	if userID == "" {
		return nil, errors.New("user ID is required for key derivation")
	}
	userKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, e.masterKey, []byte(userID), []byte(hkdfInfo)), userKey); err != nil {
		return nil, fmt.Errorf("derive user key: %w", err)
	}
	block, err := aes.NewCipher(userKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (e *AESGCM) Encrypt(userID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := e.gcm(userID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(userID))
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AESGCM) Decrypt(userID, stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := e.gcm(userID)
	if err != nil {
		return "", err
	}
	ns := aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("ciphertext too short")
	}
	pt, err := aead.Open(nil, raw[:ns], raw[ns:], []byte(userID))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(pt), nil
}
