package prefs

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

// ErrDecrypt is returned when a stored value cannot be decoded with the
// configured key.
var ErrDecrypt = errors.New("decrypt stored value")

// Codec turns values into the strings kept in the store.
type Codec interface {
	Encode(plain []byte) (string, error)
	Decode(stored string) ([]byte, error)
}

// Plain stores values as they are.
type Plain struct{}

func (Plain) Encode(p []byte) (string, error) { return string(p), nil }
func (Plain) Decode(s string) ([]byte, error) { return []byte(s), nil }

// Base64 is the reversible encoding used in development mode. It only keeps
// values from being read at a glance.
type Base64 struct{}

func (Base64) Encode(p []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(p), nil
}

func (Base64) Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return b, nil
}

const hkdfInfo = "docdash prefs v1"

// AESGCM encrypts values with a key derived from a secret.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM derives a 256-bit key from secret with HKDF-SHA256.
func NewAESGCM(secret string) (*AESGCM, error) {
	if secret == "" {
		return nil, errors.New("encryption key is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// Encode seals p under a fresh nonce; the nonce is prepended to the output.
func (c *AESGCM) Encode(p []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, p, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESGCM) Decode(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return nil, fmt.Errorf("%w: value too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// SelectCodec picks the codec for a configuration: AES-GCM when a key is
// set, base64 otherwise.
func SelectCodec(secret string) (Codec, error) {
	if secret != "" {
		return NewAESGCM(secret)
	}
	return Base64{}, nil
}
