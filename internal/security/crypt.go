package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidKey         = errors.New("security: key must decode to 32 bytes")
	ErrCiphertextTooShort = errors.New("security: ciphertext too short")
)

func LoadKeyFromBase64(b64 string) ([]byte, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(k) != 32 {
		return nil, ErrInvalidKey
	}
	return k, nil
}

// Box seals values with AES-256-GCM. The associated data passed to Seal must be
// passed unchanged to Open, which ties a ciphertext to the record it was written for.
type Box struct {
	aead cipher.AEAD
}

func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: gcm}, nil
}

// Seal returns base64url(nonce|ciphertext)
func (b *Box) Seal(plaintext []byte, aad string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := b.aead.Seal(nonce, nonce, plaintext, []byte(aad))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (b *Box) Open(sealed, aad string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}

	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrCiphertextTooShort
	}
	pt, err := b.aead.Open(nil, raw[:ns], raw[ns:], []byte(aad))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return pt, nil
}

// SealJSON marshals v and seals it.
func (b *Box) SealJSON(v any, aad string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return b.Seal(raw, aad)
}

// OpenJSON opens sealed and unmarshals the plaintext into v.
func (b *Box) OpenJSON(sealed, aad string, v any) error {
	raw, err := b.Open(sealed, aad)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
