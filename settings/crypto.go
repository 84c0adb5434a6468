package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// sealedPrefix marks a config value stored encrypted.
const sealedPrefix = "enc:"

// Sealer encrypts secret config values at rest with AES-256-GCM.
type Sealer struct {
	key []byte
}

// NewSealer derives a 32-byte AES-256 key from secret. An empty secret
// returns nil, which leaves values in plaintext.
func NewSealer(secret string) *Sealer {
	if secret == "" {
		return nil
	}
	h := sha256.Sum256([]byte(secret))
	return &Sealer{key: h[:]}
}

// IsSealed reports whether a stored value carries the encryption prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// Seal encrypts plaintext. The nonce is prepended to the ciphertext and
// the result is base64-encoded behind the enc: prefix.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if s == nil {
		return "", errors.New("sealed value but no SETTINGS_SECRET configured")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", err
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
