package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

// MinSecretSize is the minimum length of a decoded license secret
const MinSecretSize = 32

// HKDF info labels for the two derived keys
const (
	encryptionKeyInfo = "macrotool/license/v1/fernet"
	signingKeyInfo    = "macrotool/license/v1/hmac"
)

// KeySet holds the keys derived from the license secret
type KeySet struct {
	Encryption *fernet.Key
	Signing    []byte
}

// DeriveKeySet expands a shared secret into independent encryption and
// signing keys with HKDF-SHA256.
func DeriveKeySet(secret []byte) (*KeySet, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("license secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}

	var encKey fernet.Key
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(encryptionKeyInfo)), encKey[:]); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	signing := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo)), signing); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &KeySet{Encryption: &encKey, Signing: signing}, nil
}

// NewKeySet builds a key set from an explicit fernet key (standard
// url-safe base64 form) and HMAC secret, for licenses minted by tools that
// keep the two keys separately.
func NewKeySet(fernetKey string, hmacSecret []byte) (*KeySet, error) {
	k, err := fernet.DecodeKey(strings.TrimSpace(fernetKey))
	if err != nil {
		return nil, fmt.Errorf("invalid fernet key: %w", err)
	}
	if len(hmacSecret) == 0 {
		return nil, errors.New("hmac secret cannot be empty")
	}
	signing := make([]byte, len(hmacSecret))
	copy(signing, hmacSecret)
	return &KeySet{Encryption: k, Signing: signing}, nil
}

// ParseSecret decodes a url-safe base64 secret, with or without padding
func ParseSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("license secret is empty")
	}

	secret, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		secret, err = base64.RawURLEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("license secret is not url-safe base64: %w", err)
	}
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("license secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}
	return secret, nil
}

// GenerateSecret returns a new random secret in the form ParseSecret accepts
func GenerateSecret() (string, error) {
	secret := make([]byte, MinSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(secret), nil
}

// Clear zeroes both keys
func (ks *KeySet) Clear() {
	if ks == nil {
		return
	}
	for i := range ks.Signing {
		ks.Signing[i] = 0
	}
	if ks.Encryption != nil {
		for i := range ks.Encryption {
			ks.Encryption[i] = 0
		}
	}
}
