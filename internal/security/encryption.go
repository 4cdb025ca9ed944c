package security

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

var (
	// ErrMalformedToken is returned when a token is not canonical base64url text
	ErrMalformedToken = errors.New("malformed token encoding")
	// ErrTokenRejected is returned when fernet verification or decryption fails
	ErrTokenRejected = errors.New("token rejected")
)

// tokenEncoding is the alphabet fernet tokens are written in
var tokenEncoding = base64.URLEncoding

// maxClockSkew is how far in the future a token timestamp may lie when a
// max age is enforced. Same allowance as fernet-go.
const maxClockSkew = 60 * time.Second

// TokenCodec seals and opens Fernet tokens (version 0x80, AES-128-CBC with
// an HMAC-SHA256 tag over version, timestamp, IV and ciphertext).
type TokenCodec struct {
	keys   []*fernet.Key
	maxAge time.Duration
}

// NewTokenCodec creates a codec. The first key is used for sealing; all keys
// are tried when opening. A maxAge of zero disables the freshness check.
func NewTokenCodec(maxAge time.Duration, keys ...*fernet.Key) (*TokenCodec, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one fernet key is required")
	}
	for i, k := range keys {
		if k == nil {
			return nil, fmt.Errorf("fernet key %d is nil", i)
		}
	}
	if maxAge < 0 {
		return nil, fmt.Errorf("max token age must not be negative: %s", maxAge)
	}
	return &TokenCodec{keys: keys, maxAge: maxAge}, nil
}

// Seal encrypts and authenticates plaintext, returning base64url token text
func (c *TokenCodec) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	tok, err := fernet.EncryptAndSign(plaintext, c.keys[0])
	if err != nil {
		return nil, fmt.Errorf("failed to seal token: %w", err)
	}
	return tok, nil
}

// Open verifies and decrypts token text against the wall clock
func (c *TokenCodec) Open(token []byte) ([]byte, error) {
	return c.OpenAt(token, time.Now())
}

// OpenAt verifies and decrypts token text, measuring the max age from now.
// Leading and trailing whitespace is ignored; anything else that is not the
// canonical encoding of the token bytes is rejected before the cryptographic
// check runs.
func (c *TokenCodec) OpenAt(token []byte, now time.Time) ([]byte, error) {
	text := strings.TrimSpace(string(token))
	if text == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	raw, err := tokenEncoding.Strict().DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if tokenEncoding.EncodeToString(raw) != text {
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrMalformedToken)
	}

	// fernet-go only checks the ttl against its own time.Now, so the age is
	// checked here once the token is authenticated.
	msg := fernet.VerifyAndDecrypt([]byte(text), 0, c.keys)
	if msg == nil {
		return nil, ErrTokenRejected
	}
	if c.maxAge > 0 {
		// version byte, then a big-endian unix timestamp
		issued := time.Unix(int64(binary.BigEndian.Uint64(raw[1:9])), 0)
		if now.After(issued.Add(c.maxAge)) {
			return nil, fmt.Errorf("%w: sealed %s, older than %s", ErrTokenRejected, issued.UTC().Format(time.RFC3339), c.maxAge)
		}
		if issued.After(now.Add(maxClockSkew)) {
			return nil, fmt.Errorf("%w: sealed in the future at %s", ErrTokenRejected, issued.UTC().Format(time.RFC3339))
		}
	}
	return msg, nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
