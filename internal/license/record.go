package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"macrotool/internal/security"
)

// DateLayout is the wire format of the expiry field
const DateLayout = "2006-01-02"

const fieldSeparator = "|"

// Record is the decrypted content of a license file
type Record struct {
	IssuedTo  string    `json:"issued_to"`
	Expiry    time.Time `json:"expiry"`
	Signature string    `json:"signature"`
}

// NewRecord builds an unsigned record. The expiry is truncated to its
// calendar date.
func NewRecord(issuedTo string, expiry time.Time) (*Record, error) {
	rec := &Record{IssuedTo: strings.TrimSpace(issuedTo), Expiry: dateOf(expiry)}
	if err := rec.validateFields(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Record) validateFields() error {
	if r.IssuedTo == "" {
		return errors.New("issued_to cannot be empty")
	}
	if strings.Contains(r.IssuedTo, fieldSeparator) {
		return fmt.Errorf("issued_to cannot contain %q", fieldSeparator)
	}
	if r.Expiry.IsZero() {
		return errors.New("expiry cannot be zero")
	}
	return nil
}

// SignedFields returns the canonical bytes covered by the signature
func (r *Record) SignedFields() []byte {
	return []byte(r.IssuedTo + fieldSeparator + r.Expiry.Format(DateLayout))
}

// Sign sets the signature to the hex HMAC-SHA256 of the signed fields
func (r *Record) Sign(key []byte) {
	r.Signature = computeSignature(r.SignedFields(), key)
}

// VerifySignature recomputes the signature and compares in constant time
func (r *Record) VerifySignature(key []byte) bool {
	expected := computeSignature(r.SignedFields(), key)
	return security.SecureCompare([]byte(expected), []byte(r.Signature))
}

func computeSignature(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Encode renders the record as issued_to|YYYY-MM-DD|signature
func (r *Record) Encode() ([]byte, error) {
	if err := r.validateFields(); err != nil {
		return nil, err
	}
	if r.Signature == "" {
		return nil, errors.New("record is not signed")
	}
	return []byte(string(r.SignedFields()) + fieldSeparator + r.Signature), nil
}

// ParseRecord parses a decrypted payload
func ParseRecord(data []byte) (*Record, error) {
	parts := strings.Split(string(data), fieldSeparator)
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}

	expiry, err := time.Parse(DateLayout, parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid expiry date: %w", err)
	}

	rec := &Record{IssuedTo: parts[0], Expiry: expiry, Signature: parts[2]}
	if err := rec.validateFields(); err != nil {
		return nil, err
	}
	if rec.Signature == "" {
		return nil, errors.New("signature cannot be empty")
	}
	return rec, nil
}

// ExpiredOn reports whether the record has expired at now. The record stays
// valid through the whole expiry date in now's location.
func (r *Record) ExpiredOn(now time.Time) bool {
	return dateOf(now).After(r.Expiry)
}

// DaysRemaining returns the number of days between now's date and the
// expiry date; zero on the expiry date itself, negative once expired.
func (r *Record) DaysRemaining(now time.Time) int {
	return int(r.Expiry.Sub(dateOf(now)).Hours() / 24)
}

// dateOf returns midnight UTC of t's calendar date in t's own location
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
