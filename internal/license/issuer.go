package license

import (
	"errors"
	"fmt"
	"time"

	"macrotool/internal/security"
)

// Issuer produces license tokens. It holds the same keys as the validator
// shipped to customers.
type Issuer struct {
	codec      *security.TokenCodec
	signingKey []byte
}

// NewIssuer creates an issuer for keys
func NewIssuer(keys *security.KeySet) (*Issuer, error) {
	if keys == nil || keys.Encryption == nil || len(keys.Signing) == 0 {
		return nil, errors.New("license keys are required")
	}

	codec, err := security.NewTokenCodec(0, keys.Encryption)
	if err != nil {
		return nil, err
	}
	return &Issuer{codec: codec, signingKey: keys.Signing}, nil
}

// Issue signs a record binding machineID to expiry and returns it together
// with its encrypted token
func (i *Issuer) Issue(machineID string, expiry time.Time) (*Record, []byte, error) {
	rec, err := NewRecord(machineID, expiry)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid license record: %w", err)
	}
	rec.Sign(i.signingKey)

	payload, err := rec.Encode()
	if err != nil {
		return nil, nil, err
	}

	token, err := i.codec.Seal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt license: %w", err)
	}
	return rec, token, nil
}

// IssueFile issues a license and writes it to path
func (i *Issuer) IssueFile(path, machineID string, expiry time.Time) (*Record, error) {
	rec, token, err := i.Issue(machineID, expiry)
	if err != nil {
		return nil, err
	}
	if err := WriteLicenseFile(path, token); err != nil {
		return nil, err
	}
	return rec, nil
}
